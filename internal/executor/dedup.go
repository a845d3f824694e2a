package executor

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

// Dedup suppresses a swap identical to one sent for the same wallet within
// ttl, so a retried monitor tick cannot sell or buy twice. It is safe for
// concurrent use.
type Dedup struct {
	next domain.SwapExecutor
	seen *gocache.Cache
	ttl  time.Duration
}

var _ domain.SwapExecutor = (*Dedup)(nil)

// NewDedup wraps next. Expired marks are swept by RunCleanup.
func NewDedup(next domain.SwapExecutor, ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Dedup{
		next: next,
		seen: gocache.New(ttl, 0),
		ttl:  ttl,
	}
}

func dedupKey(req domain.SwapRequest) string {
	return strings.Join([]string{
		req.AgentID,
		req.WalletAddress,
		strings.ToLower(req.InputToken),
		strings.ToLower(req.OutputToken),
		req.Amount.String(),
	}, "|")
}

// Execute forwards req unless an identical request went out within ttl. A
// failed forward clears the mark so the caller may retry.
func (d *Dedup) Execute(ctx context.Context, req domain.SwapRequest) (domain.SwapResult, error) {
	key := dedupKey(req)
	// Add fails when an unexpired mark exists.
	if err := d.seen.Add(key, struct{}{}, gocache.DefaultExpiration); err != nil {
		return domain.SwapResult{Reason: "duplicate swap suppressed"}, nil
	}

	res, err := d.next.Execute(ctx, req)
	if err != nil || !res.Success {
		d.seen.Delete(key)
	}
	return res, err
}

// Cleanup removes expired marks.
func (d *Dedup) Cleanup() {
	d.seen.DeleteExpired()
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (d *Dedup) RunCleanup(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			d.Cleanup()
		}
	}
}
