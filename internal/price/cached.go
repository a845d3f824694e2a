package price

import (
	"context"
	"errors"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

// SharedCache is a cross-process quote cache, implemented by the Redis
// PriceCache.
type SharedCache interface {
	GetPrice(ctx context.Context, token string) (domain.Price, error)
	SetPrice(ctx context.Context, p domain.Price) error
}

// Cached memoizes an oracle in process for ttl and, when shared is set,
// across processes for as long as a shared quote is younger than ttl.
// Concurrent lookups of one token share a single upstream call. Errors are
// never cached.
type Cached struct {
	next   domain.PriceOracle
	shared SharedCache
	local  *gocache.Cache
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
	now    func() time.Time
}

var _ domain.PriceOracle = (*Cached)(nil)

// NewCached wraps next. shared may be nil.
func NewCached(next domain.PriceOracle, shared SharedCache, ttl time.Duration, logger *zap.Logger) *Cached {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &Cached{
		next:   next,
		shared: shared,
		local:  gocache.New(ttl, 4*ttl),
		ttl:    ttl,
		logger: logger.With(zap.String("component", "price_cache")),
		now:    time.Now,
	}
}

// GetPrice returns a fresh enough quote for token.
func (c *Cached) GetPrice(ctx context.Context, token string) (domain.Price, error) {
	key := strings.ToLower(strings.TrimSpace(token))
	if v, ok := c.local.Get(key); ok {
		return v.(domain.Price), nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if p, ok := c.fromShared(ctx, token); ok {
			c.local.SetDefault(key, p)
			return p, nil
		}

		p, err := c.next.GetPrice(ctx, token)
		if err != nil {
			return nil, err
		}
		c.local.SetDefault(key, p)
		if c.shared != nil {
			if err := c.shared.SetPrice(ctx, p); err != nil {
				c.logger.Warn("shared price write failed", zap.String("token", token), zap.Error(err))
			}
		}
		return p, nil
	})
	if err != nil {
		return domain.Price{}, err
	}
	return v.(domain.Price), nil
}

// Forget drops the memoized quote of token from this process.
func (c *Cached) Forget(token string) {
	c.local.Delete(strings.ToLower(strings.TrimSpace(token)))
}

func (c *Cached) fromShared(ctx context.Context, token string) (domain.Price, bool) {
	if c.shared == nil {
		return domain.Price{}, false
	}
	p, err := c.shared.GetPrice(ctx, token)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.Warn("shared price read failed", zap.String("token", token), zap.Error(err))
		}
		return domain.Price{}, false
	}
	if c.now().Sub(p.AsOf) > c.ttl {
		return domain.Price{}, false
	}
	return p, true
}
