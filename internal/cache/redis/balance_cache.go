package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

// BalanceCache implements domain.BalanceCache.
//
// Key schema:
//
//	balance:{wallet}:{token} - JSON encoded domain.Balance
type BalanceCache struct {
	rdb *redis.Client
}

// NewBalanceCache creates a BalanceCache backed by the given Client.
func NewBalanceCache(c *Client) *BalanceCache {
	return &BalanceCache{rdb: c.Underlying()}
}

func balanceKey(wallet, token string) string {
	return "balance:" + wallet + ":" + token
}

// Get returns domain.ErrNotFound on a cache miss.
func (bc *BalanceCache) Get(ctx context.Context, wallet, token string) (domain.Balance, error) {
	var b domain.Balance
	if err := getJSON(ctx, bc.rdb, balanceKey(wallet, token), &b); err != nil {
		return domain.Balance{}, err
	}
	return b, nil
}

// Set stores b.
func (bc *BalanceCache) Set(ctx context.Context, b domain.Balance) error {
	key := balanceKey(b.WalletAddress, b.TokenAddress)
	data, err := marshal(key, b)
	if err != nil {
		return err
	}
	if err := bc.rdb.Set(ctx, key, data, balanceTTL).Err(); err != nil {
		return fmt.Errorf("redis: set balance %s: %w", key, err)
	}
	return nil
}

// Invalidate drops the cached balance.
func (bc *BalanceCache) Invalidate(ctx context.Context, wallet, token string) error {
	if err := bc.rdb.Del(ctx, balanceKey(wallet, token)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate balance %s/%s: %w", wallet, token, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BalanceCache = (*BalanceCache)(nil)
