package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

// TradingConfigCache implements domain.TradingConfigCache.
//
// Key schema:
//
//	trading_config:{agentID} - JSON encoded, fully resolved domain.TradingConfig
type TradingConfigCache struct {
	rdb *redis.Client
}

// NewTradingConfigCache creates a TradingConfigCache backed by the given Client.
func NewTradingConfigCache(c *Client) *TradingConfigCache {
	return &TradingConfigCache{rdb: c.Underlying()}
}

func tradingConfigKey(agentID string) string { return "trading_config:" + agentID }

// Get returns domain.ErrNotFound on a cache miss.
func (cc *TradingConfigCache) Get(ctx context.Context, agentID string) (domain.TradingConfig, error) {
	var cfg domain.TradingConfig
	if err := getJSON(ctx, cc.rdb, tradingConfigKey(agentID), &cfg); err != nil {
		return domain.TradingConfig{}, err
	}
	return cfg, nil
}

// Set stores a resolved configuration.
func (cc *TradingConfigCache) Set(ctx context.Context, agentID string, cfg domain.TradingConfig) error {
	key := tradingConfigKey(agentID)
	data, err := marshal(key, cfg)
	if err != nil {
		return err
	}
	if err := cc.rdb.Set(ctx, key, data, tradingConfigTTL).Err(); err != nil {
		return fmt.Errorf("redis: set trading config %s: %w", agentID, err)
	}
	return nil
}

// Invalidate drops the cached configuration.
func (cc *TradingConfigCache) Invalidate(ctx context.Context, agentID string) error {
	if err := cc.rdb.Del(ctx, tradingConfigKey(agentID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate trading config %s: %w", agentID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.TradingConfigCache = (*TradingConfigCache)(nil)
