package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

// Cached rows are JSON strings. Entries carry a TTL so a missed invalidation
// heals on its own; the store stays authoritative.
const (
	balanceTTL       = 24 * time.Hour
	positionTTL      = 24 * time.Hour
	tradingConfigTTL = time.Hour
)

func getJSON(ctx context.Context, rdb redis.Cmdable, key string, dst any) error {
	data, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("redis: get %s: %w", key, err)
	}
	if err := sonic.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("redis: unmarshal %s: %w", key, err)
	}
	return nil
}

func marshal(key string, v any) ([]byte, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("redis: marshal %s: %w", key, err)
	}
	return data, nil
}
