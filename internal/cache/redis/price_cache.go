package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

// PriceCache shares the latest oracle quotes between engine processes.
// Each token's quote is a hash at "price:{token}" with fields "base",
// "quote" and "ts" (Unix nanoseconds).
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache whose entries expire after ttl.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(token string) string {
	return "price:" + token
}

// SetPrice stores the latest quote for p.Token.
func (pc *PriceCache) SetPrice(ctx context.Context, p domain.Price) error {
	key := priceKey(p.Token)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"base":  p.InBase.String(),
		"quote": p.InQuote.String(),
		"ts":    strconv.FormatInt(p.AsOf.UnixNano(), 10),
	})
	if pc.ttl > 0 {
		pipe.PExpire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", p.Token, err)
	}
	return nil
}

// GetPrice returns the stored quote or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, token string) (domain.Price, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Price{}, domain.ErrNotFound
		}
		return domain.Price{}, fmt.Errorf("redis: get price %s: %w", token, err)
	}
	if len(vals) == 0 {
		return domain.Price{}, domain.ErrNotFound
	}

	base, err := decimal.NewFromString(vals["base"])
	if err != nil {
		return domain.Price{}, fmt.Errorf("redis: parse base price %s: %w", token, err)
	}
	quote, err := decimal.NewFromString(vals["quote"])
	if err != nil {
		return domain.Price{}, fmt.Errorf("redis: parse quote price %s: %w", token, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Price{}, fmt.Errorf("redis: parse ts %s: %w", token, err)
	}

	return domain.Price{Token: token, InBase: base, InQuote: quote, AsOf: time.Unix(0, tsNano)}, nil
}
