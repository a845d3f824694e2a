package domain

import (
	"context"
	"time"
)

// BalanceCache mirrors balance rows. Get returns ErrNotFound on a miss.
type BalanceCache interface {
	Get(ctx context.Context, wallet, token string) (Balance, error)
	Set(ctx context.Context, b Balance) error
	Invalidate(ctx context.Context, wallet, token string) error
}

// PositionCache mirrors position rows and keeps the by-agent and by-token
// index sets in step with them.
type PositionCache interface {
	Get(ctx context.Context, id string) (Position, error)
	Set(ctx context.Context, pos Position) error
	Delete(ctx context.Context, pos Position) error
	IDsByAgent(ctx context.Context, agentID string) ([]string, error)
	IDsByToken(ctx context.Context, token string) ([]string, error)
}

// TradingConfigCache holds resolved per-agent configurations.
type TradingConfigCache interface {
	Get(ctx context.Context, agentID string) (TradingConfig, error)
	Set(ctx context.Context, agentID string, cfg TradingConfig) error
	Invalidate(ctx context.Context, agentID string) error
}

// LockManager provides token-based distributed locking. Only the holder of
// the token returned by Acquire can release or extend the lock.
type LockManager interface {
	// Acquire returns ok=false when another party holds the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) (bool, error)
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
