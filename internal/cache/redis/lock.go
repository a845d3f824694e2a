package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

// releaseLua deletes the lock key only if it still holds the caller's token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua resets the TTL only if the key still holds the caller's token.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager with SET NX PX and Lua
// compare-and-delete / compare-and-pexpire. The lock is advisory and expires
// with its TTL when the holder dies.
type LockManager struct {
	rdb       *redis.Client
	releaseSc *redis.Script
	extendSc  *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:       c.Underlying(),
		releaseSc: redis.NewScript(releaseLua),
		extendSc:  redis.NewScript(extendLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire tries once to take key for ttl. ok is false when someone else
// holds it; token identifies this holder for Release and Extend.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := lm.rdb.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees key if token still owns it. It reports false when the lock
// had already expired or passed to another holder.
func (lm *LockManager) Release(ctx context.Context, key, token string) (bool, error) {
	n, err := lm.releaseSc.Run(ctx, lm.rdb, []string{lockKey(key)}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: release lock %s: %w", key, err)
	}
	return n == 1, nil
}

// Extend pushes the expiry of key to ttl from now if token still owns it.
func (lm *LockManager) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := lm.extendSc.Run(ctx, lm.rdb, []string{lockKey(key)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: extend lock %s: %w", key, err)
	}
	return n == 1, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
