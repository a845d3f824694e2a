package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

// PositionCache implements domain.PositionCache. The row and its index
// memberships are written in one MULTI/EXEC so a reader never sees an index
// entry without the row it points to.
//
// Key schema:
//
//	position:{id}              - JSON encoded domain.Position
//	positions:agent:{agentID}  - set of position ids
//	positions:token:{token}    - set of position ids, token lower-cased
type PositionCache struct {
	rdb *redis.Client
}

// NewPositionCache creates a PositionCache backed by the given Client.
func NewPositionCache(c *Client) *PositionCache {
	return &PositionCache{rdb: c.Underlying()}
}

func positionKey(id string) string { return "position:" + id }

func positionsByAgentKey(agentID string) string { return "positions:agent:" + agentID }

func positionsByTokenKey(token string) string {
	return "positions:token:" + strings.ToLower(token)
}

// Get returns domain.ErrNotFound on a cache miss.
func (pc *PositionCache) Get(ctx context.Context, id string) (domain.Position, error) {
	var p domain.Position
	if err := getJSON(ctx, pc.rdb, positionKey(id), &p); err != nil {
		return domain.Position{}, err
	}
	return p, nil
}

// Set stores pos and adds it to both index sets.
func (pc *PositionCache) Set(ctx context.Context, pos domain.Position) error {
	key := positionKey(pos.ID)
	data, err := marshal(key, pos)
	if err != nil {
		return err
	}

	pipe := pc.rdb.TxPipeline()
	pipe.Set(ctx, key, data, positionTTL)
	pipe.SAdd(ctx, positionsByAgentKey(pos.AgentID), pos.ID)
	pipe.SAdd(ctx, positionsByTokenKey(pos.TokenAddress), pos.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set position %s: %w", pos.ID, err)
	}
	return nil
}

// Delete removes the row and both index memberships.
func (pc *PositionCache) Delete(ctx context.Context, pos domain.Position) error {
	pipe := pc.rdb.TxPipeline()
	pipe.Del(ctx, positionKey(pos.ID))
	pipe.SRem(ctx, positionsByAgentKey(pos.AgentID), pos.ID)
	pipe.SRem(ctx, positionsByTokenKey(pos.TokenAddress), pos.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: delete position %s: %w", pos.ID, err)
	}
	return nil
}

// IDsByAgent returns the indexed position ids of an agent.
func (pc *PositionCache) IDsByAgent(ctx context.Context, agentID string) ([]string, error) {
	ids, err := pc.rdb.SMembers(ctx, positionsByAgentKey(agentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: positions by agent %s: %w", agentID, err)
	}
	return ids, nil
}

// IDsByToken returns the indexed position ids in a token, matched
// case-insensitively.
func (pc *PositionCache) IDsByToken(ctx context.Context, token string) ([]string, error) {
	ids, err := pc.rdb.SMembers(ctx, positionsByTokenKey(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: positions by token %s: %w", token, err)
	}
	return ids, nil
}

// Compile-time interface check.
var _ domain.PositionCache = (*PositionCache)(nil)
