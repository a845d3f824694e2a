package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

// TradingConfigStore implements domain.TradingConfigStore using PostgreSQL.
// The document is kept as saved (partial JSONB); merging over defaults
// happens on load.
type TradingConfigStore struct {
	pool *pgxpool.Pool
}

// NewTradingConfigStore creates a new TradingConfigStore backed by the given connection pool.
func NewTradingConfigStore(pool *pgxpool.Pool) *TradingConfigStore {
	return &TradingConfigStore{pool: pool}
}

// Get returns the stored document for agentID.
func (s *TradingConfigStore) Get(ctx context.Context, agentID string) (json.RawMessage, error) {
	var doc []byte
	err := conn(ctx, s.pool).QueryRow(ctx,
		`SELECT config_json FROM agent_trading_configs WHERE agent_id = $1`, agentID).Scan(&doc)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get trading config %s: %w", agentID, err)
	}
	return json.RawMessage(doc), nil
}

// Upsert inserts or replaces the document for agentID.
func (s *TradingConfigStore) Upsert(ctx context.Context, agentID string, doc json.RawMessage) error {
	const query = `
		INSERT INTO agent_trading_configs (agent_id, config_json, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (agent_id) DO UPDATE SET
			config_json = EXCLUDED.config_json,
			updated_at  = NOW()`

	if _, err := conn(ctx, s.pool).Exec(ctx, query, agentID, string(doc)); err != nil {
		return fmt.Errorf("postgres: upsert trading config %s: %w", agentID, err)
	}
	return nil
}

var _ domain.TradingConfigStore = (*TradingConfigStore)(nil)
