package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Rows exist
// only while a position is open.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, agent_id, wallet_address, token_address, token_symbol,
	purchase_transaction_id, purchase_price::text, purchase_amount::text, total_invested_sol::text,
	dca_count, last_dca_time, dca_transaction_ids, lowest_price::text,
	current_stop_loss_percentage::text, peak_price::text, last_stop_loss_update,
	remaining_amount::text, take_profit_levels_hit, take_profit_transaction_ids,
	moon_bag_activated, moon_bag_amount::text, realized_profit_sol::text,
	tp_batch_start_level, total_take_profit_levels, version, created_at, updated_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var price, amount, invested, realized string
	var lowest, stopPct, peak, remaining, moonBag *string

	err := row.Scan(
		&p.ID, &p.AgentID, &p.WalletAddress, &p.TokenAddress, &p.TokenSymbol,
		&p.PurchaseTransactionID, &price, &amount, &invested,
		&p.DCACount, &p.LastDCATime, &p.DCATransactionIDs, &lowest,
		&stopPct, &peak, &p.LastStopLossUpdate,
		&remaining, &p.TakeProfitLevelsHit, &p.TakeProfitTransactionIDs,
		&p.MoonBagActivated, &moonBag, &realized,
		&p.TPBatchStartLevel, &p.TotalTakeProfitLevels, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}

	if p.PurchasePrice, err = parseNumeric(price); err != nil {
		return domain.Position{}, fmt.Errorf("parse purchase_price: %w", err)
	}
	if p.PurchaseAmount, err = parseNumeric(amount); err != nil {
		return domain.Position{}, fmt.Errorf("parse purchase_amount: %w", err)
	}
	if p.TotalInvested, err = parseNumeric(invested); err != nil {
		return domain.Position{}, fmt.Errorf("parse total_invested_sol: %w", err)
	}
	if p.RealizedProfit, err = parseNumeric(realized); err != nil {
		return domain.Position{}, fmt.Errorf("parse realized_profit_sol: %w", err)
	}
	if p.LowestPrice, err = parseNullNumeric(lowest); err != nil {
		return domain.Position{}, fmt.Errorf("parse lowest_price: %w", err)
	}
	if p.CurrentStopLossPct, err = parseNullNumeric(stopPct); err != nil {
		return domain.Position{}, fmt.Errorf("parse current_stop_loss_percentage: %w", err)
	}
	if p.PeakPrice, err = parseNullNumeric(peak); err != nil {
		return domain.Position{}, fmt.Errorf("parse peak_price: %w", err)
	}
	if p.RemainingAmount, err = parseNullNumeric(remaining); err != nil {
		return domain.Position{}, fmt.Errorf("parse remaining_amount: %w", err)
	}
	if p.MoonBagAmount, err = parseNullNumeric(moonBag); err != nil {
		return domain.Position{}, fmt.Errorf("parse moon_bag_amount: %w", err)
	}
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func stringsOrEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// Create inserts a new position. A second open position for the same
// (agent, wallet, token) returns domain.ErrPositionExists.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO agent_positions (
			id, agent_id, wallet_address, token_address, token_symbol,
			purchase_transaction_id, purchase_price, purchase_amount, total_invested_sol,
			dca_count, last_dca_time, dca_transaction_ids, lowest_price,
			current_stop_loss_percentage, peak_price, last_stop_loss_update,
			remaining_amount, take_profit_levels_hit, take_profit_transaction_ids,
			moon_bag_activated, moon_bag_amount, realized_profit_sol,
			tp_batch_start_level, total_take_profit_levels, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7::numeric, $8::numeric, $9::numeric,
			$10, $11, $12, $13::numeric,
			$14::numeric, $15::numeric, $16,
			$17::numeric, $18, $19,
			$20, $21::numeric, $22::numeric,
			$23, $24, $25, $26, $27
		)`

	_, err := conn(ctx, s.pool).Exec(ctx, query,
		p.ID, p.AgentID, p.WalletAddress, p.TokenAddress, p.TokenSymbol,
		p.PurchaseTransactionID, p.PurchasePrice.String(), p.PurchaseAmount.String(), p.TotalInvested.String(),
		p.DCACount, p.LastDCATime, stringsOrEmpty(p.DCATransactionIDs), numericArg(p.LowestPrice),
		numericArg(p.CurrentStopLossPct), numericArg(p.PeakPrice), p.LastStopLossUpdate,
		numericArg(p.RemainingAmount), p.TakeProfitLevelsHit, stringsOrEmpty(p.TakeProfitTransactionIDs),
		p.MoonBagActivated, numericArg(p.MoonBagAmount), p.RealizedProfit.String(),
		p.TPBatchStartLevel, p.TotalTakeProfitLevels, p.Version, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrPositionExists
		}
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields when the stored version matches
// p.Version, and bumps the version.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE agent_positions SET
			purchase_price               = $2::numeric,
			purchase_amount              = $3::numeric,
			total_invested_sol           = $4::numeric,
			dca_count                    = $5,
			last_dca_time                = $6,
			dca_transaction_ids          = $7,
			lowest_price                 = $8::numeric,
			current_stop_loss_percentage = $9::numeric,
			peak_price                   = $10::numeric,
			last_stop_loss_update        = $11,
			remaining_amount             = $12::numeric,
			take_profit_levels_hit       = $13,
			take_profit_transaction_ids  = $14,
			moon_bag_activated           = $15,
			moon_bag_amount              = $16::numeric,
			realized_profit_sol          = $17::numeric,
			tp_batch_start_level         = $18,
			total_take_profit_levels     = $19,
			updated_at                   = $20,
			version                      = version + 1
		WHERE id = $1 AND version = $21`

	tag, err := conn(ctx, s.pool).Exec(ctx, query,
		p.ID,
		p.PurchasePrice.String(), p.PurchaseAmount.String(), p.TotalInvested.String(),
		p.DCACount, p.LastDCATime, stringsOrEmpty(p.DCATransactionIDs),
		numericArg(p.LowestPrice), numericArg(p.CurrentStopLossPct), numericArg(p.PeakPrice),
		p.LastStopLossUpdate, numericArg(p.RemainingAmount), p.TakeProfitLevelsHit,
		stringsOrEmpty(p.TakeProfitTransactionIDs), p.MoonBagActivated, numericArg(p.MoonBagAmount),
		p.RealizedProfit.String(), p.TPBatchStartLevel, p.TotalTakeProfitLevels,
		p.UpdatedAt, p.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, p.ID); err != nil {
			return err
		}
		return domain.Conflictf(nil, "stale_position", "position %s changed since version %d", p.ID, p.Version)
	}
	return nil
}

// Delete removes a closed position's row.
func (s *PositionStore) Delete(ctx context.Context, id string) error {
	tag, err := conn(ctx, s.pool).Exec(ctx, `DELETE FROM agent_positions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	return s.getOne(ctx, `SELECT `+positionSelectCols+` FROM agent_positions WHERE id = $1`, id)
}

// GetForUpdate is GetByID holding the row lock for the surrounding
// transaction.
func (s *PositionStore) GetForUpdate(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM agent_positions WHERE id = $1`
	if inTx(ctx) {
		query += ` FOR UPDATE`
	}
	return s.getOne(ctx, query, id)
}

// GetByAgentWalletToken returns the open position of an agent wallet in a
// token.
func (s *PositionStore) GetByAgentWalletToken(ctx context.Context, agentID, wallet, token string) (domain.Position, error) {
	return s.getOne(ctx,
		`SELECT `+positionSelectCols+` FROM agent_positions
		 WHERE agent_id = $1 AND wallet_address = $2 AND token_address = $3`,
		agentID, wallet, token)
}

func (s *PositionStore) getOne(ctx context.Context, query string, args ...any) (domain.Position, error) {
	p, err := scanPositionRow(conn(ctx, s.pool).QueryRow(ctx, query, args...))
	if err != nil {
		if isNoRows(err) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position: %w", err)
	}
	return p, nil
}

// ListByAgent returns all open positions of an agent.
func (s *PositionStore) ListByAgent(ctx context.Context, agentID string) ([]domain.Position, error) {
	return s.list(ctx, `SELECT `+positionSelectCols+` FROM agent_positions
		WHERE agent_id = $1 ORDER BY created_at`, agentID)
}

// ListByToken returns all open positions in a token across agents.
func (s *PositionStore) ListByToken(ctx context.Context, token string) ([]domain.Position, error) {
	return s.list(ctx, `SELECT `+positionSelectCols+` FROM agent_positions
		WHERE LOWER(token_address) = LOWER($1) ORDER BY created_at`, token)
}

func (s *PositionStore) list(ctx context.Context, query string, args ...any) ([]domain.Position, error) {
	rows, err := conn(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// ListTokens returns one address per token with an open position. Addresses
// that differ only in case count as one token, reported in the spelling that
// sorts first.
func (s *PositionStore) ListTokens(ctx context.Context) ([]string, error) {
	rows, err := conn(ctx, s.pool).Query(ctx,
		`SELECT MIN(token_address) FROM agent_positions
		 GROUP BY LOWER(token_address) ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position tokens: %w", err)
	}
	defer rows.Close()

	tokens, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position tokens: %w", err)
	}
	return tokens, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
