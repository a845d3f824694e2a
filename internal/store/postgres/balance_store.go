package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

// BalanceStore implements domain.BalanceStore using PostgreSQL.
type BalanceStore struct {
	pool *pgxpool.Pool
}

// NewBalanceStore creates a new BalanceStore backed by the given connection pool.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

const balanceSelectCols = `wallet_address, token_address, agent_id, token_symbol,
	amount::text, updated_at`

func scanBalanceRow(row pgx.Row) (domain.Balance, error) {
	var b domain.Balance
	var amount string
	if err := row.Scan(&b.WalletAddress, &b.TokenAddress, &b.AgentID, &b.TokenSymbol, &amount, &b.UpdatedAt); err != nil {
		return domain.Balance{}, err
	}
	d, err := parseNumeric(amount)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	b.Amount = d
	return b, nil
}

// Get returns the balance row for (wallet, token).
func (s *BalanceStore) Get(ctx context.Context, wallet, token string) (domain.Balance, error) {
	return s.get(ctx, wallet, token, "")
}

// GetForUpdate is Get with a row lock held until the surrounding transaction
// ends.
func (s *BalanceStore) GetForUpdate(ctx context.Context, wallet, token string) (domain.Balance, error) {
	if !inTx(ctx) {
		return s.get(ctx, wallet, token, "")
	}
	return s.get(ctx, wallet, token, " FOR UPDATE")
}

func (s *BalanceStore) get(ctx context.Context, wallet, token, suffix string) (domain.Balance, error) {
	row := conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+balanceSelectCols+` FROM agent_balances
		 WHERE wallet_address = $1 AND token_address = $2`+suffix, wallet, token)

	b, err := scanBalanceRow(row)
	if err != nil {
		if isNoRows(err) {
			return domain.Balance{}, domain.ErrNotFound
		}
		return domain.Balance{}, fmt.Errorf("postgres: get balance %s/%s: %w", wallet, token, err)
	}
	return b, nil
}

// Upsert writes the balance and returns the stored row.
func (s *BalanceStore) Upsert(ctx context.Context, b domain.Balance) (domain.Balance, error) {
	const query = `
		INSERT INTO agent_balances (wallet_address, token_address, agent_id, token_symbol, amount, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, NOW())
		ON CONFLICT (wallet_address, token_address) DO UPDATE SET
			amount       = EXCLUDED.amount,
			token_symbol = COALESCE(NULLIF(EXCLUDED.token_symbol, ''), agent_balances.token_symbol),
			updated_at   = NOW()
		RETURNING ` + balanceSelectCols

	row := conn(ctx, s.pool).QueryRow(ctx, query,
		b.WalletAddress, b.TokenAddress, b.AgentID, b.TokenSymbol, b.Amount.String())
	out, err := scanBalanceRow(row)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("postgres: upsert balance %s/%s: %w", b.WalletAddress, b.TokenAddress, err)
	}
	return out, nil
}

// ListByWallet returns every balance row of a wallet.
func (s *BalanceStore) ListByWallet(ctx context.Context, wallet string) ([]domain.Balance, error) {
	rows, err := conn(ctx, s.pool).Query(ctx,
		`SELECT `+balanceSelectCols+` FROM agent_balances
		 WHERE wallet_address = $1 ORDER BY token_address`, wallet)
	if err != nil {
		return nil, fmt.Errorf("postgres: list balances %s: %w", wallet, err)
	}
	defer rows.Close()

	var out []domain.Balance
	for rows.Next() {
		b, err := scanBalanceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan balance: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list balances rows: %w", err)
	}
	return out, nil
}

var _ domain.BalanceStore = (*BalanceStore)(nil)
