package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

// TransactionStore implements domain.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore backed by the given connection pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

const transactionSelectCols = `id, agent_id, wallet_address, tx_type,
	input_token, input_symbol, input_amount::text,
	output_token, output_symbol, output_amount::text, price::text, created_at`

func scanTransactionRow(row pgx.Row) (domain.Transaction, error) {
	var t domain.Transaction
	var txType, inAmt string
	var outToken, outSymbol, outAmt, price *string

	if err := row.Scan(
		&t.ID, &t.AgentID, &t.WalletAddress, &txType,
		&t.InputToken, &t.InputSymbol, &inAmt,
		&outToken, &outSymbol, &outAmt, &price, &t.CreatedAt,
	); err != nil {
		return domain.Transaction{}, err
	}
	t.Type = domain.TransactionType(txType)

	var err error
	if t.InputAmount, err = parseNumeric(inAmt); err != nil {
		return domain.Transaction{}, fmt.Errorf("parse input_amount: %w", err)
	}
	if outToken != nil {
		t.OutputToken = *outToken
	}
	if outSymbol != nil {
		t.OutputSymbol = *outSymbol
	}
	if t.OutputAmount, err = nullNumericOrZero(outAmt); err != nil {
		return domain.Transaction{}, fmt.Errorf("parse output_amount: %w", err)
	}
	if t.Price, err = nullNumericOrZero(price); err != nil {
		return domain.Transaction{}, fmt.Errorf("parse price: %w", err)
	}
	return t, nil
}

func nullNumericOrZero(s *string) (decimal.Decimal, error) {
	d, err := parseNullNumeric(s)
	if err != nil || d == nil {
		return decimal.Zero, err
	}
	return *d, nil
}

// Create inserts a transaction row. A duplicate id returns
// domain.ErrAlreadyExists.
func (s *TransactionStore) Create(ctx context.Context, t domain.Transaction) error {
	const query = `
		INSERT INTO agent_transactions (
			id, agent_id, wallet_address, tx_type,
			input_token, input_symbol, input_amount,
			output_token, output_symbol, output_amount, price, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7::numeric,
			$8, $9, $10::numeric, $11::numeric, $12
		)`

	var outToken, outSymbol, outAmt, price any
	if t.Type == domain.TransactionSwap {
		outToken, outSymbol, outAmt = t.OutputToken, t.OutputSymbol, t.OutputAmount.String()
	}
	if !t.Price.IsZero() {
		price = t.Price.String()
	}

	_, err := conn(ctx, s.pool).Exec(ctx, query,
		t.ID, t.AgentID, t.WalletAddress, string(t.Type),
		t.InputToken, t.InputSymbol, t.InputAmount.String(),
		outToken, outSymbol, outAmt, price, t.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create transaction %s: %w", t.ID, err)
	}
	return nil
}

// GetByID retrieves a transaction by its ID.
func (s *TransactionStore) GetByID(ctx context.Context, id string) (domain.Transaction, error) {
	row := conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+transactionSelectCols+` FROM agent_transactions WHERE id = $1`, id)

	t, err := scanTransactionRow(row)
	if err != nil {
		if isNoRows(err) {
			return domain.Transaction{}, domain.ErrNotFound
		}
		return domain.Transaction{}, fmt.Errorf("postgres: get transaction %s: %w", id, err)
	}
	return t, nil
}

// ListByAgent returns an agent's transactions, newest first.
func (s *TransactionStore) ListByAgent(ctx context.Context, agentID string, opts domain.ListOpts) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionSelectCols + ` FROM agent_transactions WHERE agent_id = $1`
	args := []any{agentID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := conn(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions %s: %w", agentID, err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransactionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list transactions rows: %w", err)
	}
	return out, nil
}

var _ domain.TransactionStore = (*TransactionStore)(nil)
