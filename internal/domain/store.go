package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TxManager runs a function inside one all-or-nothing store transaction.
// Stores called with the ctx passed to fn join that transaction; a nested
// WithinTx reuses the outer one.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	InTx(ctx context.Context) bool
}

// BalanceStore persists balances keyed by (wallet, token).
type BalanceStore interface {
	Get(ctx context.Context, wallet, token string) (Balance, error)
	// GetForUpdate reads the row holding its store-level lock until the
	// surrounding transaction ends. Outside a transaction it behaves like Get.
	GetForUpdate(ctx context.Context, wallet, token string) (Balance, error)
	Upsert(ctx context.Context, b Balance) (Balance, error)
	ListByWallet(ctx context.Context, wallet string) ([]Balance, error)
}

// PositionStore persists open positions. Closing a position deletes its row.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	// Update writes pos when the stored version equals pos.Version and stores
	// pos.Version+1. A version mismatch returns ErrConflict.
	Update(ctx context.Context, pos Position) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (Position, error)
	GetForUpdate(ctx context.Context, id string) (Position, error)
	GetByAgentWalletToken(ctx context.Context, agentID, wallet, token string) (Position, error)
	ListByAgent(ctx context.Context, agentID string) ([]Position, error)
	// ListByToken matches the token address case-insensitively.
	ListByToken(ctx context.Context, token string) ([]Position, error)
	ListTokens(ctx context.Context) ([]string, error)
}

// TransactionStore persists confirmed transactions.
type TransactionStore interface {
	Create(ctx context.Context, tx Transaction) error
	GetByID(ctx context.Context, id string) (Transaction, error)
	ListByAgent(ctx context.Context, agentID string, opts ListOpts) ([]Transaction, error)
}

// TradingConfigStore persists the partial per-agent configuration document
// exactly as saved. Get returns ErrNotFound when the agent never saved one.
type TradingConfigStore interface {
	Get(ctx context.Context, agentID string) (json.RawMessage, error)
	Upsert(ctx context.Context, agentID string, doc json.RawMessage) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// TokenAmount is a token and a quantity of it.
type TokenAmount struct {
	Token  string
	Symbol string
	Amount decimal.Decimal
}
