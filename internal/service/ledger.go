package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/metrics"
)

// TokenDelta is one signed balance change produced by a transaction.
type TokenDelta struct {
	Token            string
	Symbol           string
	Delta            decimal.Decimal
	MustExist        bool
	CheckSufficiency bool
}

// ComputeDelta returns the balance changes of a transaction: one delta for
// deposits and burns, two for swaps (input first).
func ComputeDelta(txType domain.TransactionType, input domain.TokenAmount, output *domain.TokenAmount) ([]TokenDelta, error) {
	if input.Token == "" {
		return nil, domain.Validationf("missing_input_token", "input token is required")
	}
	if !input.Amount.IsPositive() {
		return nil, domain.Validationf("invalid_input_amount", "input amount must be positive, got %s", input.Amount)
	}

	switch txType {
	case domain.TransactionDeposit:
		return []TokenDelta{{Token: input.Token, Symbol: input.Symbol, Delta: input.Amount}}, nil
	case domain.TransactionSwap:
		if output == nil || output.Token == "" {
			return nil, domain.Validationf("missing_output_token", "swap needs an output token")
		}
		if !output.Amount.IsPositive() {
			return nil, domain.Validationf("invalid_output_amount", "output amount must be positive, got %s", output.Amount)
		}
		return []TokenDelta{
			{Token: input.Token, Symbol: input.Symbol, Delta: input.Amount.Neg(), MustExist: true, CheckSufficiency: true},
			{Token: output.Token, Symbol: output.Symbol, Delta: output.Amount},
		}, nil
	case domain.TransactionBurn:
		return []TokenDelta{
			{Token: input.Token, Symbol: input.Symbol, Delta: input.Amount.Neg(), MustExist: true, CheckSufficiency: true},
		}, nil
	}
	return nil, domain.Validationf("unsupported_transaction_type", "transaction type %q is not supported", txType)
}

// TransactionDeltas identifies a transaction for ComputeReversalAndNewDelta.
type TransactionDeltas struct {
	Type   domain.TransactionType
	Input  domain.TokenAmount
	Output *domain.TokenAmount
}

// ComputeReversalAndNewDelta returns the negated deltas of old followed by
// the deltas of updated, so an edit is applied in one pass.
func ComputeReversalAndNewDelta(old, updated TransactionDeltas) ([]TokenDelta, error) {
	oldDeltas, err := ComputeDelta(old.Type, old.Input, old.Output)
	if err != nil {
		return nil, fmt.Errorf("ledger: old transaction: %w", err)
	}
	newDeltas, err := ComputeDelta(updated.Type, updated.Input, updated.Output)
	if err != nil {
		return nil, fmt.Errorf("ledger: new transaction: %w", err)
	}

	out := make([]TokenDelta, 0, len(oldDeltas)+len(newDeltas))
	for _, d := range oldDeltas {
		neg := d.Delta.Neg()
		out = append(out, TokenDelta{
			Token:            d.Token,
			Symbol:           d.Symbol,
			Delta:            neg,
			MustExist:        neg.IsNegative(),
			CheckSufficiency: neg.IsNegative(),
		})
	}
	return append(out, newDeltas...), nil
}

// LedgerResult holds the balances after a transaction was applied.
type LedgerResult struct {
	Input  domain.Balance
	Output *domain.Balance
}

// Ledger applies balance deltas write-through: store first, cache second.
// It is the only writer of balances.
type Ledger struct {
	store  domain.BalanceStore
	cache  domain.BalanceCache
	tx     domain.TxManager
	logger *zap.Logger
	eps    decimal.Decimal
}

// LedgerOption customizes a Ledger.
type LedgerOption func(*Ledger)

// WithBalanceEpsilon overrides domain.BalanceEpsilon.
func WithBalanceEpsilon(eps decimal.Decimal) LedgerOption {
	return func(l *Ledger) { l.eps = eps }
}

// NewLedger creates a Ledger.
func NewLedger(store domain.BalanceStore, cache domain.BalanceCache, tx domain.TxManager, logger *zap.Logger, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:  store,
		cache:  cache,
		tx:     tx,
		logger: logger.With(zap.String("component", "ledger")),
		eps:    domain.BalanceEpsilon,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Epsilon returns the balance tolerance in use.
func (l *Ledger) Epsilon() decimal.Decimal { return l.eps }

// GetBalance reads a balance cache-aside.
func (l *Ledger) GetBalance(ctx context.Context, wallet, token string) (domain.Balance, error) {
	b, err := l.read(ctx, wallet, token)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Balance{}, domain.NotFoundf(domain.ErrBalanceNotFound, "balance_not_found",
			"wallet %s token %s", wallet, token)
	}
	return b, err
}

// ListBalances returns every balance of a wallet from the store.
func (l *Ledger) ListBalances(ctx context.Context, wallet string) ([]domain.Balance, error) {
	out, err := l.store.ListByWallet(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("ledger: list balances %s: %w", wallet, err)
	}
	return out, nil
}

// ValidateSufficiency fails unless the balance covers required within the
// tolerance: current >= required - eps.
func (l *Ledger) ValidateSufficiency(ctx context.Context, wallet, token string, required decimal.Decimal) error {
	b, err := l.read(ctx, wallet, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NotFoundf(domain.ErrBalanceNotFound, "balance_not_found", "wallet %s token %s", wallet, token)
		}
		return fmt.Errorf("ledger: read balance %s/%s: %w", wallet, token, err)
	}
	return l.checkSufficient(b.Amount, required)
}

func (l *Ledger) checkSufficient(current, required decimal.Decimal) error {
	if current.LessThan(required.Abs().Sub(l.eps)) {
		return domain.Conflictf(domain.ErrInsufficientBalance, "insufficient_balance",
			"have %s, need %s", current, required.Abs())
	}
	return nil
}

// DeltaParams describes one ApplyDelta call.
type DeltaParams struct {
	Wallet  string
	AgentID string
	Token   string
	Symbol  string
	Delta   decimal.Decimal
	// Initial replaces max(Delta, 0) as the amount of a newly created row.
	Initial *decimal.Decimal
}

// ApplyDelta adds p.Delta to a balance, creating the row when it does not
// exist. Results within eps below zero are stored as exactly zero; anything
// lower is rejected. Inside a transaction the cache is left untouched and
// the caller refreshes it after commit.
func (l *Ledger) ApplyDelta(ctx context.Context, p DeltaParams) (domain.Balance, error) {
	current, err := l.readForWrite(ctx, p.Wallet, p.Token)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Balance{}, fmt.Errorf("ledger: read balance %s/%s: %w", p.Wallet, p.Token, err)
	}

	var next decimal.Decimal
	if errors.Is(err, domain.ErrNotFound) {
		next = decimal.Max(p.Delta, decimal.Zero)
		if p.Initial != nil {
			if p.Initial.IsNegative() {
				return domain.Balance{}, domain.Validationf("negative_initial_amount",
					"initial amount %s for %s is negative", *p.Initial, p.Token)
			}
			next = *p.Initial
		}
		current = domain.Balance{WalletAddress: p.Wallet, AgentID: p.AgentID, TokenAddress: p.Token, TokenSymbol: p.Symbol}
	} else {
		next = domain.ClampNegativeDust(current.Amount.Add(p.Delta), l.eps)
		if next.IsNegative() {
			return domain.Balance{}, domain.Conflictf(domain.ErrWouldGoNegative, "would_go_negative",
				"token %s: have %s, delta %s", p.Token, current.Amount, p.Delta)
		}
	}

	current.Amount = next
	if p.Symbol != "" {
		current.TokenSymbol = p.Symbol
	}
	if current.AgentID == "" {
		current.AgentID = p.AgentID
	}

	stored, err := l.store.Upsert(ctx, current)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("ledger: upsert balance %s/%s: %w", p.Wallet, p.Token, err)
	}
	if !l.tx.InTx(ctx) {
		l.writeCache(ctx, stored)
	}
	return stored, nil
}

// TransactionParams describes the balance side of a confirmed transaction.
type TransactionParams struct {
	AgentID string
	Wallet  string
	Type    domain.TransactionType
	Input   domain.TokenAmount
	Output  *domain.TokenAmount
}

// ApplyTransaction books a transaction: it computes the deltas, locks each
// affected balance row, checks existence and sufficiency, and applies the
// deltas, all in one store transaction. Called inside the caller's
// transaction it joins it, so the booking commits together with the
// transaction row; the caller then refreshes the cache with RefreshCache.
func (l *Ledger) ApplyTransaction(ctx context.Context, p TransactionParams) (LedgerResult, error) {
	deltas, err := ComputeDelta(p.Type, p.Input, p.Output)
	if err != nil {
		metrics.LedgerApplied.WithLabelValues(string(p.Type), "invalid").Inc()
		return LedgerResult{}, err
	}

	balances, err := l.applyAll(ctx, p.Wallet, p.AgentID, deltas)
	if err != nil {
		metrics.LedgerApplied.WithLabelValues(string(p.Type), domain.KindOf(err)).Inc()
		return LedgerResult{}, err
	}
	metrics.LedgerApplied.WithLabelValues(string(p.Type), "applied").Inc()

	res := LedgerResult{Input: balances[0]}
	if len(balances) > 1 {
		res.Output = &balances[1]
	}
	return res, nil
}

// ApplyDeltas applies an arbitrary list of deltas atomically, as produced by
// ComputeReversalAndNewDelta.
func (l *Ledger) ApplyDeltas(ctx context.Context, wallet, agentID string, deltas []TokenDelta) ([]domain.Balance, error) {
	return l.applyAll(ctx, wallet, agentID, deltas)
}

func (l *Ledger) applyAll(ctx context.Context, wallet, agentID string, deltas []TokenDelta) ([]domain.Balance, error) {
	outer := l.tx.InTx(ctx)
	out := make([]domain.Balance, 0, len(deltas))

	err := l.tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, d := range deltas {
			locked, err := l.store.GetForUpdate(ctx, wallet, d.Token)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				if d.MustExist {
					return domain.NotFoundf(domain.ErrBalanceNotFound, "balance_not_found",
						"wallet %s token %s", wallet, d.Token)
				}
			case err != nil:
				return fmt.Errorf("ledger: lock balance %s/%s: %w", wallet, d.Token, err)
			default:
				if d.CheckSufficiency {
					if err := l.checkSufficient(locked.Amount, d.Delta); err != nil {
						return err
					}
				}
			}

			b, err := l.ApplyDelta(ctx, DeltaParams{
				Wallet:  wallet,
				AgentID: agentID,
				Token:   d.Token,
				Symbol:  d.Symbol,
				Delta:   d.Delta,
			})
			if err != nil {
				return err
			}
			out = append(out, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !outer {
		l.RefreshCache(ctx, out...)
	}
	return out, nil
}

// RefreshCache writes committed balances to the cache. Failures are logged
// and the key invalidated; they never fail the caller.
func (l *Ledger) RefreshCache(ctx context.Context, balances ...domain.Balance) {
	for _, b := range balances {
		l.writeCache(ctx, b)
	}
}

func (l *Ledger) writeCache(ctx context.Context, b domain.Balance) {
	err := l.cache.Set(ctx, b)
	if err == nil {
		return
	}
	metrics.CacheWriteFailures.WithLabelValues("balance").Inc()
	l.logger.Warn("cache write failed, invalidating",
		zap.String("wallet", b.WalletAddress), zap.String("token", b.TokenAddress), zap.Error(err))
	if err := l.cache.Invalidate(ctx, b.WalletAddress, b.TokenAddress); err != nil {
		l.logger.Warn("cache invalidate failed",
			zap.String("wallet", b.WalletAddress), zap.String("token", b.TokenAddress), zap.Error(err))
	}
}

// read is cache-aside outside a transaction. Inside one it reads the store,
// which sees the transaction's own uncommitted writes.
func (l *Ledger) read(ctx context.Context, wallet, token string) (domain.Balance, error) {
	if l.tx.InTx(ctx) {
		return l.store.Get(ctx, wallet, token)
	}

	b, err := l.cache.Get(ctx, wallet, token)
	if err == nil {
		return b, nil
	}
	reason := "miss"
	if !errors.Is(err, domain.ErrNotFound) {
		reason = "error"
		l.logger.Warn("cache read failed, using store",
			zap.String("wallet", wallet), zap.String("token", token), zap.Error(err))
	}
	metrics.CacheFallbacks.WithLabelValues("balance", reason).Inc()

	b, err = l.store.Get(ctx, wallet, token)
	if err != nil {
		return domain.Balance{}, err
	}
	if err := l.cache.Set(ctx, b); err != nil {
		l.logger.Debug("cache populate failed", zap.String("wallet", wallet), zap.String("token", token), zap.Error(err))
	}
	return b, nil
}

// readForWrite takes the row lock inside a transaction; outside one it is
// read.
func (l *Ledger) readForWrite(ctx context.Context, wallet, token string) (domain.Balance, error) {
	if l.tx.InTx(ctx) {
		return l.store.GetForUpdate(ctx, wallet, token)
	}
	return l.read(ctx, wallet, token)
}
