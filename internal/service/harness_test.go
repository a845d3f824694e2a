package service

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/cache/redis"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/testutil/memstore"
)

const (
	testAgent  = "agent-1"
	testWallet = "wallet-1"
	testToken  = "TokenMint111"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recordingSink struct {
	mu     sync.Mutex
	events []domain.PositionEvent
}

func (s *recordingSink) Publish(_ context.Context, ev domain.PositionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) types() []domain.PositionEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PositionEventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

type fakeSwaps struct {
	mu    sync.Mutex
	res   domain.SwapResult
	err   error
	reqs  []domain.SwapRequest
	price decimal.Decimal
}

// Execute fills at price when no canned result is set.
func (f *fakeSwaps) Execute(_ context.Context, req domain.SwapRequest) (domain.SwapResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return domain.SwapResult{}, f.err
	}
	if f.res.Success || f.res.Reason != "" {
		return f.res, nil
	}
	out := req.Amount.Div(f.price)
	if domain.IsBaseToken(req.OutputToken) {
		out = req.Amount.Mul(f.price)
	}
	return domain.SwapResult{Success: true, InputAmount: req.Amount, OutputAmount: out, Signature: "sig"}, nil
}

type harness struct {
	db        *memstore.DB
	mr        *miniredis.Miniredis
	balances  *redis.BalanceCache
	posCache  *redis.PositionCache
	sink      *recordingSink
	swaps     *fakeSwaps
	ledger    *Ledger
	positions *PositionManager
	configs   *TradingConfigService
	trades    *TradeService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := redis.New(context.Background(), redis.ClientConfig{Addr: mr.Addr(), MaxRetries: -1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	db := memstore.New()
	h := &harness{
		db:       db,
		mr:       mr,
		balances: redis.NewBalanceCache(rc),
		posCache: redis.NewPositionCache(rc),
		sink:     &recordingSink{},
		swaps:    &fakeSwaps{price: dec("0.002")},
	}
	logger := zap.NewNop()
	h.ledger = NewLedger(db.Balances(), h.balances, db.TxManager(), logger)
	h.positions = NewPositionManager(db.Positions(), db.Transactions(), h.posCache, db.TxManager(), h.sink, db.Audit(), logger)
	h.configs = NewTradingConfigService(db.TradingConfigs(), redis.NewTradingConfigCache(rc), db.Audit(), logger)
	h.trades = NewTradeService(db.Transactions(), h.ledger, h.positions, h.swaps, db.TxManager(), db.Audit(), logger)
	return h
}

func (h *harness) deposit(t *testing.T, amount string) {
	t.Helper()
	_, err := h.trades.Record(context.Background(), NewTransaction{
		AgentID: testAgent,
		Wallet:  testWallet,
		Type:    domain.TransactionDeposit,
		Input:   domain.TokenAmount{Token: domain.BaseMint, Symbol: domain.BaseSymbol, Amount: dec(amount)},
	})
	require.NoError(t, err)
}

func (h *harness) storedBalance(t *testing.T, token string) decimal.Decimal {
	t.Helper()
	b, err := h.db.Balances().Get(context.Background(), testWallet, token)
	require.NoError(t, err)
	return b.Amount
}

// buy records a confirmed buy of token and returns the opened position.
func (h *harness) buy(t *testing.T, sol, tokens string) domain.Position {
	t.Helper()
	res, err := h.trades.Record(context.Background(), NewTransaction{
		AgentID: testAgent,
		Wallet:  testWallet,
		Type:    domain.TransactionSwap,
		Input:   domain.TokenAmount{Token: domain.BaseMint, Symbol: domain.BaseSymbol, Amount: dec(sol)},
		Output:  &domain.TokenAmount{Token: testToken, Symbol: "TKN", Amount: dec(tokens)},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Created)
	return *res.Created
}

// auditEntry returns the newest audit entry logged as event.
func (h *harness) auditEntry(t *testing.T, event string) domain.AuditEntry {
	t.Helper()
	entries, err := h.db.Audit().List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	for _, e := range entries {
		if e.Event == event {
			return e
		}
	}
	t.Fatalf("no %s audit entry", event)
	return domain.AuditEntry{}
}
