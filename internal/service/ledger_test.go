package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/testutil/memstore"
)

func TestComputeDelta(t *testing.T) {
	sol := domain.TokenAmount{Token: domain.BaseMint, Amount: dec("2")}
	tok := &domain.TokenAmount{Token: testToken, Amount: dec("1000")}

	deltas, err := ComputeDelta(domain.TransactionDeposit, sol, nil)
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.True(t, deltas[0].Delta.Equal(dec("2")))
	assert.False(t, deltas[0].MustExist)

	deltas, err = ComputeDelta(domain.TransactionSwap, sol, tok)
	require.NoError(t, err)
	require.Len(t, deltas, 2)
	assert.True(t, deltas[0].Delta.Equal(dec("-2")))
	assert.True(t, deltas[0].CheckSufficiency)
	assert.True(t, deltas[1].Delta.Equal(dec("1000")))

	deltas, err = ComputeDelta(domain.TransactionBurn, sol, nil)
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.True(t, deltas[0].Delta.Equal(dec("-2")))

	_, err = ComputeDelta(domain.TransactionSwap, sol, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = ComputeDelta(domain.TransactionDeposit, domain.TokenAmount{Token: domain.BaseMint}, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = ComputeDelta("AIRDROP", sol, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestComputeReversalAndNewDelta(t *testing.T) {
	old := TransactionDeltas{Type: domain.TransactionDeposit, Input: domain.TokenAmount{Token: domain.BaseMint, Amount: dec("5")}}
	updated := TransactionDeltas{Type: domain.TransactionDeposit, Input: domain.TokenAmount{Token: domain.BaseMint, Amount: dec("3")}}

	deltas, err := ComputeReversalAndNewDelta(old, updated)
	require.NoError(t, err)
	require.Len(t, deltas, 2)
	assert.True(t, deltas[0].Delta.Equal(dec("-5")))
	assert.True(t, deltas[0].MustExist)
	assert.True(t, deltas[1].Delta.Equal(dec("3")))
}

func TestLedger_ApplyDelta_CreatesAndAdds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b, err := h.ledger.ApplyDelta(ctx, DeltaParams{Wallet: testWallet, AgentID: testAgent, Token: domain.BaseMint, Delta: dec("3")})
	require.NoError(t, err)
	assert.True(t, b.Amount.Equal(dec("3")))

	b, err = h.ledger.ApplyDelta(ctx, DeltaParams{Wallet: testWallet, AgentID: testAgent, Token: domain.BaseMint, Delta: dec("-1.5")})
	require.NoError(t, err)
	assert.True(t, b.Amount.Equal(dec("1.5")))

	cached, err := h.balances.Get(ctx, testWallet, domain.BaseMint)
	require.NoError(t, err)
	assert.True(t, cached.Amount.Equal(dec("1.5")), "cache mirrors the store after a write")
}

func TestLedger_ApplyDelta_NewRowNeverNegative(t *testing.T) {
	h := newHarness(t)
	b, err := h.ledger.ApplyDelta(context.Background(), DeltaParams{Wallet: testWallet, Token: "x", Delta: dec("-4")})
	require.NoError(t, err)
	assert.True(t, b.Amount.IsZero())

	_, err = h.ledger.ApplyDelta(context.Background(), DeltaParams{Wallet: testWallet, Token: "y", Delta: dec("1"), Initial: domain.DecimalPtr(dec("-1"))})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLedger_NonNegativity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "1")

	b, err := h.ledger.ApplyDelta(ctx, DeltaParams{Wallet: testWallet, Token: domain.BaseMint, Delta: dec("-1.000000005")})
	require.NoError(t, err)
	assert.True(t, b.Amount.IsZero(), "dust below zero clamps to zero, got %s", b.Amount)

	_, err = h.ledger.ApplyDelta(ctx, DeltaParams{Wallet: testWallet, Token: domain.BaseMint, Delta: dec("-0.5")})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.ErrorIs(t, err, domain.ErrWouldGoNegative)
	assert.True(t, h.storedBalance(t, domain.BaseMint).IsZero())
}

func TestLedger_SufficiencyTolerance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "1")
	eps := h.ledger.Epsilon()

	require.NoError(t, h.ledger.ValidateSufficiency(ctx, testWallet, domain.BaseMint, dec("1").Add(eps.Div(decimal.NewFromInt(2)))))

	err := h.ledger.ValidateSufficiency(ctx, testWallet, domain.BaseMint, dec("1").Add(eps.Mul(decimal.NewFromInt(2))))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	err = h.ledger.ValidateSufficiency(ctx, testWallet, "missing", dec("1"))
	assert.ErrorIs(t, err, domain.ErrBalanceNotFound)
}

func TestLedger_ApplyTransaction_SwapNeedsInputBalance(t *testing.T) {
	h := newHarness(t)
	_, err := h.ledger.ApplyTransaction(context.Background(), TransactionParams{
		AgentID: testAgent,
		Wallet:  testWallet,
		Type:    domain.TransactionSwap,
		Input:   domain.TokenAmount{Token: domain.BaseMint, Amount: dec("1")},
		Output:  &domain.TokenAmount{Token: testToken, Amount: dec("10")},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBalanceNotFound)
}

func TestLedger_ApplyDeltas_Atomic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "1")

	_, err := h.ledger.ApplyDeltas(ctx, testWallet, testAgent, []TokenDelta{
		{Token: testToken, Delta: dec("5")},
		{Token: domain.BaseMint, Delta: dec("-100"), MustExist: true, CheckSufficiency: true},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = h.db.Balances().Get(ctx, testWallet, testToken)
	assert.ErrorIs(t, err, domain.ErrNotFound, "first delta is rolled back")
	assert.True(t, h.storedBalance(t, domain.BaseMint).Equal(dec("1")))
}

func TestLedger_StoreFailureLeavesCacheUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.db.Fail("balances.Upsert", memstore.ErrInjected)

	_, err := h.ledger.ApplyDelta(ctx, DeltaParams{Wallet: testWallet, Token: domain.BaseMint, Delta: dec("1")})
	require.ErrorIs(t, err, memstore.ErrInjected)

	_, err = h.balances.Get(ctx, testWallet, domain.BaseMint)
	assert.ErrorIs(t, err, domain.ErrNotFound, "cache never leads the store")
}

func TestLedger_CacheFailureDoesNotFailWrite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "1")

	h.mr.SetError("ERR injected")
	b, err := h.ledger.ApplyDelta(ctx, DeltaParams{Wallet: testWallet, Token: domain.BaseMint, Delta: dec("2")})
	require.NoError(t, err)
	assert.True(t, b.Amount.Equal(dec("3")))
	assert.True(t, h.storedBalance(t, domain.BaseMint).Equal(dec("3")))

	got, err := h.ledger.GetBalance(ctx, testWallet, domain.BaseMint)
	require.NoError(t, err, "reads fall back to the store")
	assert.True(t, got.Amount.Equal(dec("3")))
}

func TestLedger_GetBalance_CacheAside(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.db.Balances().Upsert(ctx, domain.Balance{WalletAddress: testWallet, TokenAddress: domain.BaseMint, Amount: dec("4")})
	require.NoError(t, err)

	b, err := h.ledger.GetBalance(ctx, testWallet, domain.BaseMint)
	require.NoError(t, err)
	assert.True(t, b.Amount.Equal(dec("4")))
	assert.True(t, h.mr.Exists("balance:"+testWallet+":"+domain.BaseMint), "miss populates the cache")

	_, err = h.ledger.GetBalance(ctx, testWallet, "unknown")
	assert.ErrorIs(t, err, domain.ErrBalanceNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLedger_ListBalances(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, "10")
	h.buy(t, "2", "1000")

	list, err := h.ledger.ListBalances(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
