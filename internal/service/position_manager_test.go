package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

func seedBuy(t *testing.T, h *harness, id string) domain.Transaction {
	t.Helper()
	tx := domain.Transaction{
		ID:            id,
		AgentID:       testAgent,
		WalletAddress: testWallet,
		Type:          domain.TransactionSwap,
		InputToken:    domain.BaseMint,
		InputAmount:   dec("2"),
		OutputToken:   testToken,
		OutputAmount:  dec("1000"),
		Price:         dec("0.002"),
	}
	require.NoError(t, h.db.Transactions().Create(context.Background(), tx))
	return tx
}

func createParams(txID string) CreateParams {
	return CreateParams{
		AgentID:        testAgent,
		Wallet:         testWallet,
		TransactionID:  txID,
		Token:          testToken,
		Symbol:         "TKN",
		PurchasePrice:  dec("0.002"),
		PurchaseAmount: dec("1000"),
	}
}

func TestPositionManager_Create(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedBuy(t, h, "tx-1")

	pos, err := h.positions.Create(ctx, createParams("tx-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, pos.ID)
	assert.True(t, pos.TotalInvested.Equal(dec("2")), "invested defaults to the buy's input")
	require.NotNil(t, pos.LowestPrice)
	assert.True(t, pos.LowestPrice.Equal(dec("0.002")))
	assert.Equal(t, []domain.PositionEventType{domain.PositionCreated}, h.sink.types())
	assert.Contains(t, h.db.Audit().Events(), "position_created")

	cached, err := h.posCache.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.ID, cached.ID)
	ids, err := h.posCache.IDsByToken(ctx, testToken)
	require.NoError(t, err)
	assert.Equal(t, []string{pos.ID}, ids)

	seedBuy(t, h, "tx-2")
	_, err = h.positions.Create(ctx, createParams("tx-2"))
	assert.ErrorIs(t, err, domain.ErrPositionExists)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestPositionManager_CreateValidatesTransaction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.positions.Create(ctx, createParams("missing"))
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)

	require.NoError(t, h.db.Transactions().Create(ctx, domain.Transaction{
		ID: "dep", AgentID: testAgent, WalletAddress: testWallet,
		Type: domain.TransactionDeposit, InputToken: domain.BaseMint, InputAmount: dec("1"),
	}))
	_, err = h.positions.Create(ctx, createParams("dep"))
	assert.ErrorIs(t, err, domain.ErrNotBuyTransaction)

	seedBuy(t, h, "tx-1")
	p := createParams("tx-1")
	p.AgentID = "someone-else"
	_, err = h.positions.Create(ctx, p)
	assert.ErrorIs(t, err, domain.ErrValidation)

	p = createParams("tx-1")
	p.PurchasePrice = dec("0")
	_, err = h.positions.Create(ctx, p)
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.Equal(t, 0, h.db.Positions().Count())
	assert.Empty(t, h.sink.types())
}

func TestPositionManager_InvestedOverride(t *testing.T) {
	h := newHarness(t)
	seedBuy(t, h, "tx-1")
	p := createParams("tx-1")
	p.InvestedOverride = domain.DecimalPtr(dec("2.05"))

	pos, err := h.positions.Create(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, pos.TotalInvested.Equal(dec("2.05")))
}

func TestPositionManager_UpdateStopLoss(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedBuy(t, h, "tx-1")
	pos, err := h.positions.Create(ctx, createParams("tx-1"))
	require.NoError(t, err)

	updated, err := h.positions.Update(ctx, pos.ID, domain.StopLossUpdate{
		StopLossPct: domain.DecimalPtr(dec("40")),
		PeakPrice:   domain.DecimalPtr(dec("0.003")),
	})
	require.NoError(t, err)
	assert.True(t, updated.CurrentStopLossPct.Equal(dec("40")))
	assert.True(t, updated.PeakPrice.Equal(dec("0.003")))
	assert.NotNil(t, updated.LastStopLossUpdate)
	assert.Equal(t, pos.Version+1, updated.Version)

	cached, err := h.posCache.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Version, cached.Version, "cache follows the committed row")

	_, err = h.positions.Update(ctx, pos.ID, domain.StopLossUpdate{PeakPrice: domain.DecimalPtr(dec("-1"))})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.positions.Update(ctx, "nope", domain.StopLossUpdate{})
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
}

func TestPositionManager_TakeProfitThenDCA(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedBuy(t, h, "tx-1")
	pos, err := h.positions.Create(ctx, createParams("tx-1"))
	require.NoError(t, err)

	pos, err = h.positions.ApplyTakeProfit(ctx, pos.ID, domain.TakeProfitUpdate{
		NewRemainingAmount: dec("750"),
		LevelsExecuted:     1,
		TransactionID:      "tp-1",
		RealizedPnLDelta:   domain.DecimalPtr(dec("0.25")),
	})
	require.NoError(t, err)
	require.NotNil(t, pos.RemainingAmount)
	assert.True(t, pos.RemainingAmount.Equal(dec("750")))
	assert.Equal(t, 1, pos.TakeProfitLevelsHit)
	assert.Equal(t, []string{"tp-1"}, pos.TakeProfitTransactionIDs)
	assert.True(t, pos.RealizedProfit.Equal(dec("0.25")))

	pos, err = h.positions.ApplyDCA(ctx, pos.ID, domain.DCAUpdate{
		NewAveragePrice:      dec("0.0015"),
		NewTotalAmount:       dec("2000"),
		NewTotalInvested:     dec("3"),
		TransactionID:        "dca-1",
		TokensAcquired:       dec("1000"),
		ConfiguredLevelCount: 4,
	})
	require.NoError(t, err)
	assert.True(t, pos.PurchasePrice.Equal(dec("0.0015")))
	assert.True(t, pos.RemainingAmount.Equal(dec("1750")), "bought tokens add to the remainder")
	assert.Equal(t, 1, pos.DCACount)
	assert.Equal(t, 1, pos.TPBatchStartLevel)
	require.NotNil(t, pos.TotalTakeProfitLevels)
	assert.Equal(t, 5, *pos.TotalTakeProfitLevels)
	assert.True(t, pos.LowestPrice.Equal(dec("0.0015")))
	assert.NotNil(t, pos.LastDCATime)

	events := h.db.Audit().Events()
	assert.Contains(t, events, "position_take_profit")
	assert.Contains(t, events, "position_dca")
}

func TestPositionManager_MoonBag(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedBuy(t, h, "tx-1")
	pos, err := h.positions.Create(ctx, createParams("tx-1"))
	require.NoError(t, err)

	pos, err = h.positions.ApplyTakeProfit(ctx, pos.ID, domain.TakeProfitUpdate{
		NewRemainingAmount: dec("100"),
		LevelsExecuted:     4,
		ActivateMoonBag:    true,
		MoonBagAmount:      domain.DecimalPtr(dec("100")),
	})
	require.NoError(t, err)
	assert.True(t, pos.MoonBagActivated)
	assert.True(t, pos.OnlyMoonBagLeft(domain.BalanceEpsilon))

	_, err = h.positions.ApplyTakeProfit(ctx, pos.ID, domain.TakeProfitUpdate{NewRemainingAmount: dec("-1")})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPositionManager_RecordLowestPrice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedBuy(t, h, "tx-1")
	pos, err := h.positions.Create(ctx, createParams("tx-1"))
	require.NoError(t, err)

	got, err := h.positions.RecordLowestPrice(ctx, pos.ID, dec("0.003"))
	require.NoError(t, err)
	assert.True(t, got.LowestPrice.Equal(dec("0.002")))
	assert.Equal(t, pos.Version, got.Version, "no write when the price is not lower")

	got, err = h.positions.RecordLowestPrice(ctx, pos.ID, dec("0.001"))
	require.NoError(t, err)
	assert.True(t, got.LowestPrice.Equal(dec("0.001")))
	assert.Equal(t, pos.Version+1, got.Version)
}

func TestPositionManager_Close(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedBuy(t, h, "tx-1")
	pos, err := h.positions.Create(ctx, createParams("tx-1"))
	require.NoError(t, err)

	closed, err := h.positions.Close(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.ID, closed.ID)
	assert.Equal(t, []domain.PositionEventType{domain.PositionCreated, domain.PositionClosed}, h.sink.types())

	_, err = h.positions.Get(ctx, pos.ID)
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
	assert.False(t, h.mr.Exists("position:"+pos.ID))
	ids, err := h.posCache.IDsByAgent(ctx, testAgent)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = h.positions.Close(ctx, pos.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPositionManager_QueryByToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedBuy(t, h, "tx-1")
	pos, err := h.positions.Create(ctx, createParams("tx-1"))
	require.NoError(t, err)

	got, err := h.positions.QueryByToken(ctx, "tokenmint111")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pos.ID, got[0].ID)

	h.mr.FlushAll()
	got, err = h.positions.QueryByToken(ctx, testToken)
	require.NoError(t, err, "empty index falls back to the store")
	require.Len(t, got, 1)
	assert.True(t, h.mr.Exists("position:"+pos.ID), "fallback warms the cache")

	byAgent, err := h.positions.ListByAgent(ctx, testAgent)
	require.NoError(t, err)
	assert.Len(t, byAgent, 1)

	tokens, err := h.positions.ListTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{testToken}, tokens)
}

func TestPositionManager_StaleIndexEntryDropped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ghost := domain.Position{ID: "ghost", AgentID: testAgent, TokenAddress: testToken}
	require.NoError(t, h.posCache.Set(ctx, ghost))
	h.mr.Del("position:ghost")

	got, err := h.positions.QueryByToken(ctx, testToken)
	require.NoError(t, err)
	assert.Empty(t, got)

	ids, err := h.posCache.IDsByToken(ctx, testToken)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPositionManager_ApplyDCARejectsStaleVersion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedBuy(t, h, "tx-1")
	pos, err := h.positions.Create(ctx, createParams("tx-1"))
	require.NoError(t, err)

	stale := pos.Version + 1
	_, err = h.positions.ApplyDCA(ctx, pos.ID, domain.DCAUpdate{
		NewAveragePrice:  dec("0.0015"),
		NewTotalAmount:   dec("2000"),
		NewTotalInvested: dec("3"),
		TokensAcquired:   dec("1000"),
		ExpectedVersion:  &stale,
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	stored, err := h.positions.Reload(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.DCACount)
	assert.True(t, stored.PurchaseAmount.Equal(dec("1000")))

	current := stored.Version
	_, err = h.positions.ApplyDCA(ctx, pos.ID, domain.DCAUpdate{
		NewAveragePrice:  dec("0.0015"),
		NewTotalAmount:   dec("2000"),
		NewTotalInvested: dec("3"),
		TokensAcquired:   dec("1000"),
		ExpectedVersion:  &current,
	})
	require.NoError(t, err)
}

func TestPositionManager_TakeProfitSoldAmountUsesStoredRow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedBuy(t, h, "tx-1")
	pos, err := h.positions.Create(ctx, createParams("tx-1"))
	require.NoError(t, err)

	_, err = h.positions.ApplyDCA(ctx, pos.ID, domain.DCAUpdate{
		NewAveragePrice:  dec("0.0018"),
		NewTotalAmount:   dec("1500"),
		NewTotalInvested: dec("2.7"),
		TokensAcquired:   dec("500"),
	})
	require.NoError(t, err)

	got, err := h.positions.ApplyTakeProfit(ctx, pos.ID, domain.TakeProfitUpdate{
		SoldAmount:     domain.DecimalPtr(dec("250")),
		LevelsExecuted: 1,
	})
	require.NoError(t, err)
	require.NotNil(t, got.RemainingAmount)
	assert.True(t, got.RemainingAmount.Equal(dec("1250")), "got %s", got.RemainingAmount)
	assert.Equal(t, "1250", h.auditEntry(t, "position_take_profit").Detail["remaining_amount"])

	_, err = h.positions.ApplyTakeProfit(ctx, pos.ID, domain.TakeProfitUpdate{SoldAmount: domain.DecimalPtr(decimal.Zero)})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPositionManager_CloseWithProfit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedBuy(t, h, "tx-1")
	pos, err := h.positions.Create(ctx, createParams("tx-1"))
	require.NoError(t, err)

	closed, err := h.positions.CloseWithProfit(ctx, pos.ID, dec("0.4"))
	require.NoError(t, err)
	assert.True(t, closed.RealizedProfit.Equal(dec("0.4")))
	assert.Equal(t, 0, h.db.Positions().Count())
	assert.Equal(t, "0.4", h.auditEntry(t, "position_closed").Detail["realized_profit"])
	assert.Equal(t, []domain.PositionEventType{domain.PositionCreated, domain.PositionClosed}, h.sink.types())
	assert.False(t, h.mr.Exists("position:"+pos.ID))

	_, err = h.positions.CloseWithProfit(ctx, pos.ID, dec("0.4"))
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
}

func TestPositionManager_ListTokensFoldsCase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedBuy(t, h, "tx-1")
	_, err := h.positions.Create(ctx, createParams("tx-1"))
	require.NoError(t, err)

	lower := domain.Transaction{
		ID:            "tx-2",
		AgentID:       "agent-2",
		WalletAddress: "wallet-2",
		Type:          domain.TransactionSwap,
		InputToken:    domain.BaseMint,
		InputAmount:   dec("1"),
		OutputToken:   "tokenmint111",
		OutputAmount:  dec("500"),
	}
	require.NoError(t, h.db.Transactions().Create(ctx, lower))
	_, err = h.positions.Create(ctx, CreateParams{
		AgentID:        "agent-2",
		Wallet:         "wallet-2",
		TransactionID:  "tx-2",
		Token:          "tokenmint111",
		PurchasePrice:  dec("0.002"),
		PurchaseAmount: dec("500"),
	})
	require.NoError(t, err)

	tokens, err := h.positions.ListTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{testToken}, tokens, "one entry per token, original spelling kept")

	got, err := h.positions.QueryByToken(ctx, tokens[0])
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
