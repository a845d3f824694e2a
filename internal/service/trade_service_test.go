package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/risk"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/testutil/memstore"
)

func TestTradeService_DepositThenBuy(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, "10")

	pos := h.buy(t, "2", "1000")

	assert.True(t, h.storedBalance(t, domain.BaseMint).Equal(dec("8")))
	assert.True(t, h.storedBalance(t, testToken).Equal(dec("1000")))
	assert.True(t, pos.PurchasePrice.Equal(dec("0.002")), "price is implied from the amounts")
	assert.True(t, pos.PurchaseAmount.Equal(dec("1000")))
	assert.True(t, pos.TotalInvested.Equal(dec("2")))

	cached, err := h.balances.Get(context.Background(), testWallet, domain.BaseMint)
	require.NoError(t, err)
	assert.True(t, cached.Amount.Equal(dec("8")), "cache refreshed after commit")
	assert.Equal(t, []domain.PositionEventType{domain.PositionCreated}, h.sink.types())
}

func TestTradeService_SecondBuyKeepsPosition(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, "10")
	first := h.buy(t, "2", "1000")

	res, err := h.trades.Record(context.Background(), NewTransaction{
		AgentID: testAgent,
		Wallet:  testWallet,
		Type:    domain.TransactionSwap,
		Input:   domain.TokenAmount{Token: domain.BaseMint, Amount: dec("1")},
		Output:  &domain.TokenAmount{Token: testToken, Amount: dec("400")},
	})
	require.NoError(t, err)
	assert.Nil(t, res.Created)
	assert.Equal(t, 1, h.db.Positions().Count())

	pos, err := h.positions.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.True(t, pos.PurchaseAmount.Equal(dec("1000")))
	assert.True(t, h.storedBalance(t, testToken).Equal(dec("1400")))
}

func TestTradeService_RecordIsAtomic(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, "10")
	h.db.Fail("positions.Create", memstore.ErrInjected)

	_, err := h.trades.Record(context.Background(), NewTransaction{
		ID:      "tx-buy",
		AgentID: testAgent,
		Wallet:  testWallet,
		Type:    domain.TransactionSwap,
		Input:   domain.TokenAmount{Token: domain.BaseMint, Amount: dec("2")},
		Output:  &domain.TokenAmount{Token: testToken, Amount: dec("1000")},
	})
	require.ErrorIs(t, err, memstore.ErrInjected)

	assert.True(t, h.storedBalance(t, domain.BaseMint).Equal(dec("10")))
	_, err = h.db.Balances().Get(context.Background(), testWallet, testToken)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.db.Transactions().GetByID(context.Background(), "tx-buy")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, h.sink.types())
}

func TestTradeService_RecordRejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.trades.Record(ctx, NewTransaction{Type: domain.TransactionDeposit, Input: domain.TokenAmount{Token: domain.BaseMint, Amount: dec("1")}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.trades.Record(ctx, NewTransaction{
		AgentID: testAgent, Wallet: testWallet, Type: domain.TransactionSwap,
		Input:  domain.TokenAmount{Token: domain.BaseMint, Amount: dec("1")},
		Output: &domain.TokenAmount{Token: testToken, Amount: dec("1")},
	})
	assert.ErrorIs(t, err, domain.ErrBalanceNotFound)

	h.deposit(t, "1")
	_, err = h.trades.Record(ctx, NewTransaction{
		ID: "dup", AgentID: testAgent, Wallet: testWallet, Type: domain.TransactionDeposit,
		Input: domain.TokenAmount{Token: domain.BaseMint, Amount: dec("1")},
	})
	require.NoError(t, err)
	_, err = h.trades.Record(ctx, NewTransaction{
		ID: "dup", AgentID: testAgent, Wallet: testWallet, Type: domain.TransactionDeposit,
		Input: domain.TokenAmount{Token: domain.BaseMint, Amount: dec("1")},
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.True(t, h.storedBalance(t, domain.BaseMint).Equal(dec("2")))
}

func TestTradeService_BurnClosesEmptyPosition(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, "10")
	h.buy(t, "2", "1000")

	res, err := h.trades.Record(context.Background(), NewTransaction{
		AgentID: testAgent, Wallet: testWallet, Type: domain.TransactionBurn,
		Input: domain.TokenAmount{Token: testToken, Amount: dec("1000")},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Closed)
	assert.Equal(t, 0, h.db.Positions().Count())
}

func TestTradeService_ExecuteBuy(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, "10")

	res, err := h.trades.ExecuteBuy(context.Background(), BuyParams{
		AgentID: testAgent, Wallet: testWallet, Token: testToken, Symbol: "TKN", AmountSol: dec("2"),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Created)
	assert.True(t, res.Created.PurchaseAmount.Equal(dec("1000")))
	assert.True(t, h.storedBalance(t, domain.BaseMint).Equal(dec("8")))

	_, err = h.trades.ExecuteBuy(context.Background(), BuyParams{
		AgentID: testAgent, Wallet: testWallet, Token: testToken, AmountSol: dec("50"),
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Len(t, h.swaps.reqs, 1, "no swap without funds")
}

func TestTradeService_FailedSwapChangesNothing(t *testing.T) {
	cases := []struct {
		name string
		res  domain.SwapResult
		err  error
		kind error
	}{
		{name: "executor error", err: errors.New("rpc down"), kind: domain.ErrUnavailable},
		{name: "not filled", res: domain.SwapResult{Reason: "slippage exceeded"}, kind: domain.ErrConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.deposit(t, "10")
			h.swaps.res, h.swaps.err = tc.res, tc.err

			_, err := h.trades.ExecuteBuy(context.Background(), BuyParams{
				AgentID: testAgent, Wallet: testWallet, Token: testToken, AmountSol: dec("2"),
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrSwapFailed)
			assert.ErrorIs(t, err, tc.kind)
			assert.True(t, h.storedBalance(t, domain.BaseMint).Equal(dec("10")))
			assert.Equal(t, 0, h.db.Positions().Count())
		})
	}
}

func TestTradeService_ExecuteStopLoss(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, "10")
	pos := h.buy(t, "2", "1000")
	h.swaps.price = dec("0.0015")

	res, err := h.trades.ExecuteStopLoss(context.Background(), pos)
	require.NoError(t, err)
	require.NotNil(t, res.Closed)
	assert.True(t, res.Closed.RealizedProfit.Equal(dec("-0.5")), "got %s", res.Closed.RealizedProfit)

	assert.True(t, h.storedBalance(t, domain.BaseMint).Equal(dec("9.5")))
	assert.True(t, h.storedBalance(t, testToken).IsZero())
	assert.Equal(t, 0, h.db.Positions().Count())
	assert.Equal(t, []domain.PositionEventType{domain.PositionCreated, domain.PositionClosed}, h.sink.types())
	sell := h.auditEntry(t, "position_sell")
	assert.Equal(t, "stop_loss", sell.Detail["reason"])
	assert.Equal(t, "-0.5", sell.Detail["pnl"])
	closed := h.auditEntry(t, "position_closed")
	assert.Equal(t, "-0.5", closed.Detail["realized_profit"], "close records the final P&L")

	req := h.swaps.reqs[len(h.swaps.reqs)-1]
	assert.Equal(t, testToken, req.InputToken)
	assert.True(t, req.Amount.Equal(dec("1000")))
}

func TestTradeService_ExecuteDCA(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, "10")
	pos := h.buy(t, "2", "1000")
	h.swaps.price = dec("0.001")

	res, err := h.trades.ExecuteDCA(context.Background(), pos, risk.DCAResult{ShouldTrigger: true, BuyAmountSol: dec("1")}, 4)
	require.NoError(t, err)
	require.NotNil(t, res.Updated)

	updated := *res.Updated
	assert.True(t, updated.PurchaseAmount.Equal(dec("2000")))
	assert.True(t, updated.TotalInvested.Equal(dec("3")))
	assert.True(t, updated.PurchasePrice.Equal(dec("0.0015")), "got %s", updated.PurchasePrice)
	assert.Equal(t, 1, updated.DCACount)
	assert.Equal(t, []string{res.Transaction.ID}, updated.DCATransactionIDs)
	assert.True(t, h.storedBalance(t, domain.BaseMint).Equal(dec("7")))
	assert.True(t, h.storedBalance(t, testToken).Equal(dec("2000")))
	assert.Equal(t, []domain.PositionEventType{domain.PositionCreated, domain.PositionUpdated}, h.sink.types())

	_, err = h.trades.ExecuteDCA(context.Background(), pos, risk.DCAResult{}, 4)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestTradeService_ExecuteTakeProfit(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, "10")
	pos := h.buy(t, "2", "1000")
	h.swaps.price = dec("0.003")

	res, err := h.trades.ExecuteTakeProfit(context.Background(), pos, risk.TakeProfitResult{
		ShouldTrigger:  true,
		LevelsExecuted: 1,
		SellAmount:     dec("250"),
		NewRemaining:   dec("750"),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Updated)
	assert.Nil(t, res.Closed)

	updated := *res.Updated
	require.NotNil(t, updated.RemainingAmount)
	assert.True(t, updated.RemainingAmount.Equal(dec("750")))
	assert.Equal(t, 1, updated.TakeProfitLevelsHit)
	assert.True(t, updated.RealizedProfit.Equal(dec("0.25")), "got %s", updated.RealizedProfit)
	assert.True(t, h.storedBalance(t, domain.BaseMint).Equal(dec("8.75")))
	assert.True(t, h.storedBalance(t, testToken).Equal(dec("750")))

	res, err = h.trades.ExecuteTakeProfit(context.Background(), updated, risk.TakeProfitResult{
		ShouldTrigger:  true,
		LevelsExecuted: 3,
		SellAmount:     dec("750"),
		FullExit:       true,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Closed)
	assert.Equal(t, 0, h.db.Positions().Count())
}

func TestTradeService_SellOfClosedPositionIsStillBooked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "10")
	stale := h.buy(t, "2", "1000")
	_, err := h.positions.Close(ctx, stale.ID)
	require.NoError(t, err)
	h.swaps.price = dec("0.0015")

	res, err := h.trades.ExecuteStopLoss(ctx, stale)
	require.NoError(t, err)
	assert.Nil(t, res.Closed)
	require.Len(t, h.swaps.reqs, 1)

	assert.True(t, h.storedBalance(t, domain.BaseMint).Equal(dec("9.5")), "realized proceeds are booked")
	assert.True(t, h.storedBalance(t, testToken).IsZero())
	_, err = h.db.Transactions().GetByID(ctx, res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, "1000", h.auditEntry(t, "position_sell").Detail["sold"])
	assert.Equal(t, []domain.PositionEventType{domain.PositionCreated, domain.PositionClosed}, h.sink.types())
}

func TestTradeService_DCAAfterCloseOpensNewPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "10")
	stale := h.buy(t, "2", "1000")
	_, err := h.positions.Close(ctx, stale.ID)
	require.NoError(t, err)

	res, err := h.trades.ExecuteDCA(ctx, stale, risk.DCAResult{ShouldTrigger: true, BuyAmountSol: dec("1")}, 4)
	require.NoError(t, err)
	assert.Nil(t, res.Updated)
	require.NotNil(t, res.Created)
	assert.NotEqual(t, stale.ID, res.Created.ID)
	assert.True(t, res.Created.PurchaseAmount.Equal(dec("500")))

	assert.True(t, h.storedBalance(t, domain.BaseMint).Equal(dec("7")))
	assert.True(t, h.storedBalance(t, testToken).Equal(dec("1500")))
	assert.Equal(t, 1, h.db.Positions().Count())
}

func TestTradeService_TakeProfitFromStaleCopyKeepsDCATokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "10")
	stale := h.buy(t, "2", "1000")

	_, err := h.trades.ExecuteDCA(ctx, stale, risk.DCAResult{ShouldTrigger: true, BuyAmountSol: dec("1")}, 4)
	require.NoError(t, err)

	h.swaps.price = dec("0.003")
	res, err := h.trades.ExecuteTakeProfit(ctx, stale, risk.TakeProfitResult{
		ShouldTrigger:  true,
		LevelsExecuted: 1,
		SellAmount:     dec("250"),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Updated)

	updated := *res.Updated
	assert.True(t, updated.PurchaseAmount.Equal(dec("1500")))
	require.NotNil(t, updated.RemainingAmount)
	assert.True(t, updated.RemainingAmount.Equal(dec("1250")), "got %s", updated.RemainingAmount)
	assert.True(t, h.storedBalance(t, testToken).Equal(*updated.RemainingAmount), "position matches the wallet")
}

func TestTradeService_PositionStepFailureKeepsBooking(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "10")
	pos := h.buy(t, "2", "1000")
	h.swaps.price = dec("0.003")
	h.db.Fail("positions.Update", memstore.ErrInjected)

	res, err := h.trades.ExecuteTakeProfit(ctx, pos, risk.TakeProfitResult{
		ShouldTrigger:  true,
		LevelsExecuted: 1,
		SellAmount:     dec("250"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, memstore.ErrInjected)
	assert.Nil(t, res.Updated)
	require.NotEmpty(t, res.Transaction.ID)

	_, err = h.db.Transactions().GetByID(ctx, res.Transaction.ID)
	require.NoError(t, err, "the sale stays booked")
	assert.True(t, h.storedBalance(t, domain.BaseMint).Equal(dec("8.75")))
	assert.True(t, h.storedBalance(t, testToken).Equal(dec("750")))
}
