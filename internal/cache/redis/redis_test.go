package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestBalanceCache_SetGetInvalidate(t *testing.T) {
	c, _ := newTestClient(t)
	bc := NewBalanceCache(c)
	ctx := context.Background()

	_, err := bc.Get(ctx, "w1", "tok")
	require.ErrorIs(t, err, domain.ErrNotFound)

	b := domain.Balance{WalletAddress: "w1", TokenAddress: "tok", TokenSymbol: "TOK", Amount: decimal.RequireFromString("12.5")}
	require.NoError(t, bc.Set(ctx, b))

	got, err := bc.Get(ctx, "w1", "tok")
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(b.Amount))
	assert.Equal(t, "TOK", got.TokenSymbol)

	require.NoError(t, bc.Invalidate(ctx, "w1", "tok"))
	_, err = bc.Get(ctx, "w1", "tok")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBalanceCache_UnreachableIsNotAMiss(t *testing.T) {
	c, mr := newTestClient(t)
	bc := NewBalanceCache(c)

	mr.SetError("ERR injected")
	_, err := bc.Get(context.Background(), "w1", "tok")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestPositionCache_IndexesFollowRow(t *testing.T) {
	c, _ := newTestClient(t)
	pc := NewPositionCache(c)
	ctx := context.Background()

	pos := domain.Position{
		ID:             "p1",
		AgentID:        "agent",
		WalletAddress:  "w1",
		TokenAddress:   "MintABC",
		PurchasePrice:  decimal.NewFromInt(2),
		PurchaseAmount: decimal.NewFromInt(10),
		PeakPrice:      domain.DecimalPtr(decimal.NewFromInt(3)),
	}
	require.NoError(t, pc.Set(ctx, pos))

	got, err := pc.Get(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got.PeakPrice)
	assert.True(t, got.PeakPrice.Equal(decimal.NewFromInt(3)))

	ids, err := pc.IDsByAgent(ctx, "agent")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ids)

	ids, err = pc.IDsByToken(ctx, "mintabc")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ids, "token index is case-insensitive")

	require.NoError(t, pc.Delete(ctx, pos))
	_, err = pc.Get(ctx, "p1")
	require.ErrorIs(t, err, domain.ErrNotFound)
	ids, err = pc.IDsByAgent(ctx, "agent")
	require.NoError(t, err)
	assert.Empty(t, ids)
	ids, err = pc.IDsByToken(ctx, "MINTABC")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestTradingConfigCache(t *testing.T) {
	c, _ := newTestClient(t)
	cc := NewTradingConfigCache(c)
	ctx := context.Background()

	_, err := cc.Get(ctx, "agent")
	require.ErrorIs(t, err, domain.ErrNotFound)

	cfg := domain.TradingConfig{}
	cfg.StopLoss.Enabled = true
	cfg.StopLoss.DefaultPercentage = decimal.NewFromInt(-32)
	require.NoError(t, cc.Set(ctx, "agent", cfg))

	got, err := cc.Get(ctx, "agent")
	require.NoError(t, err)
	assert.True(t, got.StopLoss.Enabled)
	assert.True(t, got.StopLoss.DefaultPercentage.Equal(decimal.NewFromInt(-32)))

	require.NoError(t, cc.Invalidate(ctx, "agent"))
	_, err = cc.Get(ctx, "agent")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLockManager_MutualExclusion(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	tok, ok, err := lm.Acquire(ctx, "stoploss:p1", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, tok)

	_, ok, err = lm.Acquire(ctx, "stoploss:p1", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	released, err := lm.Release(ctx, "stoploss:p1", "someone-else")
	require.NoError(t, err)
	assert.False(t, released)

	extended, err := lm.Extend(ctx, "stoploss:p1", tok, 20*time.Second)
	require.NoError(t, err)
	assert.True(t, extended)
	assert.Equal(t, 20*time.Second, mr.TTL("lock:stoploss:p1"))

	released, err = lm.Release(ctx, "stoploss:p1", tok)
	require.NoError(t, err)
	assert.True(t, released)

	_, ok, err = lm.Acquire(ctx, "stoploss:p1", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockManager_ExpiresWithTTL(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	_, ok, err := lm.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = lm.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPriceCache_RoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	pc := NewPriceCache(c, 5*time.Second)
	ctx := context.Background()

	_, err := pc.GetPrice(ctx, "tok")
	require.ErrorIs(t, err, domain.ErrNotFound)

	asOf := time.Unix(1700000000, 42)
	require.NoError(t, pc.SetPrice(ctx, domain.Price{
		Token:   "tok",
		InBase:  decimal.RequireFromString("0.0015"),
		InQuote: decimal.RequireFromString("0.21"),
		AsOf:    asOf,
	}))

	got, err := pc.GetPrice(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, got.InBase.Equal(decimal.RequireFromString("0.0015")))
	assert.True(t, got.InQuote.Equal(decimal.RequireFromString("0.21")))
	assert.True(t, got.AsOf.Equal(asOf))

	mr.FastForward(6 * time.Second)
	_, err = pc.GetPrice(ctx, "tok")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSignalBus_PublishSubscribe(t *testing.T) {
	c, _ := newTestClient(t)
	sb := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := sb.Subscribe(ctx, ChannelPriceTicks)
	require.NoError(t, err)

	require.NoError(t, sb.PublishJSON(ctx, ChannelPriceTicks, map[string]string{"token": "tok"}))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"token":"tok"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestSignalBus_Stream(t *testing.T) {
	c, _ := newTestClient(t)
	sb := NewSignalBus(c)
	ctx := context.Background()

	msgs, err := sb.StreamRead(ctx, StreamPositionEvents, "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, sb.StreamAppend(ctx, StreamPositionEvents, []byte(`{"n":1}`)))
	require.NoError(t, sb.StreamAppend(ctx, StreamPositionEvents, []byte(`{"n":2}`)))

	msgs, err = sb.StreamRead(ctx, StreamPositionEvents, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, `{"n":1}`, string(msgs[0].Payload))

	msgs, err = sb.StreamRead(ctx, StreamPositionEvents, msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, `{"n":2}`, string(msgs[0].Payload))
}
