package executor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

const token = "TokenMint111"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type mockOracle struct{ mock.Mock }

func (m *mockOracle) GetPrice(ctx context.Context, token string) (domain.Price, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(domain.Price), args.Error(1)
}

func quote(p string) domain.Price {
	return domain.Price{Token: token, InBase: dec(p), AsOf: time.Now()}
}

func TestSimulated_Buy(t *testing.T) {
	oracle := &mockOracle{}
	oracle.On("GetPrice", mock.Anything, token).Return(quote("0.002"), nil).Once()
	sim := NewSimulated(oracle, SimulatedConfig{SlippageBps: 100, FeeSol: dec("0.01")}, zap.NewNop())

	res, err := sim.Execute(context.Background(), domain.SwapRequest{
		InputToken: domain.BaseMint, OutputToken: token, Amount: dec("2"),
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.InputAmount.Equal(dec("2")))
	assert.True(t, res.OutputAmount.Equal(dec("985.05")), "got %s", res.OutputAmount)
	assert.True(t, strings.HasPrefix(res.Signature, "sim-"))
	oracle.AssertExpectations(t)
}

func TestSimulated_Sell(t *testing.T) {
	oracle := &mockOracle{}
	oracle.On("GetPrice", mock.Anything, token).Return(quote("0.002"), nil).Once()
	sim := NewSimulated(oracle, SimulatedConfig{}, zap.NewNop())

	res, err := sim.Execute(context.Background(), domain.SwapRequest{
		InputToken: token, OutputToken: domain.BaseMint, Amount: dec("1000"),
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.OutputAmount.Equal(dec("2")))
}

func TestSimulated_Unfillable(t *testing.T) {
	cases := []struct {
		name  string
		req   domain.SwapRequest
		price string
	}{
		{name: "zero amount", req: domain.SwapRequest{InputToken: domain.BaseMint, OutputToken: token}},
		{name: "no base side", req: domain.SwapRequest{InputToken: "a", OutputToken: "b", Amount: dec("1")}},
		{name: "both base", req: domain.SwapRequest{InputToken: domain.BaseMint, OutputToken: domain.BaseMint, Amount: dec("1")}},
		{name: "zero price", req: domain.SwapRequest{InputToken: domain.BaseMint, OutputToken: token, Amount: dec("1")}, price: "0"},
		{name: "fee eats fill", req: domain.SwapRequest{InputToken: domain.BaseMint, OutputToken: token, Amount: dec("0.001")}, price: "1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			oracle := &mockOracle{}
			if tc.price != "" {
				oracle.On("GetPrice", mock.Anything, token).Return(quote(tc.price), nil)
			}
			sim := NewSimulated(oracle, SimulatedConfig{FeeSol: dec("0.01")}, zap.NewNop())

			res, err := sim.Execute(context.Background(), tc.req)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.NotEmpty(t, res.Reason)
		})
	}
}

func TestSimulated_PriceError(t *testing.T) {
	oracle := &mockOracle{}
	oracle.On("GetPrice", mock.Anything, token).Return(domain.Price{}, domain.ErrPriceUnavailable)
	sim := NewSimulated(oracle, SimulatedConfig{}, zap.NewNop())

	_, err := sim.Execute(context.Background(), domain.SwapRequest{InputToken: domain.BaseMint, OutputToken: token, Amount: dec("1")})
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

type stubExecutor struct {
	calls atomic.Int32
	res   domain.SwapResult
	err   error
}

func (s *stubExecutor) Execute(context.Context, domain.SwapRequest) (domain.SwapResult, error) {
	s.calls.Add(1)
	return s.res, s.err
}

func sellReq() domain.SwapRequest {
	return domain.SwapRequest{AgentID: "a1", WalletAddress: "w1", InputToken: token, OutputToken: domain.BaseMint, Amount: dec("10")}
}

func TestDedup_SuppressesRepeats(t *testing.T) {
	next := &stubExecutor{res: domain.SwapResult{Success: true}}
	d := NewDedup(next, time.Minute)
	ctx := context.Background()

	res, err := d.Execute(ctx, sellReq())
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = d.Execute(ctx, sellReq())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "duplicate swap suppressed", res.Reason)
	assert.Equal(t, int32(1), next.calls.Load())

	other := sellReq()
	other.Amount = dec("11")
	_, err = d.Execute(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load(), "different amount is a different swap")
}

func TestDedup_FailureClearsMark(t *testing.T) {
	next := &stubExecutor{err: errors.New("rpc down")}
	d := NewDedup(next, time.Minute)
	ctx := context.Background()

	_, err := d.Execute(ctx, sellReq())
	require.Error(t, err)

	next.err = nil
	next.res = domain.SwapResult{Reason: "slippage"}
	res, err := d.Execute(ctx, sellReq())
	require.NoError(t, err)
	assert.Equal(t, "slippage", res.Reason)

	next.res = domain.SwapResult{Success: true}
	res, err = d.Execute(ctx, sellReq())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int32(3), next.calls.Load())
}

func TestDedup_MarkExpires(t *testing.T) {
	next := &stubExecutor{res: domain.SwapResult{Success: true}}
	d := NewDedup(next, 20*time.Millisecond)

	_, err := d.Execute(context.Background(), sellReq())
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)
	d.Cleanup()

	res, err := d.Execute(context.Background(), sellReq())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestDedup_RunCleanupStopsOnCancel(t *testing.T) {
	d := NewDedup(&stubExecutor{}, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.RunCleanup(ctx, time.Millisecond) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunCleanup did not return")
	}
}
