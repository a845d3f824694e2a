// Package executor provides swap executors: a paper-trading executor that
// fills at the oracle price and a guard that suppresses repeated requests.
package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

// SimulatedConfig configures Simulated.
type SimulatedConfig struct {
	// SlippageBps is taken off every fill.
	SlippageBps int64
	// FeeSol is charged on the base-currency side of every fill.
	FeeSol decimal.Decimal
}

// Simulated fills swaps at the oracle's base-currency price. Exactly one side
// of a request must be the base currency.
type Simulated struct {
	oracle domain.PriceOracle
	cfg    SimulatedConfig
	logger *zap.Logger
}

var _ domain.SwapExecutor = (*Simulated)(nil)

// NewSimulated creates a Simulated executor pricing fills with oracle.
func NewSimulated(oracle domain.PriceOracle, cfg SimulatedConfig, logger *zap.Logger) *Simulated {
	return &Simulated{
		oracle: oracle,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "sim_executor")),
	}
}

// Execute fills req. Pricing failures come back as errors; an unpriceable
// or degenerate request is an unsuccessful result.
func (s *Simulated) Execute(ctx context.Context, req domain.SwapRequest) (domain.SwapResult, error) {
	if !req.Amount.IsPositive() {
		return domain.SwapResult{Reason: "amount must be positive"}, nil
	}

	buy := domain.IsBaseToken(req.InputToken) && !domain.IsBaseToken(req.OutputToken)
	sell := domain.IsBaseToken(req.OutputToken) && !domain.IsBaseToken(req.InputToken)
	if !buy && !sell {
		return domain.SwapResult{Reason: "exactly one side must be " + domain.BaseSymbol}, nil
	}

	token := req.OutputToken
	if sell {
		token = req.InputToken
	}
	p, err := s.oracle.GetPrice(ctx, token)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("executor: price %s: %w", token, err)
	}
	if !p.InBase.IsPositive() {
		return domain.SwapResult{Reason: "no usable price"}, nil
	}

	keep := decimal.NewFromInt(1).Sub(decimal.New(s.cfg.SlippageBps, -4))
	var out decimal.Decimal
	if buy {
		spend := req.Amount.Sub(s.cfg.FeeSol)
		out = spend.Mul(keep).Div(p.InBase)
	} else {
		out = req.Amount.Mul(p.InBase).Mul(keep).Sub(s.cfg.FeeSol)
	}
	if !out.IsPositive() {
		return domain.SwapResult{Reason: "fill below fees"}, nil
	}

	res := domain.SwapResult{
		Success:      true,
		InputAmount:  req.Amount,
		OutputAmount: out,
		Signature:    "sim-" + strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
	s.logger.Debug("simulated fill",
		zap.String("agent_id", req.AgentID),
		zap.String("input", req.InputToken),
		zap.String("output", req.OutputToken),
		zap.String("in", res.InputAmount.String()),
		zap.String("out", res.OutputAmount.String()),
		zap.String("price", p.InBase.String()),
	)
	return res, nil
}
