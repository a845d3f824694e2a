// Package risk holds the price-driven rules evaluated against open
// positions: the trailing stop-loss, DCA re-buys and the take-profit ladder.
package risk

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/metrics"
)

// PeakPriceEpsilon is the default relative change of the peak price below
// which a stop-loss evaluation does not persist.
var PeakPriceEpsilon = decimal.New(1, -4)

// MinPurchasePrice is the smallest purchase price a gain is computed
// against.
var MinPurchasePrice = decimal.New(1, -12)

// DefaultStopLossLockTTL bounds how long a crashed evaluation blocks the
// next one.
const DefaultStopLossLockTTL = 10 * time.Second

// StopLossPositions is what the evaluator needs from the position manager.
type StopLossPositions interface {
	// Reload reads the position from the backing store, bypassing the cache.
	Reload(ctx context.Context, id string) (domain.Position, error)
	Update(ctx context.Context, id string, upd domain.StopLossUpdate) (domain.Position, error)
}

// ConfigSource resolves an agent's trading configuration.
type ConfigSource interface {
	Load(ctx context.Context, agentID string) (domain.TradingConfig, error)
}

// StopLossResult is the outcome of one evaluation.
type StopLossResult struct {
	ShouldTrigger  bool
	CurrentStopPct decimal.Decimal
	StopPrice      decimal.Decimal
	Updated        bool
}

// StopLossEvaluator tightens trailing stops and reports when price falls
// through them. Evaluations of one position are serialized through the
// lock manager across processes.
type StopLossEvaluator struct {
	positions StopLossPositions
	configs   ConfigSource
	locks     domain.LockManager
	logger    *zap.Logger

	lockTTL     time.Duration
	peakEps     decimal.Decimal
	minPurchase decimal.Decimal
}

// StopLossOption customizes a StopLossEvaluator.
type StopLossOption func(*StopLossEvaluator)

// WithLockTTL overrides DefaultStopLossLockTTL.
func WithLockTTL(ttl time.Duration) StopLossOption {
	return func(e *StopLossEvaluator) { e.lockTTL = ttl }
}

// WithPeakEpsilon overrides PeakPriceEpsilon.
func WithPeakEpsilon(eps decimal.Decimal) StopLossOption {
	return func(e *StopLossEvaluator) { e.peakEps = eps }
}

// WithMinPurchasePrice overrides MinPurchasePrice.
func WithMinPurchasePrice(p decimal.Decimal) StopLossOption {
	return func(e *StopLossEvaluator) { e.minPurchase = p }
}

// NewStopLossEvaluator creates a StopLossEvaluator.
func NewStopLossEvaluator(
	positions StopLossPositions,
	configs ConfigSource,
	locks domain.LockManager,
	logger *zap.Logger,
	opts ...StopLossOption,
) *StopLossEvaluator {
	e := &StopLossEvaluator{
		positions:   positions,
		configs:     configs,
		locks:       locks,
		logger:      logger.With(zap.String("component", "stop_loss")),
		lockTTL:     DefaultStopLossLockTTL,
		peakEps:     PeakPriceEpsilon,
		minPurchase: MinPurchasePrice,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func stopLossLockKey(positionID string) string {
	return "stoploss:" + positionID
}

// Evaluate runs one trailing-stop step for pos at price. cfg may be nil, in
// which case the agent's configuration is loaded. A held or unreachable lock
// returns a zero result without error: another evaluation is in flight.
func (e *StopLossEvaluator) Evaluate(ctx context.Context, pos domain.Position, price decimal.Decimal, cfg *domain.StopLossConfig) (StopLossResult, error) {
	if !price.IsPositive() {
		e.logger.Warn("non-positive price, skipping",
			zap.String("position_id", pos.ID), zap.String("price", price.String()))
		metrics.StopLossEvaluations.WithLabelValues("invalid_price").Inc()
		return StopLossResult{}, nil
	}

	key := stopLossLockKey(pos.ID)
	token, ok, err := e.locks.Acquire(ctx, key, e.lockTTL)
	if err != nil {
		e.logger.Warn("stop-loss lock unavailable, skipping cycle",
			zap.String("position_id", pos.ID), zap.Error(err))
		metrics.LockContention.WithLabelValues("stoploss", "unavailable").Inc()
		return StopLossResult{}, nil
	}
	if !ok {
		metrics.LockContention.WithLabelValues("stoploss", "held").Inc()
		return StopLossResult{}, nil
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, err := e.locks.Release(relCtx, key, token); err != nil {
			e.logger.Warn("release stop-loss lock", zap.String("position_id", pos.ID), zap.Error(err))
		}
	}()

	res, err := e.evaluateLocked(ctx, pos.ID, pos.AgentID, price, cfg)
	if err != nil {
		metrics.StopLossEvaluations.WithLabelValues("error").Inc()
		return StopLossResult{}, err
	}
	switch {
	case res.ShouldTrigger:
		metrics.StopLossEvaluations.WithLabelValues("triggered").Inc()
		metrics.RiskTriggers.WithLabelValues("stop_loss").Inc()
	case res.Updated:
		metrics.StopLossEvaluations.WithLabelValues("tightened").Inc()
	default:
		metrics.StopLossEvaluations.WithLabelValues("unchanged").Inc()
	}
	return res, nil
}

func (e *StopLossEvaluator) evaluateLocked(ctx context.Context, id, agentID string, price decimal.Decimal, cfg *domain.StopLossConfig) (StopLossResult, error) {
	pos, err := e.positions.Reload(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return StopLossResult{}, nil
		}
		return StopLossResult{}, err
	}

	if cfg == nil {
		tc, err := e.configs.Load(ctx, agentID)
		if err != nil {
			return StopLossResult{}, err
		}
		cfg = &tc.StopLoss
	}
	if !cfg.Enabled {
		return StopLossResult{}, nil
	}

	strategy, err := StrategyFor(*cfg)
	if err != nil {
		return StopLossResult{}, err
	}

	purchase := pos.PurchasePrice
	if purchase.LessThanOrEqual(e.minPurchase) {
		e.logger.Warn("degenerate purchase price, skipping",
			zap.String("position_id", id), zap.String("purchase_price", purchase.String()))
		return StopLossResult{}, nil
	}

	peak := purchase
	if pos.PeakPrice != nil {
		peak = *pos.PeakPrice
	}
	peak = decimal.Max(peak, price)

	gain, ok := domain.PercentChange(peak, purchase)
	if !ok {
		return StopLossResult{}, nil
	}

	def := cfg.DefaultPercentage
	target := def
	if !gain.IsNegative() {
		target = strategy(gain, def)
	}

	current := def
	if pos.CurrentStopLossPct != nil {
		current = *pos.CurrentStopLossPct
	}
	newPct := decimal.Max(target, current)

	stopPrice := domain.ApplyPercent(purchase, newPct)
	res := StopLossResult{
		ShouldTrigger:  price.LessThanOrEqual(stopPrice),
		CurrentStopPct: newPct,
		StopPrice:      stopPrice,
	}

	pctChanged := pos.CurrentStopLossPct == nil || !newPct.Equal(*pos.CurrentStopLossPct)
	peakChanged := pos.PeakPrice == nil || peak.Sub(*pos.PeakPrice).Abs().GreaterThan(pos.PeakPrice.Mul(e.peakEps))
	if !pctChanged && !peakChanged {
		return res, nil
	}

	if _, err := e.positions.Update(ctx, id, domain.StopLossUpdate{
		StopLossPct: domain.DecimalPtr(newPct),
		PeakPrice:   domain.DecimalPtr(peak),
	}); err != nil {
		return StopLossResult{}, err
	}
	res.Updated = true

	if pctChanged {
		e.logger.Info("stop-loss tightened",
			zap.String("position_id", id),
			zap.String("stop_pct", newPct.String()),
			zap.String("peak_price", peak.String()),
			zap.String("stop_price", stopPrice.String()),
		)
	}
	return res, nil
}
