// Package monitor drives the price-dependent risk rules. On every tick it
// prices each token that has open positions and runs stop-loss, DCA and
// take-profit against each position, in that order.
package monitor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/metrics"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/risk"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/service"
)

// Positions is what the monitor reads and records on positions.
type Positions interface {
	ListTokens(ctx context.Context) ([]string, error)
	QueryByToken(ctx context.Context, token string) ([]domain.Position, error)
	RecordLowestPrice(ctx context.Context, id string, price decimal.Decimal) (domain.Position, error)
}

// Trader executes the swaps the rules recommend.
type Trader interface {
	ExecuteStopLoss(ctx context.Context, pos domain.Position) (service.RecordResult, error)
	ExecuteDCA(ctx context.Context, pos domain.Position, rec risk.DCAResult, takeProfitLevels int) (service.RecordResult, error)
	ExecuteTakeProfit(ctx context.Context, pos domain.Position, rec risk.TakeProfitResult) (service.RecordResult, error)
}

// StopLoss evaluates trailing stops.
type StopLoss interface {
	Evaluate(ctx context.Context, pos domain.Position, price decimal.Decimal, cfg *domain.StopLossConfig) (risk.StopLossResult, error)
}

// Config configures a Monitor.
type Config struct {
	Interval time.Duration
	Workers  int
}

// Monitor evaluates open positions against live prices.
type Monitor struct {
	positions Positions
	oracle    domain.PriceOracle
	configs   risk.ConfigSource
	stopLoss  StopLoss
	dca       *risk.DCAEvaluator
	tp        *risk.TakeProfitEvaluator
	trader    Trader
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a Monitor.
func New(
	positions Positions,
	oracle domain.PriceOracle,
	configs risk.ConfigSource,
	stopLoss StopLoss,
	dca *risk.DCAEvaluator,
	tp *risk.TakeProfitEvaluator,
	trader Trader,
	cfg Config,
	logger *zap.Logger,
) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	return &Monitor{
		positions: positions,
		oracle:    oracle,
		configs:   configs,
		stopLoss:  stopLoss,
		dca:       dca,
		tp:        tp,
		trader:    trader,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "monitor")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run ticks every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("position monitor started", zap.Duration("interval", m.cfg.Interval), zap.Int("workers", m.cfg.Workers))
	defer m.logger.Info("position monitor stopped")

	t := time.NewTicker(m.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.Tick(ctx)
		}
	}
}

// Tick evaluates every token with open positions once. Tokens are priced
// and evaluated concurrently on a bounded pool.
func (m *Monitor) Tick(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.MonitorTickDuration.Observe(time.Since(start).Seconds()) }()

	tokens, err := m.positions.ListTokens(ctx)
	if err != nil {
		m.logger.Warn("list tokens failed", zap.Error(err))
		return
	}

	var seen atomic.Int64
	p := pool.New().WithMaxGoroutines(m.cfg.Workers)
	for _, token := range tokens {
		p.Go(func() {
			price, err := m.oracle.GetPrice(ctx, token)
			if err != nil {
				m.logOracleError(token, err)
				return
			}
			seen.Add(int64(m.evaluateToken(ctx, token, price.InBase)))
		})
	}
	p.Wait()
	metrics.OpenPositions.Set(float64(seen.Load()))
}

// EvaluateToken runs the rules against every open position in token at
// price, which is in the base currency.
func (m *Monitor) EvaluateToken(ctx context.Context, token string, price decimal.Decimal) {
	m.evaluateToken(ctx, token, price)
}

// evaluateToken returns how many positions it looked at.
func (m *Monitor) evaluateToken(ctx context.Context, token string, price decimal.Decimal) int {
	if !price.IsPositive() {
		m.logger.Warn("non-positive price, skipping token", zap.String("token", token), zap.String("price", price.String()))
		return 0
	}
	positions, err := m.positions.QueryByToken(ctx, token)
	if err != nil {
		m.logger.Warn("query positions failed", zap.String("token", token), zap.Error(err))
		return 0
	}
	for _, pos := range positions {
		if ctx.Err() != nil {
			break
		}
		m.evaluate(ctx, pos, price)
	}
	return len(positions)
}

func (m *Monitor) evaluate(ctx context.Context, pos domain.Position, price decimal.Decimal) {
	log := m.logger.With(zap.String("position_id", pos.ID), zap.String("token", pos.TokenAddress))

	cfg, err := m.configs.Load(ctx, pos.AgentID)
	if err != nil {
		log.Warn("load trading config failed", zap.Error(err))
		return
	}

	if pos.LowestPrice == nil || price.LessThan(*pos.LowestPrice) {
		if _, err := m.positions.RecordLowestPrice(ctx, pos.ID, price); err != nil && !errors.Is(err, domain.ErrNotFound) {
			log.Warn("record lowest price failed", zap.Error(err))
		}
	}

	if cfg.StopLoss.Enabled {
		res, err := m.stopLoss.Evaluate(ctx, pos, price, &cfg.StopLoss)
		if err != nil {
			log.Warn("stop-loss evaluation failed", zap.Error(err))
		} else if res.ShouldTrigger {
			log.Info("stop-loss hit",
				zap.String("price", price.String()),
				zap.String("stop_price", res.StopPrice.String()),
				zap.String("stop_pct", res.CurrentStopPct.String()),
			)
			if _, err := m.trader.ExecuteStopLoss(ctx, pos); err != nil {
				log.Warn("stop-loss sell failed", zap.Error(err))
			}
			return
		}
	}

	if rec := m.dca.Evaluate(pos, price, cfg.DCA, m.now()); rec.ShouldTrigger {
		metrics.RiskTriggers.WithLabelValues("dca").Inc()
		log.Info("dca level reached",
			zap.Int("level", rec.LevelIndex),
			zap.String("drop_pct", rec.DropPct.StringFixed(2)),
			zap.String("buy_sol", rec.BuyAmountSol.String()),
		)
		if _, err := m.trader.ExecuteDCA(ctx, pos, rec, len(cfg.TakeProfit.Levels)); err != nil {
			log.Warn("dca buy failed", zap.Error(err))
		}
		return
	}

	if rec := m.tp.Evaluate(pos, price, cfg.TakeProfit); rec.ShouldTrigger {
		metrics.RiskTriggers.WithLabelValues("take_profit").Inc()
		log.Info("take-profit level reached",
			zap.Int("levels", rec.LevelsExecuted),
			zap.String("gain_pct", rec.GainPct.StringFixed(2)),
			zap.String("sell_amount", rec.SellAmount.String()),
			zap.Bool("full_exit", rec.FullExit),
		)
		if _, err := m.trader.ExecuteTakeProfit(ctx, pos, rec); err != nil {
			log.Warn("take-profit sell failed", zap.Error(err))
		}
	}
}

func (m *Monitor) logOracleError(token string, err error) {
	switch {
	case errors.Is(err, domain.ErrPriceNotFound):
		m.logger.Debug("no price for token, skipping", zap.String("token", token))
	default:
		m.logger.Warn("price lookup failed, skipping token", zap.String("token", token), zap.Error(err))
	}
}

// PriceTick is a price update published on the signal bus.
type PriceTick struct {
	Token     string          `json:"token"`
	PriceBase decimal.Decimal `json:"price_base"`
}

// RunPriceFeed evaluates tokens as soon as a price tick for them arrives on
// channel, in addition to the polling loop.
func (m *Monitor) RunPriceFeed(ctx context.Context, bus domain.SignalBus, channel string) error {
	msgs, err := bus.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	m.logger.Info("price feed subscribed", zap.String("channel", channel))

	p := pool.New().WithMaxGoroutines(m.cfg.Workers)
	defer p.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-msgs:
			if !ok {
				return nil
			}
			var t PriceTick
			if err := sonic.Unmarshal(raw, &t); err != nil || strings.TrimSpace(t.Token) == "" {
				m.logger.Debug("malformed price tick", zap.ByteString("payload", raw), zap.Error(err))
				continue
			}
			p.Go(func() { m.EvaluateToken(ctx, t.Token, t.PriceBase) })
		}
	}
}
