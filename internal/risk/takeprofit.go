package risk

import (
	"github.com/shopspring/decimal"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

// TakeProfitResult is the recommendation of one take-profit evaluation.
type TakeProfitResult struct {
	ShouldTrigger   bool
	GainPct         decimal.Decimal
	LevelsExecuted  int
	SellAmount      decimal.Decimal
	NewRemaining    decimal.Decimal
	ActivateMoonBag bool
	MoonBagAmount   *decimal.Decimal
	// FullExit means nothing worth holding remains after the sell and the
	// position should be closed.
	FullExit bool
}

// TakeProfitEvaluator decides partial sells along the configured ladder.
// Like the DCA evaluator it only recommends; the caller sells and records
// the result with ApplyTakeProfit.
type TakeProfitEvaluator struct {
	eps decimal.Decimal
}

// NewTakeProfitEvaluator creates a TakeProfitEvaluator comparing amounts
// within eps.
func NewTakeProfitEvaluator(eps decimal.Decimal) *TakeProfitEvaluator {
	return &TakeProfitEvaluator{eps: eps}
}

// Evaluate checks pos against cfg at price. Levels are counted per batch:
// after a DCA buy the ladder restarts at TPBatchStartLevel, and every level
// the gain has crossed since the last sell is executed in one sell.
func (e *TakeProfitEvaluator) Evaluate(pos domain.Position, price decimal.Decimal, cfg domain.TakeProfitConfig) TakeProfitResult {
	if !cfg.Enabled || len(cfg.Levels) == 0 || !price.IsPositive() {
		return TakeProfitResult{}
	}
	if pos.OnlyMoonBagLeft(e.eps) {
		return TakeProfitResult{}
	}

	gain, ok := domain.PercentChange(price, pos.PurchasePrice)
	if !ok {
		return TakeProfitResult{}
	}

	next := pos.TakeProfitLevelsHit - pos.TPBatchStartLevel
	if next < 0 {
		next = 0
	}

	executed := 0
	sellPct := decimal.Zero
	for i := next; i < len(cfg.Levels) && gain.GreaterThanOrEqual(cfg.Levels[i].GainPercent); i++ {
		executed++
		sellPct = sellPct.Add(cfg.Levels[i].SellPercent)
	}
	if executed == 0 {
		return TakeProfitResult{GainPct: gain}
	}

	remaining := pos.EffectiveRemaining()
	res := TakeProfitResult{GainPct: gain, LevelsExecuted: executed}

	reserve := decimal.Zero
	switch {
	case pos.MoonBagActivated && pos.MoonBagAmount != nil:
		reserve = *pos.MoonBagAmount
	case cfg.MoonBag.Enabled && pos.TakeProfitLevelsHit+executed >= cfg.MoonBag.TriggerLevel:
		reserve = decimal.Min(domain.PercentOf(pos.PurchaseAmount, cfg.MoonBag.RetainPercent), remaining)
		res.ActivateMoonBag = true
		res.MoonBagAmount = domain.DecimalPtr(reserve)
	}

	sell := decimal.Min(domain.PercentOf(pos.PurchaseAmount, sellPct), remaining.Sub(reserve))
	if sell.LessThanOrEqual(e.eps) {
		return TakeProfitResult{GainPct: gain}
	}
	left := remaining.Sub(sell)

	if reserve.IsZero() && left.LessThanOrEqual(e.eps) {
		sell = remaining
		left = decimal.Zero
		res.FullExit = true
	}

	res.ShouldTrigger = true
	res.SellAmount = sell
	res.NewRemaining = left
	return res
}
