package risk

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/tradingcfg"
)

// DCA decision reasons.
const (
	DCAReasonDisabled    = "disabled"
	DCAReasonMoonBagOnly = "moon_bag_only"
	DCAReasonMaxReached  = "max_dca_count_reached"
	DCAReasonCooldown    = "cooldown"
	DCAReasonNoLevels    = "no_levels"
	DCAReasonNoMoreLevel = "levels_exhausted"
	DCAReasonBadPrice    = "invalid_price"
	DCAReasonAboveLevel  = "drop_above_level"
	DCAReasonTriggered   = "triggered"
)

// DCAResult is the recommendation of one DCA evaluation.
type DCAResult struct {
	ShouldTrigger     bool
	Reason            string
	LevelIndex        int
	Level             domain.DCALevel
	DropPct           decimal.Decimal
	BuyAmountSol      decimal.Decimal
	CooldownRemaining time.Duration
}

// DCAEvaluator decides whether a position should be averaged down. It is
// pure: the caller executes the buy and records it with ApplyDCA.
type DCAEvaluator struct {
	eps decimal.Decimal
}

// NewDCAEvaluator creates a DCAEvaluator comparing amounts within eps.
func NewDCAEvaluator(eps decimal.Decimal) *DCAEvaluator {
	return &DCAEvaluator{eps: eps}
}

// Evaluate checks pos against cfg at price and time now.
func (e *DCAEvaluator) Evaluate(pos domain.Position, price decimal.Decimal, cfg domain.DCAConfig, now time.Time) DCAResult {
	if !cfg.Enabled {
		return DCAResult{Reason: DCAReasonDisabled}
	}
	if pos.OnlyMoonBagLeft(e.eps) {
		return DCAResult{Reason: DCAReasonMoonBagOnly}
	}
	if pos.DCACount >= cfg.MaxDCACount {
		return DCAResult{Reason: DCAReasonMaxReached}
	}
	if pos.LastDCATime != nil && cfg.CooldownSeconds > 0 {
		cooldown := time.Duration(cfg.CooldownSeconds) * time.Second
		if elapsed := now.Sub(*pos.LastDCATime); elapsed < cooldown {
			return DCAResult{Reason: DCAReasonCooldown, CooldownRemaining: cooldown - elapsed}
		}
	}

	levels := ResolveDCALevels(cfg)
	if len(levels) == 0 {
		return DCAResult{Reason: DCAReasonNoLevels}
	}
	if pos.DCACount >= len(levels) {
		return DCAResult{Reason: DCAReasonNoMoreLevel}
	}

	drop, ok := domain.PercentChange(price, pos.PurchasePrice)
	if !ok || !price.IsPositive() {
		return DCAResult{Reason: DCAReasonBadPrice}
	}

	level := levels[pos.DCACount]
	res := DCAResult{Reason: DCAReasonAboveLevel, LevelIndex: pos.DCACount, Level: level, DropPct: drop}
	if drop.GreaterThan(level.DropPercent) {
		return res
	}

	res.ShouldTrigger = true
	res.Reason = DCAReasonTriggered
	res.BuyAmountSol = domain.PercentOf(price.Mul(pos.EffectiveRemaining()), level.BuyPercent)
	return res
}

// ResolveDCALevels returns the ladder for cfg: the built-in template for a
// preset mode, the custom levels ordered from the smallest drop to the
// largest otherwise.
func ResolveDCALevels(cfg domain.DCAConfig) []domain.DCALevel {
	if levels, ok := tradingcfg.DCATemplate(cfg.Mode); ok {
		return levels
	}
	levels := slices.Clone(cfg.Levels)
	slices.SortStableFunc(levels, func(a, b domain.DCALevel) int {
		return b.DropPercent.Cmp(a.DropPercent)
	})
	return levels
}

// ComputeNewAverage returns (invested+spend)/(amount+tokens).
func ComputeNewAverage(invested, amount, spend, tokens decimal.Decimal) (decimal.Decimal, error) {
	total := amount.Add(tokens)
	if !total.IsPositive() {
		return decimal.Zero, domain.Validationf("invalid_dca_amounts", "total amount %s is not positive", total)
	}
	return invested.Add(spend).Div(total), nil
}
