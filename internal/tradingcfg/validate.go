package tradingcfg

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

// Validate checks schema ranges and cross-field rules. All problems are
// reported together in one validation error.
func Validate(cfg domain.TradingConfig) error {
	var v validator

	pl := cfg.PurchaseLimits
	v.check(!pl.MinimumAgentBalance.IsNegative(), "purchaseLimits.minimumAgentBalance must be >= 0")
	v.check(pl.MaxPurchasePerToken.IsPositive(), "purchaseLimits.maxPurchasePerToken must be > 0")

	sf := cfg.SignalFilters
	v.check(sf.MinScore >= 0, "signals.minScore must be >= 0")
	v.bounds("signals.marketCap", sf.MinMarketCap, sf.MaxMarketCap)
	v.bounds("signals.liquidity", sf.MinLiquidity, sf.MaxLiquidity)
	v.bounds("signals.holders", sf.MinHolders, nil)

	validateStopLoss(&v, cfg.StopLoss)
	validateDCA(&v, cfg.DCA)
	validateTakeProfit(&v, cfg.TakeProfit)

	v.check(!(cfg.DCA.Enabled && cfg.TakeProfit.Enabled),
		"dca and takeProfit cannot both be enabled")

	ps := cfg.PositionSizing
	switch ps.Mode {
	case domain.SizingFixed:
		v.check(ps.FixedAmount.IsPositive(), "positionSizing.fixedAmount must be > 0")
	case domain.SizingPercentage:
		v.check(ps.BalancePercent.IsPositive() && ps.BalancePercent.LessThanOrEqual(domain.Hundred()),
			"positionSizing.balancePercent must be in (0, 100]")
	default:
		v.fail("positionSizing.mode %q is not supported", ps.Mode)
	}
	v.check(!ps.MaxPosition.IsNegative(), "positionSizing.maxPosition must be >= 0")

	return v.err()
}

func validateStopLoss(v *validator, sl domain.StopLossConfig) {
	v.check(sl.DefaultPercentage.GreaterThanOrEqual(domain.Hundred().Neg()) && !sl.DefaultPercentage.IsPositive(),
		"stopLoss.defaultPercentage must be in [-100, 0]")

	switch sl.Mode {
	case domain.StopLossFixed:
		v.check(sl.Fixed.StepPct.IsPositive(), "stopLoss.fixed.stepPct must be > 0")
		v.check(!sl.Fixed.TrailPct.IsNegative(), "stopLoss.fixed.trailPct must be >= 0")
	case domain.StopLossExponential:
		v.check(sl.Exponential.MaxRetain > 0 && sl.Exponential.MaxRetain <= 1,
			"stopLoss.exponential.maxRetain must be in (0, 1]")
		v.check(sl.Exponential.Scale > 0, "stopLoss.exponential.scale must be > 0")
	case domain.StopLossZones:
		if len(sl.Zones) == 0 {
			break
		}
		for i, z := range sl.Zones {
			v.check(!z.MinGainPct.IsNegative(), "stopLoss.zones[%d].minGainPct must be >= 0", i)
			v.check(!z.KeepRatio.IsNegative() && z.KeepRatio.LessThanOrEqual(decimal.NewFromInt(1)),
				"stopLoss.zones[%d].keepRatio must be in [0, 1]", i)
			if i > 0 {
				v.check(z.MinGainPct.GreaterThan(sl.Zones[i-1].MinGainPct),
					"stopLoss.zones must be ordered by ascending minGainPct")
			}
		}
	case domain.StopLossCustom:
		v.check(len(sl.Custom) > 0, "stopLoss.custom needs at least one step")
		for i, s := range sl.Custom {
			v.check(s.StopPct.LessThan(s.GainPct), "stopLoss.custom[%d].stopPct must be below gainPct", i)
			if i > 0 {
				v.check(s.GainPct.GreaterThan(sl.Custom[i-1].GainPct),
					"stopLoss.custom must be ordered by ascending gainPct")
			}
		}
	default:
		v.fail("stopLoss.mode %q is not supported", sl.Mode)
	}
}

func validateDCA(v *validator, dca domain.DCAConfig) {
	v.check(dca.MaxDCACount >= 0, "dca.maxDcaCount must be >= 0")
	v.check(dca.CooldownSeconds >= 0, "dca.cooldownSeconds must be >= 0")

	switch dca.Mode {
	case domain.DCAAggressive, domain.DCAModerate, domain.DCAConservative:
	case domain.DCACustom:
		if dca.Enabled {
			v.check(len(dca.Levels) > 0, "dca.levels needs at least one level in custom mode")
		}
	default:
		v.fail("dca.mode %q is not supported", dca.Mode)
	}
	for i, l := range dca.Levels {
		v.check(l.DropPercent.IsNegative() && l.DropPercent.GreaterThan(domain.Hundred().Neg()),
			"dca.levels[%d].dropPercent must be in (-100, 0)", i)
		v.check(l.BuyPercent.IsPositive(), "dca.levels[%d].buyPercent must be > 0", i)
	}
}

func validateTakeProfit(v *validator, tp domain.TakeProfitConfig) {
	total := decimal.Zero
	for i, l := range tp.Levels {
		v.check(l.GainPercent.IsPositive(), "takeProfit.levels[%d].gainPercent must be > 0", i)
		v.check(l.SellPercent.IsPositive() && l.SellPercent.LessThanOrEqual(domain.Hundred()),
			"takeProfit.levels[%d].sellPercent must be in (0, 100]", i)
		if i > 0 {
			v.check(l.GainPercent.GreaterThan(tp.Levels[i-1].GainPercent),
				"takeProfit.levels must be ordered by ascending gainPercent")
		}
		total = total.Add(l.SellPercent)
	}
	if tp.Enabled {
		v.check(len(tp.Levels) > 0, "takeProfit.levels needs at least one level when enabled")
	}

	mb := tp.MoonBag
	if mb.Enabled {
		v.check(mb.RetainPercent.IsPositive() && mb.RetainPercent.LessThan(domain.Hundred()),
			"takeProfit.moonBag.retainPercent must be in (0, 100)")
		v.check(mb.TriggerLevel >= 1 && mb.TriggerLevel <= len(tp.Levels),
			"takeProfit.moonBag.triggerLevel must reference a configured level")
		total = total.Add(mb.RetainPercent)
	}
	v.check(total.LessThanOrEqual(domain.Hundred()),
		"takeProfit sell percentages plus moon bag exceed 100%% (got %s)", total.String())
}

type validator struct {
	problems []string
}

func (v *validator) check(ok bool, format string, args ...any) {
	if !ok {
		v.fail(format, args...)
	}
}

func (v *validator) fail(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) bounds(name string, lo, hi *float64) {
	if lo != nil {
		v.check(*lo >= 0, "%s min must be >= 0", name)
	}
	if hi != nil {
		v.check(*hi >= 0, "%s max must be >= 0", name)
	}
	if lo != nil && hi != nil {
		v.check(*lo <= *hi, "%s min must not exceed max", name)
	}
}

func (v *validator) err() error {
	if len(v.problems) == 0 {
		return nil
	}
	return domain.Validationf("invalid_trading_config", "%s", strings.Join(v.problems, "; "))
}
