package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/tradingcfg"
)

// Strategy maps a non-negative peak gain (percent) to a target stop
// percentage relative to the purchase price.
type Strategy func(peakGainPct, defaultPct decimal.Decimal) decimal.Decimal

// StrategyFor returns the strategy selected by cfg.Mode.
func StrategyFor(cfg domain.StopLossConfig) (Strategy, error) {
	switch cfg.Mode {
	case domain.StopLossFixed, "":
		return FixedStep(cfg.Fixed.StepPct, cfg.Fixed.TrailPct), nil
	case domain.StopLossExponential:
		return Exponential(cfg.Exponential.MaxRetain, cfg.Exponential.Scale), nil
	case domain.StopLossZones:
		zones := cfg.Zones
		if len(zones) == 0 {
			zones = tradingcfg.DefaultZones()
		}
		return Zones(zones), nil
	case domain.StopLossCustom:
		return Ladder(cfg.Custom), nil
	}
	return nil, domain.Validationf("unknown_stop_loss_mode", "stop-loss mode %q", cfg.Mode)
}

// FixedStep trails by trail points below the last whole step reached.
// Below the first step the default applies.
func FixedStep(step, trail decimal.Decimal) Strategy {
	return func(gain, def decimal.Decimal) decimal.Decimal {
		if !step.IsPositive() || gain.LessThan(step) {
			return def
		}
		return gain.Div(step).Floor().Mul(step).Sub(trail)
	}
}

// Exponential keeps gain*maxRetain*(1-e^(-gain/scale)): a small share of
// small gains and close to maxRetain of large ones.
func Exponential(maxRetain, scale float64) Strategy {
	return func(gain, def decimal.Decimal) decimal.Decimal {
		g := gain.InexactFloat64()
		if scale <= 0 {
			return def
		}
		v, ok := domain.DecimalFromFloat(g * maxRetain * (1 - math.Exp(-g/scale)))
		if !ok {
			return def
		}
		return v.Round(6)
	}
}

// Zones applies the last zone whose MinGainPct the gain has reached.
// zones must be ordered by ascending MinGainPct.
func Zones(zones []domain.StopLossZone) Strategy {
	return func(gain, def decimal.Decimal) decimal.Decimal {
		for i := len(zones) - 1; i >= 0; i-- {
			z := zones[i]
			if gain.GreaterThanOrEqual(z.MinGainPct) {
				return gain.Mul(z.KeepRatio).Sub(z.OffsetPct)
			}
		}
		return def
	}
}

// Ladder pins the stop at the highest step whose GainPct the gain has
// reached. steps must be ordered by ascending GainPct.
func Ladder(steps []domain.StopLossLadder) Strategy {
	return func(gain, def decimal.Decimal) decimal.Decimal {
		for i := len(steps) - 1; i >= 0; i-- {
			if gain.GreaterThanOrEqual(steps[i].GainPct) {
				return steps[i].StopPct
			}
		}
		return def
	}
}
