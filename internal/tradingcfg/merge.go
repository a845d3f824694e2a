package tradingcfg

import (
	"slices"
	"strings"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

// Merge applies p over base key by key and returns the result. base is not
// modified.
func Merge(base domain.TradingConfig, p Partial) domain.TradingConfig {
	out := clone(base)

	if pl := p.PurchaseLimits; pl != nil {
		setIf(&out.PurchaseLimits.MinimumAgentBalance, pl.MinimumAgentBalance)
		setIf(&out.PurchaseLimits.MaxPurchasePerToken, pl.MaxPurchasePerToken)
	}

	if sf := p.SignalFilters; sf != nil {
		setIf(&out.SignalFilters.MinScore, sf.MinScore)
		if sf.AllowedSignalTypes != nil {
			out.SignalFilters.AllowedSignalTypes = slices.Clone(*sf.AllowedSignalTypes)
		}
		sf.MinMarketCap.apply(&out.SignalFilters.MinMarketCap)
		sf.MaxMarketCap.apply(&out.SignalFilters.MaxMarketCap)
		sf.MinLiquidity.apply(&out.SignalFilters.MinLiquidity)
		sf.MaxLiquidity.apply(&out.SignalFilters.MaxLiquidity)
		sf.MinHolders.apply(&out.SignalFilters.MinHolders)
	}

	if sl := p.StopLoss; sl != nil {
		setIf(&out.StopLoss.Enabled, sl.Enabled)
		setIf(&out.StopLoss.DefaultPercentage, sl.DefaultPercentage)
		setIf(&out.StopLoss.Mode, sl.Mode)
		if f := sl.Fixed; f != nil {
			setIf(&out.StopLoss.Fixed.StepPct, f.StepPct)
			setIf(&out.StopLoss.Fixed.TrailPct, f.TrailPct)
		}
		if e := sl.Exponential; e != nil {
			setIf(&out.StopLoss.Exponential.MaxRetain, e.MaxRetain)
			setIf(&out.StopLoss.Exponential.Scale, e.Scale)
		}
		if sl.Zones != nil {
			out.StopLoss.Zones = slices.Clone(*sl.Zones)
		}
		if sl.Custom != nil {
			out.StopLoss.Custom = slices.Clone(*sl.Custom)
		}
	}

	if dca := p.DCA; dca != nil {
		setIf(&out.DCA.Enabled, dca.Enabled)
		setIf(&out.DCA.Mode, dca.Mode)
		setIf(&out.DCA.MaxDCACount, dca.MaxDCACount)
		setIf(&out.DCA.CooldownSeconds, dca.CooldownSeconds)
		if dca.Levels != nil {
			out.DCA.Levels = slices.Clone(*dca.Levels)
		}
	}

	if tp := p.TakeProfit; tp != nil {
		setIf(&out.TakeProfit.Enabled, tp.Enabled)
		if tp.Levels != nil {
			out.TakeProfit.Levels = slices.Clone(*tp.Levels)
		}
		if mb := tp.MoonBag; mb != nil {
			setIf(&out.TakeProfit.MoonBag.Enabled, mb.Enabled)
			setIf(&out.TakeProfit.MoonBag.TriggerLevel, mb.TriggerLevel)
			setIf(&out.TakeProfit.MoonBag.RetainPercent, mb.RetainPercent)
		}
	}

	if ps := p.PositionSizing; ps != nil {
		setIf(&out.PositionSizing.Mode, ps.Mode)
		setIf(&out.PositionSizing.FixedAmount, ps.FixedAmount)
		setIf(&out.PositionSizing.BalancePercent, ps.BalancePercent)
		setIf(&out.PositionSizing.MaxPosition, ps.MaxPosition)
	}

	return out
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Normalize applies the fixed migration: a missing stop-loss mode becomes
// fixed and mode names are lower-cased.
func Normalize(cfg domain.TradingConfig) domain.TradingConfig {
	cfg.StopLoss.Mode = strings.ToLower(strings.TrimSpace(cfg.StopLoss.Mode))
	if cfg.StopLoss.Mode == "" {
		cfg.StopLoss.Mode = domain.StopLossFixed
	}
	cfg.DCA.Mode = strings.ToLower(strings.TrimSpace(cfg.DCA.Mode))
	if cfg.DCA.Mode == "" {
		cfg.DCA.Mode = domain.DCAModerate
	}
	cfg.PositionSizing.Mode = strings.ToLower(strings.TrimSpace(cfg.PositionSizing.Mode))
	if cfg.PositionSizing.Mode == "" {
		cfg.PositionSizing.Mode = domain.SizingFixed
	}
	if cfg.SignalFilters.AllowedSignalTypes == nil {
		cfg.SignalFilters.AllowedSignalTypes = []string{}
	}
	return cfg
}

// Resolve decodes a stored document, merges it over the defaults, normalizes
// and validates the result.
func Resolve(raw []byte) (domain.TradingConfig, error) {
	p, err := DecodePartial(raw)
	if err != nil {
		return domain.TradingConfig{}, err
	}
	cfg := Normalize(Merge(Defaults(), p))
	if err := Validate(cfg); err != nil {
		return domain.TradingConfig{}, err
	}
	return cfg, nil
}

func clone(c domain.TradingConfig) domain.TradingConfig {
	out := c
	out.SignalFilters.AllowedSignalTypes = slices.Clone(c.SignalFilters.AllowedSignalTypes)
	out.SignalFilters.MinMarketCap = clonePtr(c.SignalFilters.MinMarketCap)
	out.SignalFilters.MaxMarketCap = clonePtr(c.SignalFilters.MaxMarketCap)
	out.SignalFilters.MinLiquidity = clonePtr(c.SignalFilters.MinLiquidity)
	out.SignalFilters.MaxLiquidity = clonePtr(c.SignalFilters.MaxLiquidity)
	out.SignalFilters.MinHolders = clonePtr(c.SignalFilters.MinHolders)
	out.StopLoss.Zones = slices.Clone(c.StopLoss.Zones)
	out.StopLoss.Custom = slices.Clone(c.StopLoss.Custom)
	out.DCA.Levels = slices.Clone(c.DCA.Levels)
	out.TakeProfit.Levels = slices.Clone(c.TakeProfit.Levels)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
