// Package tradingcfg holds the per-agent trading configuration rules:
// defaults, the typed partial document, merging, migration and validation.
package tradingcfg

import (
	"github.com/shopspring/decimal"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// Defaults returns a fully populated configuration. Every call returns fresh
// slices.
func Defaults() domain.TradingConfig {
	return domain.TradingConfig{
		PurchaseLimits: domain.PurchaseLimits{
			MinimumAgentBalance: d(0.5),
			MaxPurchasePerToken: d(2),
		},
		SignalFilters: domain.SignalFilters{
			MinScore:           3,
			AllowedSignalTypes: []string{},
		},
		StopLoss: domain.StopLossConfig{
			Enabled:           true,
			DefaultPercentage: d(-32),
			Mode:              domain.StopLossFixed,
			Fixed:             domain.FixedStopLoss{StepPct: d(10), TrailPct: d(10)},
			Exponential:       domain.ExponentialStop{MaxRetain: 0.9, Scale: 50},
			Zones:             DefaultZones(),
			Custom: []domain.StopLossLadder{
				{GainPct: d(10), StopPct: d(0)},
				{GainPct: d(25), StopPct: d(10)},
				{GainPct: d(50), StopPct: d(30)},
				{GainPct: d(100), StopPct: d(75)},
			},
		},
		DCA: domain.DCAConfig{
			Enabled:         false,
			Mode:            domain.DCAModerate,
			MaxDCACount:     3,
			CooldownSeconds: 300,
			Levels:          []domain.DCALevel{},
		},
		TakeProfit: domain.TakeProfitConfig{
			Enabled: true,
			Levels: []domain.TakeProfitLevel{
				{GainPercent: d(50), SellPercent: d(25)},
				{GainPercent: d(150), SellPercent: d(25)},
				{GainPercent: d(300), SellPercent: d(25)},
				{GainPercent: d(400), SellPercent: d(15)},
			},
			MoonBag: domain.MoonBagConfig{
				Enabled:       true,
				TriggerLevel:  4,
				RetainPercent: d(10),
			},
		},
		PositionSizing: domain.PositionSizingConfig{
			Mode:           domain.SizingFixed,
			FixedAmount:    d(0.1),
			BalancePercent: d(10),
			MaxPosition:    d(1),
		},
	}
}

// DefaultZones is the zone table used by the zones stop-loss mode when the
// agent does not supply one: trail 15 points below gains under 25%, keep 70%
// of gains up to 100%, keep 85% beyond.
func DefaultZones() []domain.StopLossZone {
	return []domain.StopLossZone{
		{MinGainPct: d(0), KeepRatio: d(1), OffsetPct: d(15)},
		{MinGainPct: d(25), KeepRatio: d(0.7), OffsetPct: d(0)},
		{MinGainPct: d(100), KeepRatio: d(0.85), OffsetPct: d(0)},
	}
}

// DCATemplate returns the built-in ladder for a preset mode, ordered by
// descending drop percentage. ok is false for custom or unknown modes.
func DCATemplate(mode string) (levels []domain.DCALevel, ok bool) {
	switch mode {
	case domain.DCAAggressive:
		return []domain.DCALevel{
			{DropPercent: d(-10), BuyPercent: d(50)},
			{DropPercent: d(-20), BuyPercent: d(75)},
			{DropPercent: d(-30), BuyPercent: d(100)},
		}, true
	case domain.DCAModerate:
		return []domain.DCALevel{
			{DropPercent: d(-15), BuyPercent: d(50)},
			{DropPercent: d(-30), BuyPercent: d(75)},
			{DropPercent: d(-45), BuyPercent: d(100)},
		}, true
	case domain.DCAConservative:
		return []domain.DCALevel{
			{DropPercent: d(-20), BuyPercent: d(25)},
			{DropPercent: d(-40), BuyPercent: d(50)},
			{DropPercent: d(-60), BuyPercent: d(75)},
		}, true
	}
	return nil, false
}
