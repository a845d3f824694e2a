package domain

import "github.com/shopspring/decimal"

// Stop-loss modes.
const (
	StopLossFixed       = "fixed"
	StopLossExponential = "exponential"
	StopLossZones       = "zones"
	StopLossCustom      = "custom"
)

// DCA modes. Every mode except DCACustom resolves to a built-in ladder.
const (
	DCAAggressive   = "aggressive"
	DCAModerate     = "moderate"
	DCAConservative = "conservative"
	DCACustom       = "custom"
)

// Position sizing modes.
const (
	SizingFixed      = "fixed"
	SizingPercentage = "percentage"
)

// TradingConfig is the fully populated per-agent trading configuration.
type TradingConfig struct {
	PurchaseLimits PurchaseLimits       `json:"purchaseLimits"`
	SignalFilters  SignalFilters        `json:"signals"`
	StopLoss       StopLossConfig       `json:"stopLoss"`
	DCA            DCAConfig            `json:"dca"`
	TakeProfit     TakeProfitConfig     `json:"takeProfit"`
	PositionSizing PositionSizingConfig `json:"positionSizing"`
}

// PurchaseLimits bound how much an agent may spend.
type PurchaseLimits struct {
	MinimumAgentBalance decimal.Decimal `json:"minimumAgentBalance"`
	MaxPurchasePerToken decimal.Decimal `json:"maxPurchasePerToken"`
}

// SignalFilters gate which trading signals open positions. Nil bounds are
// unset.
type SignalFilters struct {
	MinScore           int      `json:"minScore"`
	AllowedSignalTypes []string `json:"allowedSignalTypes"`
	MinMarketCap       *float64 `json:"minMarketCap,omitempty"`
	MaxMarketCap       *float64 `json:"maxMarketCap,omitempty"`
	MinLiquidity       *float64 `json:"minLiquidity,omitempty"`
	MaxLiquidity       *float64 `json:"maxLiquidity,omitempty"`
	MinHolders         *float64 `json:"minHolders,omitempty"`
}

// StopLossConfig selects the trailing strategy and its parameters.
type StopLossConfig struct {
	Enabled           bool             `json:"enabled"`
	DefaultPercentage decimal.Decimal  `json:"defaultPercentage"`
	Mode              string           `json:"mode"`
	Fixed             FixedStopLoss    `json:"fixed"`
	Exponential       ExponentialStop  `json:"exponential"`
	Zones             []StopLossZone   `json:"zones"`
	Custom            []StopLossLadder `json:"custom"`
}

// FixedStopLoss moves the stop up in steps of StepPct once the gain passes a
// step, trailing TrailPct behind the last step reached.
type FixedStopLoss struct {
	StepPct  decimal.Decimal `json:"stepPct"`
	TrailPct decimal.Decimal `json:"trailPct"`
}

// ExponentialStop keeps MaxRetain*(1-e^(-gain/Scale)) of the peak gain.
type ExponentialStop struct {
	MaxRetain float64 `json:"maxRetain"`
	Scale     float64 `json:"scale"`
}

// StopLossZone applies for peak gains at or above MinGainPct:
// stop = gain*KeepRatio - OffsetPct.
type StopLossZone struct {
	MinGainPct decimal.Decimal `json:"minGainPct"`
	KeepRatio  decimal.Decimal `json:"keepRatio"`
	OffsetPct  decimal.Decimal `json:"offsetPct"`
}

// StopLossLadder pins the stop at StopPct once the peak gain reaches GainPct.
type StopLossLadder struct {
	GainPct decimal.Decimal `json:"gainPct"`
	StopPct decimal.Decimal `json:"stopPct"`
}

// DCAConfig configures re-buys on price drops.
type DCAConfig struct {
	Enabled         bool       `json:"enabled"`
	Mode            string     `json:"mode"`
	MaxDCACount     int        `json:"maxDcaCount"`
	CooldownSeconds int        `json:"cooldownSeconds"`
	Levels          []DCALevel `json:"levels"`
}

// DCALevel triggers a buy of BuyPercent of the held amount once the price is
// DropPercent (negative) below the average purchase price.
type DCALevel struct {
	DropPercent decimal.Decimal `json:"dropPercent"`
	BuyPercent  decimal.Decimal `json:"buyPercent"`
}

// TakeProfitConfig configures the partial-sell ladder.
type TakeProfitConfig struct {
	Enabled bool              `json:"enabled"`
	Levels  []TakeProfitLevel `json:"levels"`
	MoonBag MoonBagConfig     `json:"moonBag"`
}

// TakeProfitLevel sells SellPercent of the purchase amount once the gain
// reaches GainPercent.
type TakeProfitLevel struct {
	GainPercent decimal.Decimal `json:"gainPercent"`
	SellPercent decimal.Decimal `json:"sellPercent"`
}

// MoonBagConfig reserves RetainPercent of the purchase amount from further
// automated selling once TriggerLevel take-profit levels have been hit.
type MoonBagConfig struct {
	Enabled       bool            `json:"enabled"`
	TriggerLevel  int             `json:"triggerLevel"`
	RetainPercent decimal.Decimal `json:"retainPercent"`
}

// PositionSizingConfig decides how much base currency a new buy spends.
type PositionSizingConfig struct {
	Mode           string          `json:"mode"`
	FixedAmount    decimal.Decimal `json:"fixedAmount"`
	BalancePercent decimal.Decimal `json:"balancePercent"`
	MaxPosition    decimal.Decimal `json:"maxPosition"`
}
