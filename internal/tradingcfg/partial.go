package tradingcfg

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"

	"github.com/munkibiz69/nexgent-open-source-trading-engine-sub002/internal/domain"
)

// Partial is a sparse configuration document. Nil pointers leave the
// existing value unchanged; slices are replaced wholesale.
type Partial struct {
	PurchaseLimits *PartialPurchaseLimits `json:"purchaseLimits,omitempty"`
	SignalFilters  *PartialSignalFilters  `json:"signals,omitempty"`
	StopLoss       *PartialStopLoss       `json:"stopLoss,omitempty"`
	DCA            *PartialDCA            `json:"dca,omitempty"`
	TakeProfit     *PartialTakeProfit     `json:"takeProfit,omitempty"`
	PositionSizing *PartialPositionSizing `json:"positionSizing,omitempty"`
}

type PartialPurchaseLimits struct {
	MinimumAgentBalance *decimal.Decimal `json:"minimumAgentBalance,omitempty"`
	MaxPurchasePerToken *decimal.Decimal `json:"maxPurchasePerToken,omitempty"`
}

// PartialSignalFilters uses Optional for the bounds that can be cleared.
type PartialSignalFilters struct {
	MinScore           *int              `json:"minScore,omitempty"`
	AllowedSignalTypes *[]string         `json:"allowedSignalTypes,omitempty"`
	MinMarketCap       Optional[float64] `json:"minMarketCap"`
	MaxMarketCap       Optional[float64] `json:"maxMarketCap"`
	MinLiquidity       Optional[float64] `json:"minLiquidity"`
	MaxLiquidity       Optional[float64] `json:"maxLiquidity"`
	MinHolders         Optional[float64] `json:"minHolders"`
}

type PartialStopLoss struct {
	Enabled           *bool                    `json:"enabled,omitempty"`
	DefaultPercentage *decimal.Decimal         `json:"defaultPercentage,omitempty"`
	Mode              *string                  `json:"mode,omitempty"`
	Fixed             *PartialFixedStopLoss    `json:"fixed,omitempty"`
	Exponential       *PartialExponentialStop  `json:"exponential,omitempty"`
	Zones             *[]domain.StopLossZone   `json:"zones,omitempty"`
	Custom            *[]domain.StopLossLadder `json:"custom,omitempty"`
}

type PartialFixedStopLoss struct {
	StepPct  *decimal.Decimal `json:"stepPct,omitempty"`
	TrailPct *decimal.Decimal `json:"trailPct,omitempty"`
}

type PartialExponentialStop struct {
	MaxRetain *float64 `json:"maxRetain,omitempty"`
	Scale     *float64 `json:"scale,omitempty"`
}

type PartialDCA struct {
	Enabled         *bool              `json:"enabled,omitempty"`
	Mode            *string            `json:"mode,omitempty"`
	MaxDCACount     *int               `json:"maxDcaCount,omitempty"`
	CooldownSeconds *int               `json:"cooldownSeconds,omitempty"`
	Levels          *[]domain.DCALevel `json:"levels,omitempty"`
}

type PartialTakeProfit struct {
	Enabled *bool                     `json:"enabled,omitempty"`
	Levels  *[]domain.TakeProfitLevel `json:"levels,omitempty"`
	MoonBag *PartialMoonBag           `json:"moonBag,omitempty"`
}

type PartialMoonBag struct {
	Enabled       *bool            `json:"enabled,omitempty"`
	TriggerLevel  *int             `json:"triggerLevel,omitempty"`
	RetainPercent *decimal.Decimal `json:"retainPercent,omitempty"`
}

type PartialPositionSizing struct {
	Mode           *string          `json:"mode,omitempty"`
	FixedAmount    *decimal.Decimal `json:"fixedAmount,omitempty"`
	BalancePercent *decimal.Decimal `json:"balancePercent,omitempty"`
	MaxPosition    *decimal.Decimal `json:"maxPosition,omitempty"`
}

// obsoleteStopLossKeys were written by earlier releases and are dropped on
// read.
var obsoleteStopLossKeys = []string{"continuousTrailing"}

// DecodePartial parses a stored or user-supplied document, dropping
// obsolete keys.
func DecodePartial(raw []byte) (Partial, error) {
	var doc map[string]any
	if err := sonic.Unmarshal(raw, &doc); err != nil {
		return Partial{}, domain.Validationf("config_malformed", "decode trading config: %v", err)
	}
	if sl, ok := doc["stopLoss"].(map[string]any); ok {
		for _, k := range obsoleteStopLossKeys {
			delete(sl, k)
		}
	}
	cleaned, err := sonic.Marshal(doc)
	if err != nil {
		return Partial{}, fmt.Errorf("tradingcfg: re-encode config: %w", err)
	}

	var p Partial
	if err := sonic.Unmarshal(cleaned, &p); err != nil {
		return Partial{}, domain.Validationf("config_malformed", "decode trading config: %v", err)
	}
	return p, nil
}
