package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is an open holding opened by a confirmed buy. There is at most
// one per (agent, wallet, token); a closed position no longer exists.
type Position struct {
	ID                    string          `json:"id"`
	AgentID               string          `json:"agent_id"`
	WalletAddress         string          `json:"wallet_address"`
	TokenAddress          string          `json:"token_address"`
	TokenSymbol           string          `json:"token_symbol"`
	PurchaseTransactionID string          `json:"purchase_transaction_id"`
	PurchasePrice         decimal.Decimal `json:"purchase_price"`
	PurchaseAmount        decimal.Decimal `json:"purchase_amount"`
	TotalInvested         decimal.Decimal `json:"total_invested_sol"`

	DCACount          int              `json:"dca_count"`
	LastDCATime       *time.Time       `json:"last_dca_time,omitempty"`
	DCATransactionIDs []string         `json:"dca_transaction_ids"`
	LowestPrice       *decimal.Decimal `json:"lowest_price,omitempty"`

	CurrentStopLossPct *decimal.Decimal `json:"current_stop_loss_percentage,omitempty"`
	PeakPrice          *decimal.Decimal `json:"peak_price,omitempty"`
	LastStopLossUpdate *time.Time       `json:"last_stop_loss_update,omitempty"`

	RemainingAmount          *decimal.Decimal `json:"remaining_amount,omitempty"`
	TakeProfitLevelsHit      int              `json:"take_profit_levels_hit"`
	TakeProfitTransactionIDs []string         `json:"take_profit_transaction_ids"`
	MoonBagActivated         bool             `json:"moon_bag_activated"`
	MoonBagAmount            *decimal.Decimal `json:"moon_bag_amount,omitempty"`
	RealizedProfit           decimal.Decimal  `json:"realized_profit_sol"`
	TPBatchStartLevel        int              `json:"tp_batch_start_level"`
	TotalTakeProfitLevels    *int             `json:"total_take_profit_levels,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveRemaining is the amount still held: the post-take-profit
// remainder when a partial sell happened, the purchase amount otherwise.
func (p Position) EffectiveRemaining() decimal.Decimal {
	if p.RemainingAmount != nil {
		return *p.RemainingAmount
	}
	return p.PurchaseAmount
}

// OnlyMoonBagLeft reports whether everything but the reserved moon bag has
// been sold.
func (p Position) OnlyMoonBagLeft(eps decimal.Decimal) bool {
	if !p.MoonBagActivated || p.MoonBagAmount == nil || p.RemainingAmount == nil {
		return false
	}
	return WithinEpsilon(*p.RemainingAmount, *p.MoonBagAmount, eps)
}

// Clone returns a deep copy so callers can mutate without aliasing slices or
// pointers of a cached value.
func (p Position) Clone() Position {
	out := p
	out.DCATransactionIDs = append([]string(nil), p.DCATransactionIDs...)
	out.TakeProfitTransactionIDs = append([]string(nil), p.TakeProfitTransactionIDs...)
	out.LastDCATime = cloneTime(p.LastDCATime)
	out.LastStopLossUpdate = cloneTime(p.LastStopLossUpdate)
	out.LowestPrice = cloneDecimal(p.LowestPrice)
	out.CurrentStopLossPct = cloneDecimal(p.CurrentStopLossPct)
	out.PeakPrice = cloneDecimal(p.PeakPrice)
	out.RemainingAmount = cloneDecimal(p.RemainingAmount)
	out.MoonBagAmount = cloneDecimal(p.MoonBagAmount)
	if p.TotalTakeProfitLevels != nil {
		n := *p.TotalTakeProfitLevels
		out.TotalTakeProfitLevels = &n
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

// StopLossUpdate carries the trailing-stop fields a stop-loss evaluation may
// change. Nil fields are left as stored.
type StopLossUpdate struct {
	StopLossPct *decimal.Decimal
	PeakPrice   *decimal.Decimal
}

// DCAUpdate is the state change of a confirmed DCA buy.
type DCAUpdate struct {
	NewAveragePrice      decimal.Decimal
	NewTotalAmount       decimal.Decimal
	NewTotalInvested     decimal.Decimal
	TransactionID        string
	TokensAcquired       decimal.Decimal
	ConfiguredLevelCount int
	// ExpectedVersion, when set, rejects the update with ErrConflict unless
	// the stored row is still at that version. The absolute totals above
	// are only valid against the row they were computed from.
	ExpectedVersion *int64
}

// TakeProfitUpdate is the state change of a confirmed take-profit sell.
type TakeProfitUpdate struct {
	NewRemainingAmount decimal.Decimal
	// SoldAmount, when set, replaces NewRemainingAmount: the remainder is
	// computed from the locked row as EffectiveRemaining minus SoldAmount.
	SoldAmount       *decimal.Decimal
	LevelsExecuted   int
	TransactionID    string
	ActivateMoonBag  bool
	MoonBagAmount    *decimal.Decimal
	RealizedPnLDelta *decimal.Decimal
}
