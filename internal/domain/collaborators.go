package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Price is a token price in the base currency and in the quote currency.
type Price struct {
	Token   string
	InBase  decimal.Decimal
	InQuote decimal.Decimal
	AsOf    time.Time
}

// PriceOracle looks up token prices. Errors wrap ErrPriceNotFound or
// ErrPriceUnavailable; callers skip the tick without touching state.
type PriceOracle interface {
	GetPrice(ctx context.Context, token string) (Price, error)
}

// SwapRequest asks the executor to convert Amount of InputToken.
type SwapRequest struct {
	AgentID       string
	WalletAddress string
	InputToken    string
	InputSymbol   string
	OutputToken   string
	OutputSymbol  string
	Amount        decimal.Decimal
}

// SwapResult carries the realized amounts. The ledger only ever books these.
type SwapResult struct {
	Success      bool
	InputAmount  decimal.Decimal
	OutputAmount decimal.Decimal
	Signature    string
	Reason       string
}

// SwapExecutor performs swaps for an agent wallet.
type SwapExecutor interface {
	Execute(ctx context.Context, req SwapRequest) (SwapResult, error)
}
