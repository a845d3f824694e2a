package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the holding of one token in one wallet.
type Balance struct {
	WalletAddress string          `json:"wallet_address"`
	AgentID       string          `json:"agent_id"`
	TokenAddress  string          `json:"token_address"`
	TokenSymbol   string          `json:"token_symbol"`
	Amount        decimal.Decimal `json:"amount"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// BaseMint is the wrapped SOL mint. Swaps paying with it are buys.
const BaseMint = "So11111111111111111111111111111111111111112"

// BaseSymbol is the symbol of the base currency.
const BaseSymbol = "SOL"

// IsBaseToken reports whether token is the base currency mint.
func IsBaseToken(token string) bool {
	return strings.EqualFold(strings.TrimSpace(token), BaseMint)
}
