package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType enumerates the transaction kinds the ledger understands.
type TransactionType string

const (
	TransactionDeposit TransactionType = "DEPOSIT"
	TransactionSwap    TransactionType = "SWAP"
	TransactionBurn    TransactionType = "BURN"
)

// Transaction is a confirmed balance-changing event of an agent wallet.
type Transaction struct {
	ID            string
	AgentID       string
	WalletAddress string
	Type          TransactionType
	InputToken    string
	InputSymbol   string
	InputAmount   decimal.Decimal
	OutputToken   string
	OutputSymbol  string
	OutputAmount  decimal.Decimal
	// Price is the base-currency price per output token for buys.
	Price     decimal.Decimal
	CreatedAt time.Time
}

// IsBuy reports whether the transaction spends the base currency on a token.
func (t Transaction) IsBuy() bool {
	return t.Type == TransactionSwap && IsBaseToken(t.InputToken) && !IsBaseToken(t.OutputToken)
}

// IsSell reports whether the transaction converts a token back to the base
// currency.
func (t Transaction) IsSell() bool {
	return t.Type == TransactionSwap && IsBaseToken(t.OutputToken) && !IsBaseToken(t.InputToken)
}
