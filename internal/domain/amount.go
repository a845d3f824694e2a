package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

// BalanceEpsilon is the default tolerance for balance arithmetic. Shortfalls
// smaller than this are treated as rounding noise.
var BalanceEpsilon = decimal.New(1, -8)

var hundred = decimal.NewFromInt(100)

// Hundred returns the decimal constant 100.
func Hundred() decimal.Decimal { return hundred }

// DecimalFromFloat converts f to a decimal. ok is false for NaN and ±Inf,
// which must never reach a persisted field.
func DecimalFromFloat(f float64) (d decimal.Decimal, ok bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}

// ClampNegativeDust returns zero when v lies in [-eps, 0) and v otherwise.
func ClampNegativeDust(v, eps decimal.Decimal) decimal.Decimal {
	if v.IsNegative() && v.GreaterThanOrEqual(eps.Neg()) {
		return decimal.Zero
	}
	return v
}

// WithinEpsilon reports whether |a-b| <= eps.
func WithinEpsilon(a, b, eps decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(eps)
}

// PercentChange returns (current-reference)/reference*100. ok is false when
// reference is not strictly positive.
func PercentChange(current, reference decimal.Decimal) (decimal.Decimal, bool) {
	if !reference.IsPositive() {
		return decimal.Zero, false
	}
	return current.Sub(reference).Div(reference).Mul(hundred), true
}

// ApplyPercent returns base*(1+pct/100).
func ApplyPercent(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(decimal.NewFromInt(1).Add(pct.Div(hundred)))
}

// PercentOf returns amount*pct/100.
func PercentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred)
}

// DecimalPtr returns a pointer to a copy of d.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
