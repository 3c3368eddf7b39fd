// internal/money/money.go
package money

import "github.com/shopspring/decimal"

// Zero is the zero monetary amount.
var Zero = decimal.Zero

// FromCents builds a monetary amount from an integer number of cents.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Percent applies a percentage rate to an amount, rounded to cents.
// Percent(100.00, 2) == 2.00.
func Percent(amount decimal.Decimal, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Div(decimal.NewFromInt(100)).Round(2)
}

// IsNegative reports whether the amount is below zero.
func IsNegative(amount decimal.Decimal) bool {
	return amount.Sign() < 0
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
