// internal/money/money_test.go
package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestFromCents(t *testing.T) {
	require.True(t, FromCents(550).Equal(decimal.RequireFromString("5.50")))
	require.True(t, FromCents(0).Equal(Zero))
	require.True(t, IsNegative(FromCents(-1)))
}

func TestPercentRoundsToCents(t *testing.T) {
	two := decimal.NewFromInt(2)
	require.True(t, Percent(FromCents(10000), two).Equal(FromCents(200)))

	// 2% of 33.33 is 0.6666, which must land on a cent boundary.
	fee := Percent(FromCents(3333), two)
	require.True(t, fee.Equal(decimal.RequireFromString("0.67")))
}

func TestMin(t *testing.T) {
	a, b := FromCents(100), FromCents(250)
	require.True(t, Min(a, b).Equal(a))
	require.True(t, Min(b, a).Equal(a))
	require.True(t, Min(a, a).Equal(a))
}
