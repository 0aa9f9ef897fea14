package fees

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalculateStandardPercentage(t *testing.T) {
	calc := NewCalculator(2.5)

	b := calc.Calculate(100, "USD")
	require.Equal(t, 2.5, b.Fee)
	require.Equal(t, 97.5, b.SettlementAmount)
}

func TestCalculateRoundsHalfUp(t *testing.T) {
	// 10 * 2.25% = 0.225, which must round up to 0.23.
	calc := NewCalculator(2.25)

	b := calc.Calculate(10, "USD")
	require.Equal(t, 0.23, b.Fee)
	require.Equal(t, 9.77, b.SettlementAmount)
}

func TestCalculateZeroDecimalCurrency(t *testing.T) {
	calc := NewCalculator(2.5)

	b := calc.Calculate(1000, "XAF")
	require.Equal(t, 25.0, b.Fee)
	require.Equal(t, 975.0, b.SettlementAmount)

	// 1015 * 2.5% = 25.375 rounds down to a whole franc.
	b = calc.Calculate(1015, "XAF")
	require.Equal(t, 25.0, b.Fee)
	require.Equal(t, 990.0, b.SettlementAmount)

	// 1020 * 2.5% = 25.5 rounds up.
	b = calc.Calculate(1020, "XAF")
	require.Equal(t, 26.0, b.Fee)
	require.Equal(t, 994.0, b.SettlementAmount)
}

func TestCalculateUnknownCurrencyUsesTwoDecimals(t *testing.T) {
	calc := NewCalculator(1.75)

	b := calc.Calculate(33.33, "GBP")
	require.Equal(t, 0.58, b.Fee)
	require.InDelta(t, 32.75, b.SettlementAmount, 1e-9)
}

func TestFeeAndSettlementSumToAmount(t *testing.T) {
	calc := NewCalculator(2.5)

	for _, tc := range []struct {
		amount   float64
		currency string
	}{
		{100, "USD"},
		{0.01, "USD"},
		{999.99, "EUR"},
		{12345, "XAF"},
		{7, "XOF"},
		{250.5, "PHP"},
	} {
		b := calc.Calculate(tc.amount, tc.currency)
		require.InDelta(t, tc.amount, b.Fee+b.SettlementAmount, 1e-9,
			"fee %v + settlement %v must equal %v %s", b.Fee, b.SettlementAmount, tc.amount, tc.currency)
	}
}
