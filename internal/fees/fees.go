// Package fees computes the platform fee and merchant settlement amount for a
// charge. The calculator is pure: the fee percentage is injected at
// construction and nothing is read from the environment at call time.
package fees

import (
	"github.com/shopspring/decimal"
)

// minorUnitExponent maps a currency to its minor-unit decimal places.
// Currencies without minor units round to whole amounts.
var minorUnitExponent = map[string]int32{
	"XAF": 0,
	"XOF": 0,
	"USD": 2,
	"EUR": 2,
	"PHP": 2,
}

const defaultExponent int32 = 2

// Breakdown is the result of a fee computation. fee + settlementAmount equals
// the charged amount exactly.
type Breakdown struct {
	Fee              float64
	SettlementAmount float64
}

// Calculator derives fee and settlement amounts from a configured percentage.
type Calculator struct {
	feePercentage decimal.Decimal
}

// NewCalculator builds a calculator for the given fee percentage, e.g. 2.5
// for 2.5%.
func NewCalculator(feePercentage float64) *Calculator {
	return &Calculator{feePercentage: decimal.NewFromFloat(feePercentage)}
}

// Calculate splits amount into platform fee and merchant settlement amount
// for the given currency. The fee is rounded half-up to the currency's minor
// unit; the settlement amount is the exact remainder, so the two always sum
// back to the amount.
func (c *Calculator) Calculate(amount float64, currency string) Breakdown {
	exp := defaultExponent
	if e, ok := minorUnitExponent[currency]; ok {
		exp = e
	}

	amt := decimal.NewFromFloat(amount)
	fee := amt.Mul(c.feePercentage).Div(decimal.NewFromInt(100)).Round(exp)
	settlement := amt.Sub(fee)

	feeF, _ := fee.Float64()
	settlementF, _ := settlement.Float64()
	return Breakdown{Fee: feeF, SettlementAmount: settlementF}
}
