// Package money holds the decimal helpers shared by the pricing calculators.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// DefaultCurrency is used when a request or item carries no currency.
const DefaultCurrency = "EUR"

// Hundred is the percent divisor.
var Hundred = decimal.NewFromInt(100)

// Scale returns the number of minor-unit digits for code (2 for EUR, 0 for JPY).
// Unknown codes fall back to 2.
func Scale(code string) int32 {
	unit, err := currency.ParseISO(Normalise(code))
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// Round rounds amount half-away-from-zero to the currency's minor unit.
func Round(amount decimal.Decimal, code string) decimal.Decimal {
	return amount.Round(Scale(code))
}

// Normalise upper-cases code and applies the default.
func Normalise(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return DefaultCurrency
	}
	return code
}

// NonNegative clamps amount at zero.
func NonNegative(amount decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// Parse reads a decimal from a backend string field; blanks are zero.
func Parse(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}
