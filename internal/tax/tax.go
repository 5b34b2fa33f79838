// Package tax splits tax-inclusive amounts into net and tax parts.
package tax

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bbtraining/checkout-api/internal/money"
	"github.com/bbtraining/checkout-api/internal/tables"
)

// Result is the net/tax split of a gross amount. Net + TaxAmount == Gross.
type Result struct {
	Gross     decimal.Decimal `json:"gross"`
	Net       decimal.Decimal `json:"net"`
	TaxAmount decimal.Decimal `json:"taxAmount"`
	TaxRate   decimal.Decimal `json:"taxRate"`
	RateName  string          `json:"rateName,omitempty"`
}

// Resolve finds the rate for (country, state), falling back to the country
// default and then to zero. Among equal keys the lowest priority wins.
func Resolve(country, state string, rates []tables.TaxRate) (tables.TaxRate, bool) {
	country = strings.ToUpper(strings.TrimSpace(country))
	state = strings.ToUpper(strings.TrimSpace(state))
	if country == "" {
		return tables.TaxRate{}, false
	}
	if state != "" {
		if r, ok := pick(country, state, rates); ok {
			return r, true
		}
	}
	return pick(country, "", rates)
}

func pick(country, state string, rates []tables.TaxRate) (tables.TaxRate, bool) {
	var (
		best  tables.TaxRate
		found bool
	)
	for _, r := range rates {
		if r.Country != country || r.State != state {
			continue
		}
		if !found || r.Priority < best.Priority {
			best, found = r, true
		}
	}
	return best, found
}

// Calculate splits gross by the rate that applies to (country, state).
// The net part is rounded to the currency's minor unit and tax is derived as
// gross minus net.
func Calculate(gross decimal.Decimal, country, state, currency string, rates []tables.TaxRate) Result {
	rate, ok := Resolve(country, state, rates)
	if !ok || !rate.Rate.IsPositive() {
		return Exempt(gross)
	}
	divisor := decimal.NewFromInt(1).Add(rate.Rate.Div(money.Hundred))
	net := money.Round(gross.Div(divisor), currency)
	return Result{
		Gross:     gross,
		Net:       net,
		TaxAmount: gross.Sub(net),
		TaxRate:   rate.Rate,
		RateName:  rate.Name,
	}
}

// Exempt is the zero-rate split: net equals gross.
func Exempt(gross decimal.Decimal) Result {
	return Result{Gross: gross, Net: gross, TaxAmount: decimal.Zero, TaxRate: decimal.Zero}
}
