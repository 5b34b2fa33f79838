// Package pricing aggregates tax, VAT exemption, shipping and reseller
// pricing into the totals quoted at checkout. Compute is pure; callers supply
// the lookup snapshot and the exemption decision.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/bbtraining/checkout-api/internal/cart"
	"github.com/bbtraining/checkout-api/internal/money"
	"github.com/bbtraining/checkout-api/internal/reseller"
	"github.com/bbtraining/checkout-api/internal/shipping"
	"github.com/bbtraining/checkout-api/internal/tables"
	"github.com/bbtraining/checkout-api/internal/tax"
)

// Input is everything a quote depends on.
type Input struct {
	Items           []cart.Item
	Currency        string
	BillingCountry  string
	BillingState    string
	ShippingCountry string
	ShipToDifferent bool
	IsReseller      bool
	VatExempt       bool
	Tables          *tables.Snapshot
}

// Totals is the derived order summary. Prices are tax-inclusive, so
// GrossSubtotal is what the customer was quoted before shipping.
type Totals struct {
	Currency            string               `json:"currency"`
	GrossSubtotal       decimal.Decimal      `json:"grossSubtotal"`
	NetSubtotal         decimal.Decimal      `json:"netSubtotal"`
	TaxAmount           decimal.Decimal      `json:"taxAmount"`
	TaxRate             decimal.Decimal      `json:"taxRate"`
	TaxRateName         string               `json:"taxRateName,omitempty"`
	ShippingCost        decimal.Decimal      `json:"shippingCost"`
	ShippingMethodTitle string               `json:"shippingMethodTitle"`
	ShippingZone        string               `json:"shippingZone,omitempty"`
	ShippingUnresolved  *shipping.Unresolved `json:"shippingUnresolved,omitempty"`
	TotalWeight         decimal.Decimal      `json:"totalWeight"`
	HasPhysicalProducts bool                 `json:"hasPhysicalProducts"`
	ResellerDiscount    decimal.Decimal      `json:"resellerDiscount"`
	VatExemptionApplied bool                 `json:"vatExemptionApplied"`
	FinalTotal          decimal.Decimal      `json:"finalTotal"`
	Lines               []reseller.Line      `json:"lines"`
	Nudges              []reseller.Nudge     `json:"nudges,omitempty"`
	Warnings            []string             `json:"warnings,omitempty"`
}

// Compute derives the totals for in.
//
// The gross subtotal never depends on the billing address: switching billing
// country only changes the net/tax split. With a VAT exemption the tax
// component for the billing country is removed and the net amount becomes the
// payable baseline.
func Compute(in Input) Totals {
	cur := money.Normalise(in.Currency)
	snap := in.Tables
	if snap == nil {
		snap = &tables.Snapshot{}
	}

	summary := reseller.Summarise(in.Items, cur, in.IsReseller)
	gross := decimal.Zero
	for _, line := range summary.Lines {
		gross = gross.Add(line.Total)
	}
	gross = money.Round(money.NonNegative(gross), cur)

	split := tax.Calculate(gross, in.BillingCountry, in.BillingState, cur, snap.TaxRates)
	payable := gross
	if in.VatExempt {
		split = tax.Exempt(split.Net)
		payable = split.Net
	}

	dest := shipping.Destination(in.BillingCountry, in.ShippingCountry, in.ShipToDifferent)
	ship := shipping.Calculate(dest, in.Items, snap.ShippingZones)
	shipCost := money.Round(money.NonNegative(ship.Cost), cur)

	out := Totals{
		Currency:            cur,
		GrossSubtotal:       gross,
		NetSubtotal:         split.Net,
		TaxAmount:           split.TaxAmount,
		TaxRate:             split.TaxRate,
		TaxRateName:         split.RateName,
		ShippingCost:        shipCost,
		ShippingMethodTitle: ship.MethodTitle,
		ShippingZone:        ship.ZoneName,
		ShippingUnresolved:  ship.Unresolved,
		TotalWeight:         ship.TotalWeight,
		HasPhysicalProducts: ship.HasPhysicalProducts,
		ResellerDiscount:    money.Round(summary.Savings, cur),
		VatExemptionApplied: in.VatExempt,
		FinalTotal:          money.Round(money.NonNegative(payable.Add(shipCost)), cur),
		Lines:               summary.Lines,
		Warnings:            append([]string(nil), snap.Warnings...),
	}
	if in.IsReseller {
		out.Nudges = summary.Nudges
	}
	if ship.Unresolved != nil {
		out.Warnings = append(out.Warnings, ship.Unresolved.Message)
	}
	return out
}
