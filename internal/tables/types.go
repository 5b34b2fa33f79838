// Package tables holds the immutable lookup tables the pricing calculators
// read: countries, tax rates, shipping zones and payment methods.
package tables

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TaxRate is a percentage keyed by country and optional state.
type TaxRate struct {
	Country  string          `json:"country"`
	State    string          `json:"state,omitempty"`
	Rate     decimal.Decimal `json:"rate"`
	Name     string          `json:"name,omitempty"`
	Priority int             `json:"priority,omitempty"`
}

// WeightBand prices the half-open weight range [Min, Max). A zero Max is unbounded.
type WeightBand struct {
	Min   decimal.Decimal `json:"weightMin"`
	Max   decimal.Decimal `json:"weightMax"`
	Cost  decimal.Decimal `json:"cost"`
	Title string          `json:"title"`
}

// Contains reports whether weight falls inside the band.
func (b WeightBand) Contains(weight decimal.Decimal) bool {
	if weight.LessThan(b.Min) {
		return false
	}
	return b.Unbounded() || weight.LessThan(b.Max)
}

// Unbounded reports whether the band has no upper limit.
func (b WeightBand) Unbounded() bool {
	return !b.Max.IsPositive()
}

// ShippingZone groups destination countries sharing a weight-banded rate table.
type ShippingZone struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	Countries []string     `json:"countries"`
	Methods   []WeightBand `json:"methods"`
}

// Covers reports whether the zone ships to country.
func (z ShippingZone) Covers(country string) bool {
	for _, c := range z.Countries {
		if c == country {
			return true
		}
	}
	return false
}

// State is a sub-national region.
type State struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Country is a billing/shipping destination.
type Country struct {
	Code   string  `json:"code"`
	Name   string  `json:"name"`
	States []State `json:"states,omitempty"`
	EU     bool    `json:"eu"`
}

// PaymentMethod is a gateway the storefront may offer.
type PaymentMethod struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	Order       int    `json:"order,omitempty"`
}

// Snapshot is one consistent set of lookup tables. It is never mutated after
// the loader publishes it.
type Snapshot struct {
	Countries      []Country       `json:"countries"`
	TaxRates       []TaxRate       `json:"taxRates"`
	ShippingZones  []ShippingZone  `json:"shippingZones"`
	PaymentMethods []PaymentMethod `json:"paymentMethods"`
	Source         string          `json:"source"`
	FetchedAt      time.Time       `json:"fetchedAt"`
	Warnings       []string        `json:"warnings,omitempty"`
}

// Empty reports whether the snapshot carries no pricing data at all.
func (s *Snapshot) Empty() bool {
	return s == nil || (len(s.TaxRates) == 0 && len(s.ShippingZones) == 0 && len(s.Countries) == 0)
}

// EnabledPaymentMethods filters out disabled gateways.
func (s *Snapshot) EnabledPaymentMethods() []PaymentMethod {
	if s == nil {
		return nil
	}
	out := make([]PaymentMethod, 0, len(s.PaymentMethods))
	for _, pm := range s.PaymentMethods {
		if pm.Enabled {
			out = append(out, pm)
		}
	}
	return out
}

// Source fetches a fresh snapshot from a backing store.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (Snapshot, error)
}
