// Package shipping prices carts by total weight against zone rate tables.
package shipping

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bbtraining/checkout-api/internal/cart"
	"github.com/bbtraining/checkout-api/internal/tables"
)

// NoShippingTitle labels carts without physical products.
const NoShippingTitle = "No Shipping Required"

// Reason explains why a shipping cost could not be resolved.
type Reason string

const (
	ReasonNoCountry Reason = "no_country"
	ReasonNoZone    Reason = "no_zone"
	ReasonNoBand    Reason = "no_band"
)

// Unresolved marks a fail-open quote: cost is zero and the order needs
// manual reconciliation.
type Unresolved struct {
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
}

// Quote is the shipping outcome for one cart and destination.
type Quote struct {
	Cost                decimal.Decimal `json:"cost"`
	MethodTitle         string          `json:"methodTitle"`
	HasPhysicalProducts bool            `json:"hasPhysicalProducts"`
	TotalWeight         decimal.Decimal `json:"totalWeight"`
	ZoneName            string          `json:"zoneName,omitempty"`
	Unresolved          *Unresolved     `json:"unresolved,omitempty"`
}

// TotalWeight sums weight × quantity over weighted, non-freebie items.
func TotalWeight(items []cart.Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.ShippingWeight())
	}
	return total
}

// Destination picks the shipping country when the customer ships elsewhere,
// otherwise the billing country.
func Destination(billingCountry, shippingCountry string, shipToDifferent bool) string {
	if shipToDifferent && strings.TrimSpace(shippingCountry) != "" {
		return strings.ToUpper(strings.TrimSpace(shippingCountry))
	}
	return strings.ToUpper(strings.TrimSpace(billingCountry))
}

// Calculate resolves the zone and weight band for destination. Zones are
// matched in declaration order and the first containing the country wins.
func Calculate(destination string, items []cart.Item, zones []tables.ShippingZone) Quote {
	weight := TotalWeight(items)
	if !weight.IsPositive() {
		return Quote{Cost: decimal.Zero, MethodTitle: NoShippingTitle, TotalWeight: decimal.Zero}
	}

	q := Quote{Cost: decimal.Zero, HasPhysicalProducts: true, TotalWeight: weight}
	country := strings.ToUpper(strings.TrimSpace(destination))
	if country == "" {
		q.Unresolved = &Unresolved{Reason: ReasonNoCountry, Message: "destination country not set"}
		return q
	}

	zone, ok := findZone(country, zones)
	if !ok {
		q.Unresolved = &Unresolved{Reason: ReasonNoZone, Message: fmt.Sprintf("no shipping zone covers %s", country)}
		return q
	}
	q.ZoneName = zone.Name

	for _, band := range zone.Methods {
		if band.Contains(weight) {
			q.Cost = band.Cost
			q.MethodTitle = band.Title
			return q
		}
	}
	q.Unresolved = &Unresolved{
		Reason:  ReasonNoBand,
		Message: fmt.Sprintf("zone %q has no band for %s kg", zone.Name, weight.String()),
	}
	return q
}

func findZone(country string, zones []tables.ShippingZone) (tables.ShippingZone, bool) {
	for _, z := range zones {
		if z.Covers(country) {
			return z, true
		}
	}
	return tables.ShippingZone{}, false
}
