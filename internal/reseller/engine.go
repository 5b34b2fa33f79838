// Package reseller applies bulk pricing rules for accounts with the reseller role.
package reseller

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bbtraining/checkout-api/internal/cart"
)

// Price is the reseller outcome for one line. Amounts are per unit.
type Price struct {
	HasDiscount    bool            `json:"hasDiscount"`
	Price          decimal.Decimal `json:"price"`
	OriginalPrice  decimal.Decimal `json:"originalPrice"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	// UnitsToDiscount is how many more units unlock the rule; zero when not applicable.
	UnitsToDiscount int `json:"unitsToDiscount,omitempty"`
}

// Eligible reports whether the rule applies to item for this buyer.
func Eligible(item cart.Item, isReseller bool) bool {
	rule := item.ResellerPricing
	return isReseller && !item.IsFreebie && rule != nil && rule.Enabled && item.Quantity >= rule.MinQuantity
}

// Calculate prices item in currency. Non-resellers always get the regular price.
func Calculate(item cart.Item, currency string, isReseller bool) Price {
	original := item.UnitPrice(currency)
	out := Price{Price: original, OriginalPrice: original, DiscountAmount: decimal.Zero}
	rule := item.ResellerPricing
	if !isReseller || item.IsFreebie || rule == nil || !rule.Enabled {
		return out
	}
	if item.Quantity < rule.MinQuantity {
		out.UnitsToDiscount = rule.MinQuantity - item.Quantity
		return out
	}
	discounted := rule.DiscountPriceFor(currency)
	if !discounted.IsPositive() || !discounted.LessThan(original) {
		return out
	}
	out.HasDiscount = true
	out.Price = discounted
	out.DiscountAmount = original.Sub(discounted)
	return out
}

// Line is a priced cart line.
type Line struct {
	ItemID   string          `json:"itemId"`
	Quantity int             `json:"quantity"`
	Unit     Price           `json:"unit"`
	Total    decimal.Decimal `json:"total"`
	Savings  decimal.Decimal `json:"savings"`
}

// Nudge tells a reseller how many more units unlock a discount.
type Nudge struct {
	ItemID      string `json:"itemId"`
	UnitsNeeded int    `json:"unitsNeeded"`
	Message     string `json:"message"`
}

// Summary aggregates reseller pricing over a cart.
type Summary struct {
	Lines   []Line          `json:"lines"`
	Savings decimal.Decimal `json:"savings"`
	Nudges  []Nudge         `json:"nudges,omitempty"`
}

// Summarise prices every line and totals the savings. Nudges are only
// produced for resellers.
func Summarise(items []cart.Item, currency string, isReseller bool) Summary {
	sum := Summary{Lines: make([]Line, 0, len(items)), Savings: decimal.Zero}
	for _, it := range items {
		p := Calculate(it, currency, isReseller)
		qty := decimal.NewFromInt(int64(it.Quantity))
		line := Line{
			ItemID:   it.Key(),
			Quantity: it.Quantity,
			Unit:     p,
			Total:    p.Price.Mul(qty),
			Savings:  p.DiscountAmount.Mul(qty),
		}
		sum.Lines = append(sum.Lines, line)
		sum.Savings = sum.Savings.Add(line.Savings)
		if p.UnitsToDiscount > 0 {
			sum.Nudges = append(sum.Nudges, Nudge{
				ItemID:      it.Key(),
				UnitsNeeded: p.UnitsToDiscount,
				Message:     nudgeMessage(it, p),
			})
		}
	}
	return sum
}

func nudgeMessage(it cart.Item, p Price) string {
	name := it.Name
	if name == "" {
		name = "this item"
	}
	unit := "units"
	if p.UnitsToDiscount == 1 {
		unit = "unit"
	}
	return fmt.Sprintf("Add %d more %s of %s to unlock reseller pricing", p.UnitsToDiscount, unit, name)
}
