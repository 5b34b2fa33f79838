// Package cart models the cart snapshot the storefront sends with every quote
// and submission.
package cart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bbtraining/checkout-api/internal/money"
)

// ErrInvalidItem is returned when a line item breaks a cart invariant.
var ErrInvalidItem = errors.New("cart: invalid item")

// CurrencyPrice is a per-currency price pair; a positive sale price wins.
type CurrencyPrice struct {
	RegularPrice decimal.Decimal `json:"regular_price"`
	SalePrice    decimal.Decimal `json:"sale_price"`
}

// ResellerPricing is a product's bulk-discount rule.
type ResellerPricing struct {
	Enabled        bool                       `json:"enabled"`
	MinQuantity    int                        `json:"min_quantity" validate:"gte=0"`
	DiscountPrice  decimal.Decimal            `json:"discount_price"`
	CurrencyPrices map[string]decimal.Decimal `json:"currency_prices,omitempty"`
}

// DiscountPriceFor returns the per-unit reseller price in currency, falling
// back to the rule default.
func (r ResellerPricing) DiscountPriceFor(currency string) decimal.Decimal {
	if p, ok := r.CurrencyPrices[money.Normalise(currency)]; ok && p.IsPositive() {
		return p
	}
	return r.DiscountPrice
}

// Item is one cart line.
type Item struct {
	ID              string                   `json:"id" validate:"required"`
	ProductID       int64                    `json:"productId" validate:"required,gt=0"`
	VariationID     int64                    `json:"variationId,omitempty" validate:"gte=0"`
	Name            string                   `json:"name,omitempty"`
	Quantity        int                      `json:"quantity" validate:"gte=0"`
	Price           decimal.Decimal          `json:"price"`
	CurrencyPrices  map[string]CurrencyPrice `json:"currency_prices,omitempty"`
	Weight          decimal.NullDecimal      `json:"weight"`
	IsFreebie       bool                     `json:"isFreebie"`
	ResellerPricing *ResellerPricing         `json:"reseller_pricing,omitempty" validate:"omitempty"`
}

// Key returns the composite product/variation key.
func (it Item) Key() string {
	if id := strings.TrimSpace(it.ID); id != "" {
		return id
	}
	if it.VariationID > 0 {
		return fmt.Sprintf("%d-%d", it.ProductID, it.VariationID)
	}
	return fmt.Sprintf("%d", it.ProductID)
}

// UnitPrice is the customer-facing unit price in currency. Freebies are always 0.
func (it Item) UnitPrice(currency string) decimal.Decimal {
	if it.IsFreebie {
		return decimal.Zero
	}
	if cp, ok := it.CurrencyPrices[money.Normalise(currency)]; ok {
		if cp.SalePrice.IsPositive() {
			return cp.SalePrice
		}
		if cp.RegularPrice.IsPositive() {
			return cp.RegularPrice
		}
	}
	return it.Price
}

// ShippingWeight is weight × quantity, zero for freebies and weightless items.
func (it Item) ShippingWeight() decimal.Decimal {
	if it.IsFreebie || !it.Weight.Valid || !it.Weight.Decimal.IsPositive() || it.Quantity <= 0 {
		return decimal.Zero
	}
	return it.Weight.Decimal.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Validate enforces the cart invariants not expressible as struct tags.
func (it Item) Validate() error {
	if !it.IsFreebie && it.Quantity < 1 {
		return fmt.Errorf("%w: %s quantity must be at least 1", ErrInvalidItem, it.Key())
	}
	if it.Price.IsNegative() {
		return fmt.Errorf("%w: %s price is negative", ErrInvalidItem, it.Key())
	}
	if it.Weight.Valid && it.Weight.Decimal.IsNegative() {
		return fmt.Errorf("%w: %s weight is negative", ErrInvalidItem, it.Key())
	}
	return nil
}

// Validate checks every line in items.
func Validate(items []Item) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: cart is empty", ErrInvalidItem)
	}
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return err
		}
	}
	return nil
}
