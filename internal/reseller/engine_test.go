package reseller

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/bbtraining/checkout-api/internal/cart"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func bulkItem(qty int) cart.Item {
	return cart.Item{
		ID:        "7",
		ProductID: 7,
		Name:      "Training kit",
		Quantity:  qty,
		Price:     d("10"),
		ResellerPricing: &cart.ResellerPricing{
			Enabled:       true,
			MinQuantity:   5,
			DiscountPrice: d("8"),
		},
	}
}

func TestBelowThresholdNudges(t *testing.T) {
	sum := Summarise([]cart.Item{bulkItem(4)}, "EUR", true)
	require.True(t, sum.Savings.IsZero())
	require.False(t, sum.Lines[0].Unit.HasDiscount)
	require.Len(t, sum.Nudges, 1)
	require.Equal(t, 1, sum.Nudges[0].UnitsNeeded)
	require.Contains(t, sum.Nudges[0].Message, "Add 1 more unit")
}

func TestAtThresholdDiscounts(t *testing.T) {
	sum := Summarise([]cart.Item{bulkItem(5)}, "EUR", true)
	line := sum.Lines[0]
	require.True(t, line.Unit.HasDiscount)
	require.True(t, line.Unit.Price.Equal(d("8")))
	require.True(t, line.Unit.DiscountAmount.Equal(d("2")))
	require.True(t, line.Total.Equal(d("40")))
	require.True(t, sum.Savings.Equal(d("10")))
	require.Empty(t, sum.Nudges)
}

func TestEveryConditionRequired(t *testing.T) {
	require.False(t, Calculate(bulkItem(10), "EUR", false).HasDiscount, "not a reseller")

	disabled := bulkItem(10)
	disabled.ResellerPricing.Enabled = false
	require.False(t, Calculate(disabled, "EUR", true).HasDiscount, "rule disabled")

	require.False(t, Calculate(bulkItem(4), "EUR", true).HasDiscount, "below minimum")

	none := bulkItem(10)
	none.ResellerPricing = nil
	require.False(t, Calculate(none, "EUR", true).HasDiscount, "no rule")

	require.True(t, Eligible(bulkItem(5), true))
	require.False(t, Eligible(bulkItem(5), false))
}

func TestNonResellersGetNoNudges(t *testing.T) {
	sum := Summarise([]cart.Item{bulkItem(4)}, "EUR", false)
	require.Empty(t, sum.Nudges)
	require.True(t, sum.Lines[0].Total.Equal(d("40")))
}

func TestCurrencyAwareDiscount(t *testing.T) {
	it := bulkItem(5)
	it.CurrencyPrices = map[string]cart.CurrencyPrice{"USD": {RegularPrice: d("12")}}
	it.ResellerPricing.CurrencyPrices = map[string]decimal.Decimal{"USD": d("9.50")}
	p := Calculate(it, "USD", true)
	require.True(t, p.OriginalPrice.Equal(d("12")))
	require.True(t, p.Price.Equal(d("9.50")))
	require.True(t, p.DiscountAmount.Equal(d("2.50")))
}

func TestDiscountNeverRaisesPrice(t *testing.T) {
	it := bulkItem(5)
	it.ResellerPricing.DiscountPrice = d("11")
	p := Calculate(it, "EUR", true)
	require.False(t, p.HasDiscount)
	require.True(t, p.Price.Equal(d("10")))
}
