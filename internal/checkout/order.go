package checkout

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bbtraining/checkout-api/internal/commerce"
	"github.com/bbtraining/checkout-api/internal/money"
	"github.com/bbtraining/checkout-api/internal/pricing"
	"github.com/bbtraining/checkout-api/internal/vat"
)

const (
	shippingMethodID = "weight_based_shipping"
	exemptionFeeName = "VAT exemption"
)

// BuildOrder packages a submission and its server-side totals into the order
// the store creates. Line totals are gross; an applied exemption is carried as
// a negative untaxed fee so the store's order total equals totals.FinalTotal.
func BuildOrder(req SubmitRequest, totals pricing.Totals, ev vat.Evaluation, customerID int64) commerce.OrderRequest {
	cur := totals.Currency
	billing := toCommerceAddress(req.Billing)
	if req.IsCompany && strings.TrimSpace(req.CompanyName) != "" {
		billing.Company = strings.TrimSpace(req.CompanyName)
	}
	shipping := billing
	shipping.Email = ""
	if req.ShipToDifferentAddress && req.Shipping != nil {
		shipping = toCommerceAddress(*req.Shipping)
		shipping.Email = ""
	}

	out := commerce.OrderRequest{
		PaymentMethod: strings.ToLower(strings.TrimSpace(req.PaymentMethod)),
		SetPaid:       false,
		Status:        "pending",
		Currency:      cur,
		CustomerID:    customerID,
		CustomerNote:  strings.TrimSpace(req.CustomerNote),
		Billing:       billing,
		Shipping:      shipping,
		LineItems:     make([]commerce.LineItem, 0, len(req.CartItems)),
	}

	for i, it := range req.CartItems {
		if i >= len(totals.Lines) {
			break
		}
		line := totals.Lines[i]
		qty := decimal.NewFromInt(int64(line.Quantity))
		li := commerce.LineItem{
			ProductID:   it.ProductID,
			VariationID: it.VariationID,
			Quantity:    it.Quantity,
			Subtotal:    amount(line.Unit.OriginalPrice.Mul(qty), cur),
			Total:       amount(line.Total, cur),
		}
		if it.IsFreebie {
			li.Subtotal = amount(decimal.Zero, cur)
			li.MetaData = append(li.MetaData, commerce.MetaData{Key: "_is_freebie", Value: "yes"})
		}
		if line.Unit.HasDiscount && it.ResellerPricing != nil {
			li.MetaData = append(li.MetaData, commerce.MetaData{Key: "_reseller_pricing", Value: map[string]any{
				"min_quantity":   it.ResellerPricing.MinQuantity,
				"discount_price": line.Unit.Price.String(),
				"original_price": line.Unit.OriginalPrice.String(),
			}})
		}
		out.LineItems = append(out.LineItems, li)
	}

	if totals.HasPhysicalProducts {
		out.ShippingLines = []commerce.ShippingLine{{
			MethodID:    shippingMethodID,
			MethodTitle: totals.ShippingMethodTitle,
			Total:       amount(totals.ShippingCost, cur),
		}}
	}
	if totals.VatExemptionApplied {
		removed := totals.GrossSubtotal.Sub(totals.NetSubtotal)
		if removed.IsPositive() {
			out.FeeLines = append(out.FeeLines, commerce.FeeLine{
				Name:      exemptionFeeName,
				Total:     amount(removed.Neg(), cur),
				TaxStatus: "none",
			})
		}
	}

	out.MetaData = orderMeta(req, totals, ev)
	return out
}

func orderMeta(req SubmitRequest, totals pricing.Totals, ev vat.Evaluation) []commerce.MetaData {
	cur := totals.Currency
	meta := []commerce.MetaData{
		{Key: "_checkout_cart_id", Value: req.CartID},
		{Key: "_net_subtotal", Value: amount(totals.NetSubtotal, cur)},
		{Key: "_tax_rate", Value: totals.TaxRate.String()},
		{Key: "_tax_amount", Value: amount(totals.TaxAmount, cur)},
		{Key: "_reseller_discount", Value: amount(totals.ResellerDiscount, cur)},
		{Key: "_is_reseller", Value: yesNo(req.IsReseller)},
		{Key: "_is_company", Value: yesNo(req.IsCompany)},
		{Key: "_vat_exemption_applied", Value: yesNo(ev.ExemptionApplied)},
	}
	if req.IsCompany {
		meta = append(meta,
			commerce.MetaData{Key: "_billing_company_name", Value: strings.TrimSpace(req.CompanyName)},
			commerce.MetaData{Key: "_billing_vat_number", Value: strings.TrimSpace(req.VatNumber)},
			commerce.MetaData{Key: "_vat_status", Value: string(ev.Status)},
		)
	}
	if ev.Export {
		meta = append(meta, commerce.MetaData{Key: "_vat_export", Value: "yes"})
	}
	if v := ev.Validated; v != nil {
		meta = append(meta, commerce.MetaData{Key: "_vat_validated", Value: map[string]any{
			"countryCode":        v.CountryCode,
			"vatNumber":          v.VatNumber,
			"name":               v.Name,
			"address":            v.Address,
			"fallbackValidation": v.FallbackValidation,
		}})
	}
	if u := totals.ShippingUnresolved; u != nil {
		meta = append(meta, commerce.MetaData{Key: "_shipping_unresolved", Value: string(u.Reason)})
	}
	return meta
}

func toCommerceAddress(a Address) commerce.Address {
	return commerce.Address{
		FirstName: strings.TrimSpace(a.FirstName),
		LastName:  strings.TrimSpace(a.LastName),
		Company:   strings.TrimSpace(a.Company),
		Address1:  strings.TrimSpace(a.Address1),
		Address2:  strings.TrimSpace(a.Address2),
		City:      strings.TrimSpace(a.City),
		State:     strings.ToUpper(strings.TrimSpace(a.State)),
		Postcode:  strings.TrimSpace(a.Postcode),
		Country:   strings.ToUpper(strings.TrimSpace(a.Country)),
		Email:     strings.ToLower(strings.TrimSpace(a.Email)),
		Phone:     strings.TrimSpace(a.Phone),
	}
}

func amount(d decimal.Decimal, currency string) string {
	return money.Round(d, currency).StringFixed(money.Scale(currency))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
