package checkout

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bbtraining/checkout-api/internal/cart"
	"github.com/bbtraining/checkout-api/internal/payment"
	"github.com/bbtraining/checkout-api/internal/pricing"
	"github.com/bbtraining/checkout-api/internal/tables"
	"github.com/bbtraining/checkout-api/internal/vat"
)

// Address is a billing or shipping address as the storefront posts it.
type Address struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Company   string `json:"company,omitempty"`
	Address1  string `json:"address1"`
	Address2  string `json:"address2,omitempty"`
	City      string `json:"city"`
	State     string `json:"state,omitempty"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country" validate:"required,len=2,alpha"`
	Email     string `json:"email,omitempty" validate:"omitempty,email"`
	Phone     string `json:"phone,omitempty"`
}

// Destination is the part of an address a quote depends on.
type Destination struct {
	Country string `json:"country" validate:"omitempty,len=2,alpha"`
	State   string `json:"state,omitempty"`
}

// QuoteRequest asks for the totals of a cart at a destination.
type QuoteRequest struct {
	Items                  []cart.Item  `json:"items" validate:"dive"`
	Currency               string       `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	Billing                Destination  `json:"billing"`
	Shipping               *Destination `json:"shipping,omitempty"`
	ShipToDifferentAddress bool         `json:"shipToDifferentAddress"`
	IsCompany              bool         `json:"isCompany"`
	VatNumber              string       `json:"vatNumber,omitempty"`
}

// Quote is the recomputed summary plus the VAT decision behind it.
type Quote struct {
	pricing.Totals
	Vat vat.Evaluation `json:"vat"`
}

// SubmitRequest is the order-creation body. Client-side totals are
// informational; the server recomputes them.
type SubmitRequest struct {
	CartID                 string          `json:"cartId" validate:"required,max=128"`
	Billing                Address         `json:"billing"`
	Shipping               *Address        `json:"shipping,omitempty" validate:"required_if=ShipToDifferentAddress true"`
	ShipToDifferentAddress bool            `json:"shipToDifferentAddress"`
	PaymentMethod          string          `json:"paymentMethod" validate:"required"`
	CustomerNote           string          `json:"customerNote,omitempty" validate:"max=2000"`
	Currency               string          `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	TotalPrice             decimal.Decimal `json:"totalPrice"`
	ShippingCost           decimal.Decimal `json:"shippingCost"`
	ShippingMethodTitle    string          `json:"shippingMethodTitle,omitempty"`
	CustomerID             int64           `json:"customerId,omitempty"`
	Password               string          `json:"password,omitempty"`
	IsCompany              bool            `json:"isCompany"`
	CompanyName            string          `json:"companyName,omitempty" validate:"required_if=IsCompany true"`
	VatNumber              string          `json:"vatNumber,omitempty"`
	VatExemptionApplied    bool            `json:"vatExemptionApplied"`
	ValidatedVatData       *vat.Result     `json:"validatedVatData,omitempty"`
	CartItems              []cart.Item     `json:"cartItems" validate:"required,min=1,dive"`
	ResellerDiscount       decimal.Decimal `json:"resellerDiscount"`
	IsReseller             bool            `json:"isReseller"`
}

// OrderSummary is what the storefront needs to continue after submit.
type OrderSummary struct {
	ID            int64           `json:"id"`
	OrderNumber   string          `json:"orderNumber"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"paymentMethod"`
}

// SubmitResult is the outcome of an accepted submission. Payment is nil when
// the session could not be opened.
type SubmitResult struct {
	SubmissionID uuid.UUID
	Order        OrderSummary
	Payment      *payment.Session
	Totals       pricing.Totals
	Vat          vat.Evaluation
}

// ShippingMethod is one weight band flattened for the checkout form.
type ShippingMethod struct {
	Zone      string          `json:"zone"`
	Title     string          `json:"title"`
	WeightMin decimal.Decimal `json:"weightMin"`
	WeightMax decimal.Decimal `json:"weightMax"`
	Cost      decimal.Decimal `json:"cost"`
}

// Config is the checkout configuration plus the lookup tables.
type Config struct {
	PaymentMethods  []tables.PaymentMethod `json:"paymentMethods"`
	ShippingMethods []ShippingMethod       `json:"shippingMethods"`
	NeedsShipping   bool                   `json:"needsShipping"`
	NeedsPayment    bool                   `json:"needsPayment"`
	Currency        string                 `json:"currency"`
	HomeCountry     string                 `json:"homeCountry"`
	Countries       []tables.Country       `json:"countries"`
	TaxRates        []tables.TaxRate       `json:"taxRates"`
	ShippingZones   []tables.ShippingZone  `json:"shippingZones"`
	Warnings        []string               `json:"warnings,omitempty"`
}
