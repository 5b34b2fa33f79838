package commerce

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Address is a WooCommerce billing or shipping address.
type Address struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company,omitempty"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2,omitempty"`
	City      string `json:"city"`
	State     string `json:"state,omitempty"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// MetaData is a free-form key/value stored on orders and lines.
type MetaData struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// LineItem is one order line. Totals are decimal strings as WooCommerce expects.
type LineItem struct {
	ProductID   int64      `json:"product_id"`
	VariationID int64      `json:"variation_id,omitempty"`
	Quantity    int        `json:"quantity"`
	Subtotal    string     `json:"subtotal"`
	Total       string     `json:"total"`
	MetaData    []MetaData `json:"meta_data,omitempty"`
}

// ShippingLine carries the shipping charge.
type ShippingLine struct {
	MethodID    string `json:"method_id"`
	MethodTitle string `json:"method_title"`
	Total       string `json:"total"`
}

// FeeLine carries discounts or surcharges as signed totals.
type FeeLine struct {
	Name     string `json:"name"`
	Total    string `json:"total"`
	TaxClass string `json:"tax_class,omitempty"`
	// TaxStatus "none" keeps WooCommerce from taxing the fee again.
	TaxStatus string `json:"tax_status,omitempty"`
}

// OrderRequest creates a pending order.
type OrderRequest struct {
	PaymentMethod      string         `json:"payment_method"`
	PaymentMethodTitle string         `json:"payment_method_title,omitempty"`
	SetPaid            bool           `json:"set_paid"`
	Status             string         `json:"status,omitempty"`
	Currency           string         `json:"currency,omitempty"`
	CustomerID         int64          `json:"customer_id,omitempty"`
	CustomerNote       string         `json:"customer_note,omitempty"`
	Billing            Address        `json:"billing"`
	Shipping           Address        `json:"shipping"`
	LineItems          []LineItem     `json:"line_items"`
	ShippingLines      []ShippingLine `json:"shipping_lines,omitempty"`
	FeeLines           []FeeLine      `json:"fee_lines,omitempty"`
	MetaData           []MetaData     `json:"meta_data,omitempty"`
}

// Order is the created order as returned by the store.
type Order struct {
	ID            int64  `json:"id"`
	Number        string `json:"number"`
	Status        string `json:"status"`
	Currency      string `json:"currency"`
	Total         string `json:"total"`
	PaymentMethod string `json:"payment_method"`
	OrderKey      string `json:"order_key"`
}

// CreateOrder posts a new order.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	var out Order
	if err := c.post(ctx, "/orders", req, &out); err != nil {
		return Order{}, err
	}
	if out.ID == 0 {
		return Order{}, fmt.Errorf("commerce: order created without id")
	}
	return out, nil
}

// AddOrderNote attaches a note. Private notes are only visible to staff.
func (c *Client) AddOrderNote(ctx context.Context, orderID int64, note string, customerNote bool) error {
	body := map[string]any{"note": note, "customer_note": customerNote}
	return c.post(ctx, fmt.Sprintf("/orders/%d/notes", orderID), body, nil)
}

// Customer is a store account.
type Customer struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// NewCustomer creates an account. An empty password lets the store email one.
type NewCustomer struct {
	Email     string  `json:"email"`
	FirstName string  `json:"first_name,omitempty"`
	LastName  string  `json:"last_name,omitempty"`
	Username  string  `json:"username,omitempty"`
	Password  string  `json:"password,omitempty"`
	Billing   Address `json:"billing"`
	Shipping  Address `json:"shipping"`
}

// FindCustomerByEmail returns nil without error when no account exists.
func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}
	var out []Customer
	q := url.Values{"email": {email}, "role": {"all"}}
	if _, err := c.get(ctx, "/customers", q, &out); err != nil {
		return nil, err
	}
	for i := range out {
		if strings.EqualFold(out[i].Email, email) {
			return &out[i], nil
		}
	}
	return nil, nil
}

// CreateCustomer registers a new account.
func (c *Client) CreateCustomer(ctx context.Context, in NewCustomer) (Customer, error) {
	var out Customer
	if err := c.post(ctx, "/customers", in, &out); err != nil {
		return Customer{}, err
	}
	return out, nil
}
