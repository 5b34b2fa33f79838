package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bbtraining/checkout-api/internal/resilience"
)

// Redirect posts the order to a storefront payment endpoint and reads the
// redirect URL from URLField of the JSON reply.
type Redirect struct {
	Method   string
	BaseURL  string
	Path     string
	URLField string
	HTTP     *resilience.HTTPClient
}

// NewStripe opens Stripe Checkout sessions via /api/create-stripe-checkout.
func NewStripe(baseURL string, client *resilience.HTTPClient) Redirect {
	return Redirect{Method: "stripe", BaseURL: baseURL, Path: "/api/create-stripe-checkout", URLField: "url", HTTP: client}
}

// NewPayPal opens PayPal orders via /api/create-paypal-order.
func NewPayPal(baseURL string, client *resilience.HTTPClient) Redirect {
	return Redirect{Method: "paypal", BaseURL: baseURL, Path: "/api/create-paypal-order", URLField: "approveLink", HTTP: client}
}

// Name implements Provider.
func (r Redirect) Name() string { return r.Method }

type redirectBody struct {
	OrderID     int64  `json:"orderId"`
	OrderNumber string `json:"orderNumber,omitempty"`
	OrderKey    string `json:"orderKey,omitempty"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Email       string `json:"email,omitempty"`
	SuccessURL  string `json:"successUrl,omitempty"`
	CancelURL   string `json:"cancelUrl,omitempty"`
}

// CreateSession implements Provider.
func (r Redirect) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if req.OrderID == 0 {
		return Session{}, errors.New("payment: order id is required")
	}
	if r.HTTP == nil {
		return Session{}, errors.New("payment: http client not configured")
	}
	raw, err := json.Marshal(redirectBody{
		OrderID:     req.OrderID,
		OrderNumber: req.OrderNumber,
		OrderKey:    req.OrderKey,
		Amount:      req.Amount.StringFixed(2),
		Currency:    req.Currency,
		Email:       req.Email,
		SuccessURL:  req.SuccessURL,
		CancelURL:   req.CancelURL,
	})
	if err != nil {
		return Session{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(r.BaseURL, "/")+r.Path, bytes.NewReader(raw))
	if err != nil {
		return Session{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", fmt.Sprintf("session-%s-%d", r.Method, req.OrderID))

	resp, err := r.HTTP.Do(ctx, httpReq)
	if err != nil {
		return Session{}, fmt.Errorf("%s session: %w", r.Method, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Session{}, fmt.Errorf("%s session: %w", r.Method, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return Session{}, fmt.Errorf("%s session: status %d", r.Method, resp.StatusCode)
	}

	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return Session{}, fmt.Errorf("%s session: decode: %w", r.Method, err)
	}
	url, _ := out[r.URLField].(string)
	if strings.TrimSpace(url) == "" {
		return Session{}, fmt.Errorf("%s session: response has no %s", r.Method, r.URLField)
	}
	id, _ := out["id"].(string)
	return Session{Provider: r.Method, URL: url, ID: id}, nil
}
