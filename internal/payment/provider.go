// Package payment opens payment sessions for created orders through the
// storefront's payment collaborators.
package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrUnsupportedMethod is returned for payment methods without a provider.
var ErrUnsupportedMethod = errors.New("payment: unsupported payment method")

// SessionRequest describes the order a session is opened for.
type SessionRequest struct {
	OrderID     int64
	OrderNumber string
	OrderKey    string
	Amount      decimal.Decimal
	Currency    string
	Email       string
	SuccessURL  string
	CancelURL   string
}

// Session is where the customer continues to pay. URL is empty for offline
// methods that need no redirect.
type Session struct {
	Provider string `json:"provider"`
	URL      string `json:"url,omitempty"`
	ID       string `json:"id,omitempty"`
}

// Provider opens payment sessions for one payment method.
type Provider interface {
	Name() string
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
}
