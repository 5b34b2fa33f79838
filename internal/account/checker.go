// Package account answers whether a checkout email already has a store account.
package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bbtraining/checkout-api/internal/cache"
	"github.com/bbtraining/checkout-api/internal/commerce"
	"github.com/bbtraining/checkout-api/internal/debounce"
)

// ErrInvalidEmail is returned for addresses that cannot be looked up.
var ErrInvalidEmail = errors.New("account: invalid email")

// Directory finds and creates store customers.
type Directory interface {
	FindCustomerByEmail(ctx context.Context, email string) (*commerce.Customer, error)
	CreateCustomer(ctx context.Context, in commerce.NewCustomer) (commerce.Customer, error)
}

type cachedLookup struct {
	Exists     bool  `json:"exists"`
	CustomerID int64 `json:"customerId,omitempty"`
}

// Checker looks up accounts by email with a short-lived cache.
type Checker struct {
	dir    Directory
	cache  *cache.JSON
	logger zerolog.Logger
}

// NewChecker constructs a Checker. cache may be nil.
func NewChecker(dir Directory, c *cache.JSON, logger zerolog.Logger) *Checker {
	return &Checker{dir: dir, cache: c, logger: logger}
}

// Normalise trims and lower-cases email and rejects malformed addresses.
func Normalise(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// Lookup returns the customer id for email, or 0 when no account exists.
func (c *Checker) Lookup(ctx context.Context, email string) (int64, bool, error) {
	email, err := Normalise(email)
	if err != nil {
		return 0, false, err
	}
	var hit cachedLookup
	_, err = c.cache.Load(ctx, cache.KeyEmail(email), &hit, func(ctx context.Context) (any, error) {
		customer, err := c.dir.FindCustomerByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if customer == nil {
			return cachedLookup{}, nil
		}
		return cachedLookup{Exists: true, CustomerID: customer.ID}, nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("lookup customer: %w", err)
	}
	return hit.CustomerID, hit.Exists, nil
}

// Exists reports whether email has an account.
func (c *Checker) Exists(ctx context.Context, email string) (bool, error) {
	_, exists, err := c.Lookup(ctx, email)
	return exists, err
}

// Register creates an account and forgets the cached negative lookup.
func (c *Checker) Register(ctx context.Context, in commerce.NewCustomer) (commerce.Customer, error) {
	email, err := Normalise(in.Email)
	if err != nil {
		return commerce.Customer{}, err
	}
	in.Email = email
	created, err := c.dir.CreateCustomer(ctx, in)
	if err != nil {
		return commerce.Customer{}, err
	}
	if err := c.cache.Set(ctx, cache.KeyEmail(email), cachedLookup{Exists: true, CustomerID: created.ID}); err != nil {
		c.logger.Warn().Err(err).Msg("email cache write failed")
	}
	return created, nil
}

// Typeahead checks email existence as the buyer types; only the latest address
// is looked up once input has been quiet for the delay.
type Typeahead struct {
	deb *debounce.Debouncer[string, bool]
}

// NewTypeahead returns a Typeahead over checker.
func NewTypeahead(checker *Checker, delay time.Duration) *Typeahead {
	return &Typeahead{deb: debounce.New(delay, checker.Exists)}
}

// Check submits email. Superseded checks yield debounce.ErrSuperseded.
func (p *Typeahead) Check(ctx context.Context, email string) <-chan debounce.Result[bool] {
	return p.deb.Submit(ctx, email)
}

// Cancel drops any pending check.
func (p *Typeahead) Cancel() { p.deb.Cancel() }
