// Package checkout serves the checkout configuration, quotes totals and turns
// a submitted checkout into a store order with a payment session.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bbtraining/checkout-api/internal/cart"
	"github.com/bbtraining/checkout-api/internal/commerce"
	"github.com/bbtraining/checkout-api/internal/common"
	"github.com/bbtraining/checkout-api/internal/ledger"
	"github.com/bbtraining/checkout-api/internal/lock"
	"github.com/bbtraining/checkout-api/internal/money"
	"github.com/bbtraining/checkout-api/internal/obs"
	"github.com/bbtraining/checkout-api/internal/payment"
	"github.com/bbtraining/checkout-api/internal/pricing"
	"github.com/bbtraining/checkout-api/internal/queue"
	"github.com/bbtraining/checkout-api/internal/shipping"
	"github.com/bbtraining/checkout-api/internal/tables"
	"github.com/bbtraining/checkout-api/internal/vat"
)

// Error codes rendered by the submit endpoint.
const (
	CodeAccountCreation = "ACCOUNT_CREATION_FAILED"
	CodeOrderCreation   = "ORDER_CREATION_FAILED"
	CodePaymentSession  = "PAYMENT_SESSION_FAILED"
	CodeInProgress      = "CHECKOUT_IN_PROGRESS"
)

var (
	ErrAccountCreation = errors.New("checkout: account creation failed")
	ErrOrderCreation   = errors.New("checkout: order creation failed")
	ErrPaymentSession  = errors.New("checkout: payment session failed")
)

// Payment statuses stored on the ledger.
const (
	paymentPending       = "pending"
	paymentSessionOpened = "session_opened"
	paymentOffline       = "offline"
	paymentSessionFailed = "session_failed"
)

// TableSource exposes the current lookup snapshot.
type TableSource interface {
	Current() *tables.Snapshot
}

// Accounts looks up and creates store customers.
type Accounts interface {
	Lookup(ctx context.Context, email string) (int64, bool, error)
	Register(ctx context.Context, in commerce.NewCustomer) (commerce.Customer, error)
}

// Orders creates store orders.
type Orders interface {
	CreateOrder(ctx context.Context, req commerce.OrderRequest) (commerce.Order, error)
}

// Ledger records submissions and their follow-ups.
type Ledger interface {
	Record(ctx context.Context, sub ledger.Submission, items []ledger.Item) (uuid.UUID, error)
	AddItem(ctx context.Context, submissionID uuid.UUID, kind string, detail map[string]any) error
	SetPaymentStatus(ctx context.Context, submissionID uuid.UUID, status string) error
}

// Followups enqueues reconciliation work.
type Followups interface {
	EnqueueVatRevalidate(ctx context.Context, p queue.VatRevalidatePayload) error
	EnqueueShippingReconcile(ctx context.Context, p queue.ShippingReconcilePayload) error
}

// Payments opens payment sessions.
type Payments interface {
	Supports(method string) bool
	CreateSession(ctx context.Context, method string, req payment.SessionRequest) (payment.Session, error)
}

// Locker serialises submissions per cart; lock.Locker satisfies it.
type Locker interface {
	CheckoutKey(cartID string) string
	TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Service implements the checkout operations. Ledger and Followups are
// optional; everything else is required for Submit.
type Service struct {
	Tables      TableSource
	VAT         vat.Evaluator
	Accounts    Accounts
	Orders      Orders
	Ledger      Ledger
	Followups   Followups
	Payments    Payments
	Lock        Locker
	LockTTL     time.Duration
	Currency    string
	HomeCountry string
	SuccessURL  string
	CancelURL   string
	Logger      zerolog.Logger
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Service) snapshot() *tables.Snapshot {
	if s.Tables == nil {
		return nil
	}
	return s.Tables.Current()
}

func (s *Service) currency(requested string) string {
	if c := strings.TrimSpace(requested); c != "" {
		return money.Normalise(c)
	}
	return money.Normalise(s.Currency)
}

// Config returns the payment and shipping options with the lookup tables.
func (s *Service) Config(_ context.Context) Config {
	snap := s.snapshot()
	out := Config{
		PaymentMethods:  []tables.PaymentMethod{},
		ShippingMethods: []ShippingMethod{},
		Currency:        s.currency(""),
		HomeCountry:     strings.ToUpper(s.HomeCountry),
		Countries:       []tables.Country{},
		TaxRates:        []tables.TaxRate{},
		ShippingZones:   []tables.ShippingZone{},
	}
	if snap == nil {
		out.Warnings = []string{"lookup tables are not loaded"}
		return out
	}
	for _, pm := range snap.EnabledPaymentMethods() {
		if s.Payments != nil && !s.Payments.Supports(pm.ID) {
			continue
		}
		out.PaymentMethods = append(out.PaymentMethods, pm)
	}
	for _, z := range snap.ShippingZones {
		for _, b := range z.Methods {
			out.ShippingMethods = append(out.ShippingMethods, ShippingMethod{
				Zone: z.Name, Title: b.Title, WeightMin: b.Min, WeightMax: b.Max, Cost: b.Cost,
			})
		}
	}
	out.NeedsShipping = len(out.ShippingMethods) > 0
	out.NeedsPayment = len(out.PaymentMethods) > 0
	out.Countries = append(out.Countries, snap.Countries...)
	out.TaxRates = append(out.TaxRates, snap.TaxRates...)
	out.ShippingZones = append(out.ShippingZones, snap.ShippingZones...)
	out.Warnings = snap.Warnings
	return out
}

// Quote evaluates the VAT exemption and recomputes the totals. The reseller
// flag comes from the authenticated identity, never from the request.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if err := validate.Struct(req); err != nil {
		obs.IncCounter(obs.CheckoutQuotesTotal, "invalid")
		return Quote{}, validationError(err)
	}
	for _, it := range req.Items {
		if err := it.Validate(); err != nil {
			obs.IncCounter(obs.CheckoutQuotesTotal, "invalid")
			return Quote{}, common.ValidationError(err.Error(), nil)
		}
	}
	ev := s.VAT.Evaluate(ctx, req.IsCompany, req.VatNumber, req.Billing.Country)
	shipCountry := ""
	if req.Shipping != nil {
		shipCountry = req.Shipping.Country
	}
	totals := pricing.Compute(pricing.Input{
		Items:           req.Items,
		Currency:        s.currency(req.Currency),
		BillingCountry:  req.Billing.Country,
		BillingState:    req.Billing.State,
		ShippingCountry: shipCountry,
		ShipToDifferent: req.ShipToDifferentAddress,
		IsReseller:      common.IsReseller(ctx),
		VatExempt:       ev.ExemptionApplied,
		Tables:          s.snapshot(),
	})
	result := "ok"
	if totals.ShippingUnresolved != nil {
		result = "unresolved_shipping"
		obs.IncCounter(obs.ShippingUnresolvedTotal, string(totals.ShippingUnresolved.Reason))
	}
	obs.IncCounter(obs.CheckoutQuotesTotal, result)
	return Quote{Totals: totals, Vat: ev}, nil
}

// Submit creates the order for a checkout. Submissions for the same cart are
// serialised; a concurrent one fails with CHECKOUT_IN_PROGRESS.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "Checkout.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("checkout.payment_method", req.PaymentMethod))

	if err := s.validateSubmit(req); err != nil {
		obs.IncCounter(obs.OrderSubmissionsTotal, "invalid")
		return SubmitResult{}, err
	}
	if s.Lock == nil {
		return s.submit(ctx, req)
	}
	var out SubmitResult
	err := s.Lock.TryWithLock(ctx, s.Lock.CheckoutKey(req.CartID), s.LockTTL, func(ctx context.Context) error {
		var err error
		out, err = s.submit(ctx, req)
		return err
	})
	if errors.Is(err, lock.ErrHeld) {
		obs.IncCounter(obs.OrderSubmissionsTotal, "in_progress")
		return SubmitResult{}, common.NewAppError(CodeInProgress, "This checkout is already being submitted.", http.StatusConflict, err)
	}
	return out, err
}

func (s *Service) validateSubmit(req SubmitRequest) error {
	if err := validate.Struct(req); err != nil {
		return validationError(err)
	}
	if strings.TrimSpace(req.Billing.Email) == "" {
		return common.ValidationError("billing email is required", map[string]string{"billing.email": "required"})
	}
	if err := cart.Validate(req.CartItems); err != nil {
		return common.ValidationError(err.Error(), nil)
	}
	if s.Payments != nil && !s.Payments.Supports(req.PaymentMethod) {
		return common.ValidationError("payment method is not available", map[string]string{"paymentMethod": "unsupported"})
	}
	if snap := s.snapshot(); snap != nil && len(snap.PaymentMethods) > 0 && !methodEnabled(snap, req.PaymentMethod) {
		return common.ValidationError("payment method is not available", map[string]string{"paymentMethod": "disabled"})
	}
	return nil
}

func methodEnabled(snap *tables.Snapshot, id string) bool {
	for _, pm := range snap.EnabledPaymentMethods() {
		if strings.EqualFold(pm.ID, strings.TrimSpace(id)) {
			return true
		}
	}
	return false
}

func (s *Service) submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	logger := s.logger(ctx).With().Str("cart_id", req.CartID).Logger()

	customerID, err := s.ensureAccount(ctx, req)
	if err != nil {
		logger.Error().Err(err).Msg("checkout account step failed")
		obs.IncCounter(obs.OrderSubmissionsTotal, "account_failed")
		return SubmitResult{}, common.NewAppError(CodeAccountCreation,
			"We could not create your account, so the order was not placed. Please try again.",
			http.StatusBadGateway, fmt.Errorf("%w: %w", ErrAccountCreation, err))
	}

	req.IsReseller = common.IsReseller(ctx)
	ev := s.VAT.Evaluate(ctx, req.IsCompany, req.VatNumber, req.Billing.Country)
	if req.VatExemptionApplied != ev.ExemptionApplied {
		logger.Warn().
			Bool("client_exemption", req.VatExemptionApplied).
			Bool("server_exemption", ev.ExemptionApplied).
			Str("vat_status", string(ev.Status)).
			Msg("vat exemption differs from client")
	}
	totals := pricing.Compute(pricing.Input{
		Items:           req.CartItems,
		Currency:        s.currency(req.Currency),
		BillingCountry:  req.Billing.Country,
		BillingState:    req.Billing.State,
		ShippingCountry: shippingCountry(req),
		ShipToDifferent: req.ShipToDifferentAddress,
		IsReseller:      req.IsReseller,
		VatExempt:       ev.ExemptionApplied,
		Tables:          s.snapshot(),
	})
	if !req.TotalPrice.IsZero() && !req.TotalPrice.Equal(totals.FinalTotal) {
		logger.Warn().
			Str("client_total", req.TotalPrice.String()).
			Str("server_total", totals.FinalTotal.String()).
			Str("client_shipping", req.ShippingCost.String()).
			Str("server_shipping", totals.ShippingCost.String()).
			Msg("checkout totals differ from client")
	}

	order, err := s.Orders.CreateOrder(ctx, BuildOrder(req, totals, ev, customerID))
	if err != nil {
		logger.Error().Err(err).Msg("order creation failed")
		obs.IncCounter(obs.OrderSubmissionsTotal, "order_failed")
		return SubmitResult{}, common.NewAppError(CodeOrderCreation,
			"We could not create your order. Please try again.",
			http.StatusBadGateway, fmt.Errorf("%w: %w", ErrOrderCreation, err))
	}
	logger = logger.With().Int64("order_id", order.ID).Logger()

	out := SubmitResult{
		Order: OrderSummary{
			ID:            order.ID,
			OrderNumber:   orderNumber(order),
			Total:         totals.FinalTotal,
			PaymentMethod: order.PaymentMethod,
		},
		Totals: totals,
		Vat:    ev,
	}
	if out.Order.PaymentMethod == "" {
		out.Order.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	}

	out.SubmissionID = s.record(ctx, logger, req, order, customerID, totals, ev)
	s.enqueueFollowups(ctx, logger, out.SubmissionID, order, req, totals, ev)

	session, err := s.Payments.CreateSession(ctx, out.Order.PaymentMethod, payment.SessionRequest{
		OrderID:     order.ID,
		OrderNumber: out.Order.OrderNumber,
		OrderKey:    order.OrderKey,
		Amount:      totals.FinalTotal,
		Currency:    totals.Currency,
		Email:       strings.ToLower(strings.TrimSpace(req.Billing.Email)),
		SuccessURL:  s.SuccessURL,
		CancelURL:   s.CancelURL,
	})
	if err != nil {
		logger.Error().Err(err).Msg("payment session failed; order left pending")
		s.markPayment(ctx, logger, out.SubmissionID, paymentSessionFailed, map[string]any{
			"method": out.Order.PaymentMethod,
			"error":  err.Error(),
		})
		obs.IncCounter(obs.OrderSubmissionsTotal, "payment_failed")
		return out, common.NewAppError(CodePaymentSession,
			"Your order was created but the payment could not be started. Please contact us to complete payment.",
			http.StatusBadGateway, fmt.Errorf("%w: %w", ErrPaymentSession, err))
	}
	out.Payment = &session
	status := paymentSessionOpened
	if session.URL == "" {
		status = paymentOffline
	}
	s.markPayment(ctx, logger, out.SubmissionID, status, nil)
	obs.IncCounter(obs.OrderSubmissionsTotal, "ok")
	logger.Info().Str("payment_provider", session.Provider).Str("total", totals.FinalTotal.String()).Msg("checkout submitted")
	return out, nil
}

// ensureAccount returns the customer id for the buyer, creating an account
// for emails the store does not know.
func (s *Service) ensureAccount(ctx context.Context, req SubmitRequest) (int64, error) {
	if raw, ok := common.UserID(ctx); ok {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
			return id, nil
		}
	}
	if s.Accounts == nil {
		return 0, errors.New("account directory not configured")
	}
	id, exists, err := s.Accounts.Lookup(ctx, req.Billing.Email)
	if err != nil {
		return 0, err
	}
	if exists {
		return id, nil
	}
	created, err := s.Accounts.Register(ctx, commerce.NewCustomer{
		Email:     req.Billing.Email,
		FirstName: strings.TrimSpace(req.Billing.FirstName),
		LastName:  strings.TrimSpace(req.Billing.LastName),
		Password:  req.Password,
		Billing:   toCommerceAddress(req.Billing),
		Shipping:  toCommerceAddress(shippingAddress(req)),
	})
	if err != nil {
		return 0, err
	}
	return created.ID, nil
}

func shippingAddress(req SubmitRequest) Address {
	if req.ShipToDifferentAddress && req.Shipping != nil {
		return *req.Shipping
	}
	return req.Billing
}

func (s *Service) record(ctx context.Context, logger zerolog.Logger, req SubmitRequest, order commerce.Order, customerID int64, totals pricing.Totals, ev vat.Evaluation) uuid.UUID {
	if s.Ledger == nil {
		return uuid.Nil
	}
	var items []ledger.Item
	if ev.Fallback() {
		items = append(items, ledger.Item{Kind: ledger.KindVatFallback, Detail: map[string]any{
			"country":   ev.Validated.CountryCode,
			"vatNumber": ev.Validated.VatNumber,
		}})
	}
	if u := totals.ShippingUnresolved; u != nil {
		items = append(items, ledger.Item{Kind: ledger.KindShippingUnresolved, Detail: map[string]any{
			"destination": shipping.Destination(req.Billing.Country, shippingCountry(req), req.ShipToDifferentAddress),
			"reason":      string(u.Reason),
			"message":     u.Message,
			"totalWeight": totals.TotalWeight.String(),
		}})
	}
	id, err := s.Ledger.Record(ctx, ledger.Submission{
		CartID:             req.CartID,
		OrderID:            order.ID,
		OrderNumber:        orderNumber(order),
		CustomerID:         customerID,
		Email:              strings.ToLower(strings.TrimSpace(req.Billing.Email)),
		Currency:           totals.Currency,
		FinalTotal:         totals.FinalTotal,
		PaymentMethod:      strings.ToLower(strings.TrimSpace(req.PaymentMethod)),
		PaymentStatus:      paymentPending,
		VatExemption:       ev.ExemptionApplied,
		VatFallback:        ev.Fallback(),
		ShippingUnresolved: totals.ShippingUnresolved != nil,
	}, items)
	if err != nil {
		logger.Error().Err(err).Msg("ledger record failed")
		return uuid.Nil
	}
	return id
}

func (s *Service) enqueueFollowups(ctx context.Context, logger zerolog.Logger, submissionID uuid.UUID, order commerce.Order, req SubmitRequest, totals pricing.Totals, ev vat.Evaluation) {
	if s.Followups == nil {
		return
	}
	if ev.Fallback() {
		if err := s.Followups.EnqueueVatRevalidate(ctx, queue.VatRevalidatePayload{
			SubmissionID: submissionID,
			OrderID:      order.ID,
			Country:      ev.Validated.CountryCode,
			VatNumber:    ev.Validated.VatNumber,
		}); err != nil {
			logger.Error().Err(err).Msg("enqueue vat revalidation failed")
		}
	}
	if u := totals.ShippingUnresolved; u != nil {
		if err := s.Followups.EnqueueShippingReconcile(ctx, queue.ShippingReconcilePayload{
			SubmissionID: submissionID,
			OrderID:      order.ID,
			Destination:  shipping.Destination(req.Billing.Country, shippingCountry(req), req.ShipToDifferentAddress),
			Reason:       string(u.Reason),
			Message:      u.Message,
			TotalWeight:  totals.TotalWeight.String(),
		}); err != nil {
			logger.Error().Err(err).Msg("enqueue shipping reconciliation failed")
		}
	}
}

func (s *Service) markPayment(ctx context.Context, logger zerolog.Logger, submissionID uuid.UUID, status string, failure map[string]any) {
	if s.Ledger == nil || submissionID == uuid.Nil {
		return
	}
	if err := s.Ledger.SetPaymentStatus(ctx, submissionID, status); err != nil {
		logger.Warn().Err(err).Str("status", status).Msg("ledger payment status update failed")
	}
	if failure == nil {
		return
	}
	if err := s.Ledger.AddItem(ctx, submissionID, ledger.KindPaymentSession, failure); err != nil {
		logger.Warn().Err(err).Msg("ledger payment follow-up failed")
	}
}

func (s *Service) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.Logger
}

func shippingCountry(req SubmitRequest) string {
	if req.Shipping == nil {
		return ""
	}
	return req.Shipping.Country
}

func orderNumber(o commerce.Order) string {
	if o.Number != "" {
		return o.Number
	}
	return strconv.FormatInt(o.ID, 10)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return common.ValidationError("invalid request", nil)
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		details[field] = fe.Tag()
	}
	return common.ValidationError("invalid request", details)
}
