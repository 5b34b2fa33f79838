package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bbtraining/checkout-api/internal/obs"
)

// offlineMethods complete without a payment session.
var offlineMethods = map[string]struct{}{
	"bacs":   {},
	"cheque": {},
	"cod":    {},
}

// Manager routes session creation to the provider for a payment method.
type Manager struct {
	providers map[string]Provider
}

// NewManager registers providers under their names.
func NewManager(providers ...Provider) *Manager {
	m := &Manager{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		m.providers[strings.ToLower(p.Name())] = p
	}
	return m
}

// Supports reports whether method can be paid through this manager.
func (m *Manager) Supports(method string) bool {
	method = strings.ToLower(strings.TrimSpace(method))
	if _, ok := offlineMethods[method]; ok {
		return true
	}
	_, ok := m.providers[method]
	return ok
}

// CreateSession opens a session for method. Offline methods return a session
// without URL. Failures are not retried here: the order stays pending.
func (m *Manager) CreateSession(ctx context.Context, method string, req SessionRequest) (Session, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	if _, ok := offlineMethods[method]; ok {
		return Session{Provider: method}, nil
	}
	provider, ok := m.providers[method]
	if !ok {
		return Session{}, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}

	ctx, span := otel.Tracer("payment.Manager").Start(ctx, "PaymentManager.CreateSession")
	defer span.End()
	start := time.Now()
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("payment.provider", method),
			attribute.Int64("payment.order_id", req.OrderID),
			attribute.Float64("payment.session.duration_ms", obs.DurationMillis(time.Since(start))),
			attribute.String("payment.session.result", result),
		)
		obs.IncCounter(obs.PaymentSessionTotal, method, result)
	}()

	session, err := provider.CreateSession(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Session{}, err
	}
	result = "ok"
	return session, nil
}
