package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/bbtraining/checkout-api/internal/ledger"
	"github.com/bbtraining/checkout-api/internal/vat"
)

// OrderNotes annotates store orders.
type OrderNotes interface {
	AddOrderNote(ctx context.Context, orderID int64, note string, customerNote bool) error
}

// Resolver closes ledger follow-ups.
type Resolver interface {
	Resolve(ctx context.Context, submissionID uuid.UUID, kind, note string) error
}

// Handlers process checkout follow-ups in the worker.
type Handlers struct {
	Authority vat.Authority
	Orders    OrderNotes
	Ledger    Resolver
	Logger    zerolog.Logger
}

// Register mounts the handlers on mux.
func (h Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeVatRevalidate, h.HandleVatRevalidate)
	mux.HandleFunc(TypeShippingReconcile, h.HandleShippingReconcile)
}

// HandleVatRevalidate re-checks a fallback-validated number. An unavailable
// authority is retried; a definite answer is written to the order and the
// ledger item is closed only when the number is confirmed.
func (h Handlers) HandleVatRevalidate(ctx context.Context, t *asynq.Task) (err error) {
	defer func() { h.observe(t.Type(), err) }()
	var p VatRevalidatePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if h.Authority == nil || h.Orders == nil {
		return errors.New("queue: vat revalidation not configured")
	}
	country, number := vat.Normalise(p.Country, p.VatNumber)
	logger := h.Logger.With().Int64("order_id", p.OrderID).Str("country", country).Logger()

	res, err := h.Authority.Check(ctx, country, number)
	if err != nil {
		logger.Warn().Err(err).Msg("vat revalidation deferred")
		return err
	}
	if !res.Valid {
		note := fmt.Sprintf("VAT number %s%s was rejected by VIES after checkout. The reverse charge on this order needs review.", country, number)
		if err := h.Orders.AddOrderNote(ctx, p.OrderID, note, false); err != nil {
			return err
		}
		logger.Warn().Msg("vat number rejected on revalidation")
		return nil
	}

	note := fmt.Sprintf("VAT number %s%s confirmed by VIES", country, number)
	if res.Name != "" {
		note += " for " + res.Name
	}
	if err := h.Orders.AddOrderNote(ctx, p.OrderID, note+".", false); err != nil {
		return err
	}
	if h.Ledger != nil {
		if err := h.Ledger.Resolve(ctx, p.SubmissionID, ledger.KindVatFallback, note); err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return err
		}
	}
	logger.Info().Msg("vat number confirmed")
	return nil
}

// HandleShippingReconcile adds a private note asking staff to charge shipping.
func (h Handlers) HandleShippingReconcile(ctx context.Context, t *asynq.Task) (err error) {
	defer func() { h.observe(t.Type(), err) }()
	var p ShippingReconcilePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if h.Orders == nil {
		return errors.New("queue: order notes not configured")
	}
	note := fmt.Sprintf("Shipping was not priced at checkout (%s: %s). Destination %s, total weight %s kg. Please charge shipping manually.",
		p.Reason, p.Message, p.Destination, p.TotalWeight)
	if err := h.Orders.AddOrderNote(ctx, p.OrderID, note, false); err != nil {
		return err
	}
	h.Logger.Info().Int64("order_id", p.OrderID).Str("reason", p.Reason).Msg("unresolved shipping annotated")
	return nil
}

func (h Handlers) observe(taskType string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	QueueProcessedTotal.WithLabelValues(taskType, status).Inc()
}
