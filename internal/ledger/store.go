// Package ledger records checkout submissions and the follow-ups they need
// in Postgres. WooCommerce stays the system of record for orders.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when no row matches.
var ErrNotFound = errors.New("ledger: not found")

// Reconciliation kinds.
const (
	KindVatFallback        = "vat_fallback"
	KindShippingUnresolved = "shipping_unresolved"
	KindPaymentSession     = "payment_session_failed"
)

// Item statuses.
const (
	StatusOpen     = "open"
	StatusResolved = "resolved"
)

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Submission is one accepted checkout.
type Submission struct {
	ID                 uuid.UUID
	CartID             string
	OrderID            int64
	OrderNumber        string
	CustomerID         int64
	Email              string
	Currency           string
	FinalTotal         decimal.Decimal
	PaymentMethod      string
	PaymentStatus      string
	VatExemption       bool
	VatFallback        bool
	ShippingUnresolved bool
	CreatedAt          time.Time
}

// Item is a follow-up attached to a submission.
type Item struct {
	ID           uuid.UUID
	SubmissionID uuid.UUID
	OrderID      int64
	Kind         string
	Detail       map[string]any
	Status       string
	Note         string
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

// Store persists the ledger.
type Store struct {
	DB  DB
	now func() time.Time
}

// NewStore wraps db.
func NewStore(db DB) *Store {
	return &Store{DB: db, now: time.Now}
}

// Record stores a submission with its follow-up items in one transaction.
func (s *Store) Record(ctx context.Context, sub Submission, items []Item) (uuid.UUID, error) {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.PaymentStatus == "" {
		sub.PaymentStatus = "pending"
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO checkout_submissions
  (id, cart_id, order_id, order_number, customer_id, email, currency, final_total,
   payment_method, payment_status, vat_exemption, vat_fallback, shipping_unresolved)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8::numeric,$9,$10,$11,$12,$13)`,
		sub.ID, sub.CartID, sub.OrderID, sub.OrderNumber, sub.CustomerID, sub.Email, sub.Currency,
		sub.FinalTotal.StringFixed(2), sub.PaymentMethod, sub.PaymentStatus,
		sub.VatExemption, sub.VatFallback, sub.ShippingUnresolved)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert submission: %w", err)
	}
	for _, it := range items {
		detail, err := json.Marshal(it.Detail)
		if err != nil {
			return uuid.Nil, fmt.Errorf("encode %s detail: %w", it.Kind, err)
		}
		if it.ID == uuid.Nil {
			it.ID = uuid.New()
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO reconciliation_items (id, submission_id, kind, detail)
VALUES ($1,$2,$3,$4::jsonb)
ON CONFLICT (submission_id, kind) DO NOTHING`, it.ID, sub.ID, it.Kind, string(detail)); err != nil {
			return uuid.Nil, fmt.Errorf("insert %s item: %w", it.Kind, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	return sub.ID, nil
}

// AddItem opens a follow-up on an existing submission.
func (s *Store) AddItem(ctx context.Context, submissionID uuid.UUID, kind string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO reconciliation_items (id, submission_id, kind, detail)
VALUES ($1,$2,$3,$4::jsonb)
ON CONFLICT (submission_id, kind) DO NOTHING`, uuid.New(), submissionID, kind, string(raw))
	return err
}

// SetPaymentStatus updates the payment status of a submission.
func (s *Store) SetPaymentStatus(ctx context.Context, submissionID uuid.UUID, status string) error {
	tag, err := s.DB.Exec(ctx, `
UPDATE checkout_submissions SET payment_status = $2, updated_at = $3 WHERE id = $1`,
		submissionID, status, s.now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Resolve closes the open item of kind on a submission.
func (s *Store) Resolve(ctx context.Context, submissionID uuid.UUID, kind, note string) error {
	tag, err := s.DB.Exec(ctx, `
UPDATE reconciliation_items SET status = $3, note = $4, resolved_at = $5
WHERE submission_id = $1 AND kind = $2 AND status = 'open'`,
		submissionID, kind, StatusResolved, note, s.now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Open lists unresolved items of kind, oldest first. An empty kind lists all.
func (s *Store) Open(ctx context.Context, kind string, limit int) ([]Item, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.DB.Query(ctx, `
SELECT i.id, i.submission_id, s.order_id, i.kind, i.detail, i.status, i.note, i.created_at, i.resolved_at
FROM reconciliation_items i
JOIN checkout_submissions s ON s.id = i.submission_id
WHERE i.status = 'open' AND ($1::text = '' OR i.kind = $1)
ORDER BY i.created_at
LIMIT $2`, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var (
			it     Item
			detail []byte
		)
		if err := rows.Scan(&it.ID, &it.SubmissionID, &it.OrderID, &it.Kind, &detail, &it.Status, &it.Note, &it.CreatedAt, &it.ResolvedAt); err != nil {
			return nil, err
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &it.Detail); err != nil {
				return nil, fmt.Errorf("decode item %s: %w", it.ID, err)
			}
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Submission loads a submission by id.
func (s *Store) Submission(ctx context.Context, id uuid.UUID) (Submission, error) {
	var (
		sub   Submission
		total string
	)
	err := s.DB.QueryRow(ctx, `
SELECT id, cart_id, order_id, order_number, customer_id, email, currency, final_total::text,
       payment_method, payment_status, vat_exemption, vat_fallback, shipping_unresolved, created_at
FROM checkout_submissions WHERE id = $1`, id).Scan(
		&sub.ID, &sub.CartID, &sub.OrderID, &sub.OrderNumber, &sub.CustomerID, &sub.Email, &sub.Currency, &total,
		&sub.PaymentMethod, &sub.PaymentStatus, &sub.VatExemption, &sub.VatFallback, &sub.ShippingUnresolved, &sub.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Submission{}, ErrNotFound
	}
	if err != nil {
		return Submission{}, err
	}
	sub.FinalTotal, err = decimal.NewFromString(total)
	return sub, err
}
