// Package queue defines the background reconciliation tasks that follow a
// checkout, their producer and their worker handlers, on top of asynq.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Task types.
const (
	TypeVatRevalidate     = "vat:revalidate"
	TypeShippingReconcile = "shipping:reconcile"
)

// DefaultQueue is the asynq queue all checkout follow-ups use.
const DefaultQueue = "checkout"

// VatRevalidatePayload re-checks a number accepted on format alone.
type VatRevalidatePayload struct {
	SubmissionID uuid.UUID `json:"submissionId"`
	OrderID      int64     `json:"orderId"`
	Country      string    `json:"country"`
	VatNumber    string    `json:"vatNumber"`
}

// ShippingReconcilePayload flags an order shipped at zero cost.
type ShippingReconcilePayload struct {
	SubmissionID uuid.UUID `json:"submissionId"`
	OrderID      int64     `json:"orderId"`
	Destination  string    `json:"destination"`
	Reason       string    `json:"reason"`
	Message      string    `json:"message"`
	TotalWeight  string    `json:"totalWeight"`
}

// NewVatRevalidateTask builds the task; its id dedups per order.
func NewVatRevalidateTask(p VatRevalidatePayload) (*asynq.Task, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeVatRevalidate, raw, asynq.TaskID(fmt.Sprintf("%s:%d", TypeVatRevalidate, p.OrderID))), nil
}

// NewShippingReconcileTask builds the task; its id dedups per order.
func NewShippingReconcileTask(p ShippingReconcilePayload) (*asynq.Task, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeShippingReconcile, raw, asynq.TaskID(fmt.Sprintf("%s:%d", TypeShippingReconcile, p.OrderID))), nil
}
