package queue

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

// TaskEnqueuer is satisfied by *asynq.Client.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Producer enqueues checkout follow-ups.
type Producer struct {
	Client   TaskEnqueuer
	Queue    string
	Delay    time.Duration
	MaxRetry int
}

// EnqueueVatRevalidate schedules a VIES re-check.
func (p Producer) EnqueueVatRevalidate(ctx context.Context, payload VatRevalidatePayload) error {
	task, err := NewVatRevalidateTask(payload)
	if err != nil {
		return err
	}
	return p.enqueue(ctx, task)
}

// EnqueueShippingReconcile schedules the order annotation.
func (p Producer) EnqueueShippingReconcile(ctx context.Context, payload ShippingReconcilePayload) error {
	task, err := NewShippingReconcileTask(payload)
	if err != nil {
		return err
	}
	return p.enqueue(ctx, task)
}

// enqueue treats a duplicate task id as success: the follow-up already exists.
func (p Producer) enqueue(ctx context.Context, task *asynq.Task) error {
	if p.Client == nil {
		return errors.New("queue: client not configured")
	}
	queueName := p.Queue
	if queueName == "" {
		queueName = DefaultQueue
	}
	maxRetry := p.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 10
	}
	opts := []asynq.Option{asynq.Queue(queueName), asynq.MaxRetry(maxRetry), asynq.Retention(7 * 24 * time.Hour)}
	if p.Delay > 0 {
		opts = append(opts, asynq.ProcessIn(p.Delay))
	}
	_, err := p.Client.EnqueueContext(ctx, task, opts...)
	switch {
	case err == nil:
		QueueEnqueuedTotal.WithLabelValues(task.Type(), "ok").Inc()
		return nil
	case errors.Is(err, asynq.ErrTaskIDConflict), errors.Is(err, asynq.ErrDuplicateTask):
		QueueEnqueuedTotal.WithLabelValues(task.Type(), "duplicate").Inc()
		return nil
	default:
		QueueEnqueuedTotal.WithLabelValues(task.Type(), "error").Inc()
		return err
	}
}
