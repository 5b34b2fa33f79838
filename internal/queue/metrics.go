package queue

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	QueueEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_enqueued_total",
			Help: "Tasks enqueued grouped by type and result",
		},
		[]string{"type", "result"},
	)
	QueueProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_processed_total",
			Help: "Total tasks processed grouped by status",
		},
		[]string{"type", "status"},
	)
	QueueArchivedSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_archived_size",
			Help: "Number of archived (dead) tasks per queue",
		},
		[]string{"queue"},
	)
)

// RegisterMetrics registers the queue collectors, tolerating repeat registration.
func RegisterMetrics(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{QueueEnqueuedTotal, QueueProcessedTotal, QueueArchivedSize} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
