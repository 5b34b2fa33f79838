package obs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutQuotesTotal counts totals computations by outcome.
	CheckoutQuotesTotal *prometheus.CounterVec
	// VatValidationsTotal counts VAT number validations by source and outcome.
	VatValidationsTotal *prometheus.CounterVec
	// ShippingUnresolvedTotal counts fail-open shipping resolutions by reason.
	ShippingUnresolvedTotal *prometheus.CounterVec
	// OrderSubmissionsTotal counts checkout submissions by outcome.
	OrderSubmissionsTotal *prometheus.CounterVec
	// PaymentSessionTotal counts payment session creation attempts.
	PaymentSessionTotal *prometheus.CounterVec
	// TablesRefreshLatency records lookup table refresh latency in milliseconds.
	TablesRefreshLatency *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutQuotesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_quotes_total",
			Help:      "Count of order totals computations by outcome.",
		}, []string{"result"})
		VatValidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vat_validations_total",
			Help:      "Count of VAT number validations by source and outcome.",
		}, []string{"source", "result"})
		ShippingUnresolvedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shipping_unresolved_total",
			Help:      "Count of shipping quotes that defaulted to zero cost.",
		}, []string{"reason"})
		OrderSubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_submissions_total",
			Help:      "Count of checkout submissions by outcome.",
		}, []string{"result"})
		PaymentSessionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_session_total",
			Help:      "Count of payment session creation attempts.",
		}, []string{"provider", "result"})
		TablesRefreshLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tables_refresh_duration_ms",
			Help:      "Latency for lookup table refreshes in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"source", "result"})

		CheckoutQuotesTotal = register(reg, CheckoutQuotesTotal)
		VatValidationsTotal = register(reg, VatValidationsTotal)
		ShippingUnresolvedTotal = register(reg, ShippingUnresolvedTotal)
		OrderSubmissionsTotal = register(reg, OrderSubmissionsTotal)
		PaymentSessionTotal = register(reg, PaymentSessionTotal)
		TablesRefreshLatency = register(reg, TablesRefreshLatency)
	})
}

// IncCounter increments a labelled counter when it has been registered.
func IncCounter(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}

// register adds c to reg, returning the collector already registered under
// the same descriptor when there is one.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
		return c
	}
	panic(fmt.Errorf("register metric: %w", err))
}
