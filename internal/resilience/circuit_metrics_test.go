package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/bbtraining/checkout-api/internal/resilience"
)

func TestBreakerPublishesStateAndTransitions(t *testing.T) {
	resilience.BreakerState.Reset()
	resilience.BreakerTransitions.Reset()
	resilience.BreakerOpenedTotal.Reset()

	b := resilience.NewBreaker(1, 0.5, 20*time.Millisecond).WithTarget("vies")
	ctx := context.Background()
	state := func() float64 { return testutil.ToFloat64(resilience.BreakerState.WithLabelValues("vies")) }

	require.Equal(t, 0.0, state())
	b.Report(ctx, false)
	require.Equal(t, 1.0, state())

	require.Eventually(t, func() bool { return b.Allow(ctx) }, time.Second, 5*time.Millisecond)
	require.Equal(t, 2.0, state())
	b.Report(ctx, true)
	require.Equal(t, 0.0, state())

	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues("vies")))
	for _, tr := range [][2]string{{"closed", "open"}, {"open", "half_open"}, {"half_open", "closed"}} {
		require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("vies", tr[0], tr[1])), tr)
	}
}

func TestRegisterMetricsTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, resilience.RegisterMetrics(reg))
	require.NoError(t, resilience.RegisterMetrics(reg))
}
