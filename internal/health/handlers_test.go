package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bbtraining/checkout-api/internal/health"
)

func okCheck(context.Context) error { return nil }

func ready(t *testing.T, h health.Handler) (int, health.Report) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var rep health.Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rep))
	return rr.Code, rep
}

func TestLive(t *testing.T) {
	rr := httptest.NewRecorder()
	health.Handler{}.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestReadyAllChecksPass(t *testing.T) {
	code, rep := ready(t, health.Handler{Checks: map[string]health.CheckFunc{"db": okCheck, "redis": okCheck, "tables": okCheck}})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ready", rep.Status)
	require.Len(t, rep.Checks, 3)
	for name, c := range rep.Checks {
		require.Equal(t, "ok", c.Status, name)
	}
}

func TestReadyReportsFailingCheck(t *testing.T) {
	code, rep := ready(t, health.Handler{
		Checks: map[string]health.CheckFunc{
			"db":     func(context.Context) error { return errors.New("db down") },
			"tables": okCheck,
		},
	})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "degraded", rep.Status)
	require.Equal(t, "db down", rep.Checks["db"].Error)
	require.Equal(t, "ok", rep.Checks["tables"].Status)
}

func TestReadyBoundsSlowChecks(t *testing.T) {
	slow := func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	}
	started := time.Now()
	code, rep := ready(t, health.Handler{Timeout: 20 * time.Millisecond, Checks: map[string]health.CheckFunc{"redis": slow, "db": slow}})
	require.Less(t, time.Since(started), 500*time.Millisecond)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "down", rep.Checks["redis"].Status)
}

func TestReadyWhileDraining(t *testing.T) {
	h := health.Handler{Checks: map[string]health.CheckFunc{"db": okCheck}}
	t.Cleanup(func() { health.SetReady(true) })

	health.SetReady(false)
	code, rep := ready(t, h)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "shutting_down", rep.Status)

	health.SetReady(true)
	code, _ = ready(t, h)
	require.Equal(t, http.StatusOK, code)
}
