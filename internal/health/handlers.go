package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bbtraining/checkout-api/internal/common"
)

var draining atomic.Bool

// SetReady flips readiness. The API turns it off as soon as shutdown starts
// so the load balancer stops routing before in-flight checkouts finish.
func SetReady(v bool) {
	draining.Store(!v)
}

// CheckFunc checks one dependency.
type CheckFunc func(ctx context.Context) error

// Check is the per-dependency entry of a readiness report.
type Check struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Report is the readiness body.
type Report struct {
	Status string           `json:"status"`
	Checks map[string]Check `json:"checks,omitempty"`
}

// Handler serves /health/live and /health/ready.
type Handler struct {
	// Checks maps a dependency name (db, redis, tables) to its check.
	Checks  map[string]CheckFunc
	Timeout time.Duration
}

// Live answers 200 while the process runs.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready runs every check concurrently, each under Timeout, and answers 503
// when any of them fails or the process is draining.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if draining.Load() {
		common.JSON(w, http.StatusServiceUnavailable, Report{Status: "shutting_down"})
		return
	}

	var (
		mu     sync.Mutex
		checks = make(map[string]Check, len(h.Checks))
		g      errgroup.Group
	)
	for name, check := range h.Checks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
			defer cancel()
			started := time.Now()
			err := check(ctx)
			c := Check{Status: "ok", LatencyMs: time.Since(started).Milliseconds()}
			if err != nil {
				c.Status, c.Error = "down", err.Error()
			}
			mu.Lock()
			checks[name] = c
			mu.Unlock()
			return err
		})
	}

	rep := Report{Status: "ready", Checks: checks}
	code := http.StatusOK
	if err := g.Wait(); err != nil {
		rep.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, rep)
}

func (h Handler) timeout() time.Duration {
	if h.Timeout > 0 {
		return h.Timeout
	}
	return 500 * time.Millisecond
}
