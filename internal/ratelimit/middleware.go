package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/bbtraining/checkout-api/internal/common"
	"github.com/bbtraining/checkout-api/internal/obs"
)

// Config selects the bucket key and the budget per window.
type Config struct {
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// Handler guards a route with a Limiter. Limiter failures fail open and are
// reported through OnError.
type Handler struct {
	Limiter Limiter
	Config  Config
	OnError func(error)
}

// Middleware implements the chi middleware signature.
func (h Handler) Middleware(next http.Handler) http.Handler {
	if h.Limiter == nil || h.Config.Key == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, remaining, reset, err := h.Limiter.Allow(r.Context(), h.Config.Key(r), h.Config.Window, h.Config.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		hdr := w.Header()
		hdr.Set("X-RateLimit-Limit", strconv.Itoa(max(h.Config.Max, 0)))
		hdr.Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
		hdr.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		if allowed {
			next.ServeHTTP(w, r)
			return
		}
		wait := math.Ceil(time.Until(reset).Seconds())
		hdr.Set("Retry-After", strconv.Itoa(int(max(wait, 0))))
		common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, slow down", nil)
	})
}

// ByClientRoute buckets on client address and matched route, so the email
// lookup and VAT validation are limited independently.
func ByClientRoute(r *http.Request) string {
	return common.ClientIP(r) + "|" + obs.Route(r)
}
