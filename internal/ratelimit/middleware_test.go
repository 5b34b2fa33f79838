package ratelimit

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRejectsOverBudget(t *testing.T) {
	client, _ := newRedis(t)
	limited := Handler{
		Limiter: Sliding{Client: client, Prefix: "ratelimit:"},
		Config:  Config{Key: ByClientRoute, Window: time.Minute, Max: 1},
	}.Middleware

	r := chi.NewRouter()
	r.With(limited).Post("/api/auth/check-email", func(w http.ResponseWriter, _ *http.Request) {})
	r.With(limited).Post("/api/vat/validate", func(w http.ResponseWriter, _ *http.Request) {})

	send := func(path, ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = ip + ":40000"
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	require.Equal(t, http.StatusOK, send("/api/auth/check-email", "10.0.0.1").Code)
	rr := send("/api/auth/check-email", "10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "1", rr.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, rr.Header().Get("Retry-After"))
	require.Contains(t, rr.Body.String(), "RATE_LIMITED")

	require.Equal(t, http.StatusOK, send("/api/vat/validate", "10.0.0.1").Code, "routes have separate budgets")
	require.Equal(t, http.StatusOK, send("/api/auth/check-email", "10.0.0.2").Code, "clients have separate budgets")
}

func TestMiddlewareFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0", MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	var reported error
	h := Handler{
		Limiter: Sliding{Client: client},
		Config:  Config{Key: func(*http.Request) string { return "k" }, Window: time.Second, Max: 1},
		OnError: func(err error) { reported = err },
	}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/vat/validate", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Error(t, reported)
	require.False(t, errors.Is(reported, redis.Nil))
}
