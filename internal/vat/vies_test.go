package vat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/bbtraining/checkout-api/internal/resilience"
	"github.com/bbtraining/checkout-api/internal/vat"
)

func viesServer(t *testing.T, status int, body map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/check-vat-number", r.URL.Path)
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.NotEmpty(t, in["countryCode"])
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newVies(srv *httptest.Server) *vat.ViesClient {
	return vat.NewViesClient(srv.URL, &resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1, Target: "vies"}, nil)
}

func TestViesCheckValid(t *testing.T) {
	srv := viesServer(t, http.StatusOK, map[string]any{
		"countryCode": "DE", "vatNumber": "123456789", "valid": true,
		"name": "Beispiel GmbH", "address": "---",
	})
	res, err := newVies(srv).Check(context.Background(), "DE", "123456789")
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, "Beispiel GmbH", res.Name)
	require.Empty(t, res.Address)
}

func TestViesCheckMemberStateUnavailable(t *testing.T) {
	srv := viesServer(t, http.StatusOK, map[string]any{"valid": false, "userError": "MS_UNAVAILABLE"})
	_, err := newVies(srv).Check(context.Background(), "FR", "AB123456789")
	require.ErrorIs(t, err, vat.ErrAuthorityUnavailable)
}

func TestViesCheckServerErrorIsUnavailable(t *testing.T) {
	srv := viesServer(t, http.StatusServiceUnavailable, map[string]any{})
	_, err := newVies(srv).Check(context.Background(), "DE", "123456789")
	require.ErrorIs(t, err, vat.ErrAuthorityUnavailable)
}

func TestViesCheckInvalidInputIsInvalid(t *testing.T) {
	srv := viesServer(t, http.StatusBadRequest, map[string]any{
		"actionSucceed": false,
		"errorWrappers": []map[string]string{{"error": "INVALID_INPUT"}},
	})
	res, err := newVies(srv).Check(context.Background(), "DE", "123456789")
	require.NoError(t, err)
	require.False(t, res.Valid)
}

func TestViesCheckThrottledFailsFastAsUnavailable(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{"countryCode": "FR", "vatNumber": "40303265045", "valid": true})
	}))
	t.Cleanup(srv.Close)

	client := vat.NewViesClient(srv.URL, &resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1}, rate.NewLimiter(rate.Every(time.Hour), 1))
	client.MaxWait = 50 * time.Millisecond

	_, err := client.Check(context.Background(), "FR", "40303265045")
	require.NoError(t, err)

	started := time.Now()
	_, err = client.Check(context.Background(), "FR", "40303265045")
	require.ErrorIs(t, err, vat.ErrAuthorityUnavailable)
	require.Less(t, time.Since(started), time.Second)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}
