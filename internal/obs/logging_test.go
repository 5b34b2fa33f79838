package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRequestLoggerAttachesContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "info")

	var sawCtxLogger bool
	r := chi.NewRouter()
	r.Use(RequestLogger{Logger: logger}.Middleware)
	r.Post("/api/checkout/quote", func(w http.ResponseWriter, r *http.Request) {
		ctxLogger := zerolog.Ctx(r.Context())
		sawCtxLogger = ctxLogger != nil && ctxLogger.GetLevel() != zerolog.Disabled
		w.WriteHeader(http.StatusAccepted)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/checkout/quote", nil))

	require.True(t, sawCtxLogger)
	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "http_request", line["message"])
	require.Equal(t, "/api/checkout/quote", line["route"])
	require.EqualValues(t, http.StatusAccepted, line["status"])
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	_ = newLogger(&buf, "json", "not-a-level")
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
