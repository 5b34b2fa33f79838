package security_test

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bbtraining/checkout-api/internal/security"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

func TestHeaders(t *testing.T) {
	h := security.Headers{Enable: true, EnableHSTS: true, HSTSIncludeSubdomains: true}.Middleware(ok)

	req := httptest.NewRequest(http.MethodGet, "https://checkout.example/api/checkout", nil)
	req.TLS = &tls.ConnectionState{}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	require.Equal(t, "max-age=31536000; includeSubDomains", rr.Header().Get("Strict-Transport-Security"))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://checkout.example/api/checkout", nil))
	require.Empty(t, rr.Header().Get("Strict-Transport-Security"), "HSTS only over TLS")
}

func TestHeadersDisabled(t *testing.T) {
	rr := httptest.NewRecorder()
	security.Headers{EnableHSTS: true}.Middleware(ok).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Empty(t, rr.Header().Get("X-Content-Type-Options"))
}

func TestBodyLimit(t *testing.T) {
	var seen string
	h := security.BodyLimit{Max: 10}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		seen = string(b)
	}))

	cases := []struct {
		name          string
		body          string
		contentLength int64
		status        int
	}{
		{"within limit", "hello", -1, http.StatusOK},
		{"exactly at limit", "0123456789", -1, http.StatusOK},
		{"streamed oversize", "0123456789x", -1, http.StatusRequestEntityTooLarge},
		{"declared oversize", "tiny", 100, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(tc.body))
			req.ContentLength = tc.contentLength
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			require.Equal(t, tc.status, rr.Code)
			if tc.status == http.StatusOK {
				require.Equal(t, tc.body, seen)
			} else {
				require.Contains(t, rr.Body.String(), `"PAYLOAD_TOO_LARGE"`)
			}
		})
	}
}
