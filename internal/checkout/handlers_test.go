package checkout_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/bbtraining/checkout-api/internal/account"
	"github.com/bbtraining/checkout-api/internal/checkout"
	"github.com/bbtraining/checkout-api/internal/vat"
)

type fakeEmails struct {
	exists bool
	err    error
}

func (f fakeEmails) Exists(context.Context, string) (bool, error) { return f.exists, f.err }

func newRouter(h *checkout.Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/checkout", h.Config)
	r.Post("/api/checkout", h.Submit)
	r.Post("/api/checkout/quote", h.Quote)
	r.Post("/api/auth/check-email", h.CheckEmail)
	r.Post("/api/vat/validate", h.ValidateVat)
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, &buf))
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return rr, out
}

func TestSubmitHandlerSuccessShape(t *testing.T) {
	f := newFixture(t)
	h := newRouter(&checkout.Handler{Svc: f.svc})

	rr, body := do(t, h, http.MethodPost, "/api/checkout", germanRequest())
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, true, body["success"])
	order := body["order"].(map[string]any)
	require.EqualValues(t, 501, order["id"])
	require.Equal(t, "501", order["orderNumber"])
	require.Equal(t, "stripe", order["paymentMethod"])
	pay := body["payment"].(map[string]any)
	require.Equal(t, "https://pay.example/session/1", pay["url"])
}

func TestSubmitHandlerFailureShape(t *testing.T) {
	f := newFixture(t)
	f.orders.fail = true
	h := newRouter(&checkout.Handler{Svc: f.svc})

	rr, body := do(t, h, http.MethodPost, "/api/checkout", germanRequest())
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Equal(t, false, body["success"])
	require.Nil(t, body["order"])
	errBody := body["error"].(map[string]any)
	require.Equal(t, checkout.CodeOrderCreation, errBody["code"])
}

func TestSubmitHandlerPaymentFailureKeepsOrder(t *testing.T) {
	f := newFixture(t)
	f.payments.fail = true
	h := newRouter(&checkout.Handler{Svc: f.svc})

	rr, body := do(t, h, http.MethodPost, "/api/checkout", germanRequest())
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Equal(t, false, body["success"])
	require.NotNil(t, body["order"])
	require.Equal(t, checkout.CodePaymentSession, body["error"].(map[string]any)["code"])
}

func TestSubmitHandlerRejectsMalformedJSON(t *testing.T) {
	f := newFixture(t)
	h := newRouter(&checkout.Handler{Svc: f.svc})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/checkout", bytes.NewBufferString("{")))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), `"success":false`)
}

func TestQuoteHandler(t *testing.T) {
	f := newFixture(t)
	h := newRouter(&checkout.Handler{Svc: f.svc})

	rr, body := do(t, h, http.MethodPost, "/api/checkout/quote", map[string]any{
		"items":   []any{map[string]any{"id": "42", "productId": 42, "quantity": 1, "price": "100", "weight": "2"}},
		"billing": map[string]any{"country": "DE"},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "105.9", body["finalTotal"])
	require.Equal(t, "idle", body["vat"].(map[string]any)["status"])
}

func TestConfigHandler(t *testing.T) {
	f := newFixture(t)
	h := newRouter(&checkout.Handler{Svc: f.svc})
	rr, body := do(t, h, http.MethodGet, "/api/checkout", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, body["paymentMethods"], 2)
	require.Equal(t, true, body["needsShipping"])
}

func TestCheckEmailHandler(t *testing.T) {
	h := newRouter(&checkout.Handler{Emails: fakeEmails{exists: true}})
	rr, body := do(t, h, http.MethodPost, "/api/auth/check-email", map[string]string{"email": "ana@example.com"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, true, body["exists"])

	h = newRouter(&checkout.Handler{Emails: fakeEmails{err: account.ErrInvalidEmail}})
	rr, _ = do(t, h, http.MethodPost, "/api/auth/check-email", map[string]string{"email": "nope"})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	h = newRouter(&checkout.Handler{Emails: fakeEmails{err: errors.New("store down")}})
	rr, _ = do(t, h, http.MethodPost, "/api/auth/check-email", map[string]string{"email": "ana@example.com"})
	require.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestValidateVatHandler(t *testing.T) {
	v := &fakeValidator{res: vat.Result{Valid: true, FallbackValidation: true}}
	h := newRouter(&checkout.Handler{VAT: v})

	rr, body := do(t, h, http.MethodPost, "/api/vat/validate", map[string]string{"vatNumber": "FR40303265045", "countryCode": "FR"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, true, body["valid"])
	require.Equal(t, true, body["fallbackValidation"])

	rr, _ = do(t, h, http.MethodPost, "/api/vat/validate", map[string]string{"countryCode": "FR"})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, 1, v.calls)
}
