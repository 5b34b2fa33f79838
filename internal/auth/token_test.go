package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/bbtraining/checkout-api/internal/common"
)

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{
		Secret:   "super-secret-key",
		Issuer:   "storefront",
		Audience: "checkout",
		TTL:      time.Minute,
	})
	require.NoError(t, err)
	fixed := time.Now()
	v.WithNow(func() time.Time { return fixed })
	return v
}

func TestVerifierRoundTripCarriesRoles(t *testing.T) {
	v := newTestVerifier(t)
	token, err := v.Issue(Identity{CustomerID: "42", Email: "a@b.de", Roles: []string{"customer", "reseller"}})
	require.NoError(t, err)

	id, err := v.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "42", id.CustomerID)
	require.Equal(t, "a@b.de", id.Email)
	require.Equal(t, []string{"customer", "reseller"}, id.Roles)
}

func TestVerifierRejectsAlgorithmMismatch(t *testing.T) {
	v := newTestVerifier(t)
	now := v.now()
	built, err := jwt.NewBuilder().
		Subject("42").
		Issuer("storefront").
		Audience([]string{"checkout"}).
		IssuedAt(now).
		Expiration(now.Add(time.Minute)).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(built, jwt.WithKey(jwa.HS384, v.secret))
	require.NoError(t, err)

	_, err = v.Parse(string(signed))
	require.Error(t, err)
	require.True(t, common.IsAppError(err))
}

func TestVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier(Config{})
	require.Error(t, err)
}

func TestAuthenticateMarksResellers(t *testing.T) {
	v := newTestVerifier(t)
	token, err := v.Issue(Identity{CustomerID: "7", Roles: []string{"Reseller"}})
	require.NoError(t, err)

	var reseller bool
	var customer string
	h := Middleware{Verifier: v}.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reseller = common.IsReseller(r.Context())
		customer, _ = common.UserID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/checkout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.True(t, reseller)
	require.Equal(t, "7", customer)
}

func TestAuthenticateLeavesGuestsAnonymous(t *testing.T) {
	v := newTestVerifier(t)
	var seen bool
	h := Middleware{Verifier: v}.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, seen = common.UserID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/checkout", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.False(t, seen)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireAuthRejectsAnonymous(t *testing.T) {
	h := Middleware{}.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func signClaims(t *testing.T, v *Verifier, mutate func(*jwt.Builder) *jwt.Builder) string {
	t.Helper()
	now := v.now()
	b := jwt.NewBuilder().
		Subject("42").
		Issuer("storefront").
		Audience([]string{"checkout"}).
		IssuedAt(now).
		Expiration(now.Add(time.Minute))
	tok, err := mutate(b).Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, v.secret))
	require.NoError(t, err)
	return string(signed)
}

func TestVerifierClaimChecks(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*jwt.Builder) *jwt.Builder
		ok     bool
	}{
		{"valid", func(b *jwt.Builder) *jwt.Builder { return b }, true},
		{"wrong issuer", func(b *jwt.Builder) *jwt.Builder { return b.Issuer("elsewhere") }, false},
		{"wrong audience", func(b *jwt.Builder) *jwt.Builder { return b.Audience([]string{"admin"}) }, false},
		{"expired", func(b *jwt.Builder) *jwt.Builder { return b.Expiration(time.Now().Add(-time.Hour)) }, false},
		{"not yet valid", func(b *jwt.Builder) *jwt.Builder { return b.NotBefore(time.Now().Add(time.Hour)) }, false},
		{"no subject", func(b *jwt.Builder) *jwt.Builder { return b.Subject("") }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := newTestVerifier(t)
			_, err := v.Parse(signClaims(t, v, tc.mutate))
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.True(t, common.IsAppError(err))
		})
	}
}

func TestVerifierClockSkew(t *testing.T) {
	v, err := NewVerifier(Config{Secret: "super-secret-key", ClockSkew: 30 * time.Second})
	require.NoError(t, err)
	issued := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	v.WithNow(func() time.Time { return issued })
	token, err := v.Issue(Identity{CustomerID: "9"})
	require.NoError(t, err)

	v.WithNow(func() time.Time { return issued.Add(time.Hour + 20*time.Second) })
	_, err = v.Parse(token)
	require.NoError(t, err, "inside skew")

	v.WithNow(func() time.Time { return issued.Add(time.Hour + time.Minute) })
	_, err = v.Parse(token)
	require.Error(t, err)
}

func TestVerifierRejectsWrongSecret(t *testing.T) {
	v := newTestVerifier(t)
	other, err := NewVerifier(Config{Secret: "another-secret", Issuer: "storefront", Audience: "checkout"})
	require.NoError(t, err)
	token, err := other.Issue(Identity{CustomerID: "42"})
	require.NoError(t, err)
	_, err = v.Parse(token)
	require.Error(t, err)
}

func TestRequireRoleGatesAdminRoutes(t *testing.T) {
	v := newTestVerifier(t)
	mw := Middleware{Verifier: v, AccessCookie: "session"}
	h := mw.Authenticate(mw.RequireAuth(mw.RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))))

	call := func(roles ...string) int {
		token, err := v.Issue(Identity{CustomerID: "9", Roles: roles})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/api/admin/queue/stats", nil)
		req.AddCookie(&http.Cookie{Name: "session", Value: token})
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusForbidden, call("reseller"))
	require.Equal(t, http.StatusNoContent, call("Admin"))
}
