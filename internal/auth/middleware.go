package auth

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bbtraining/checkout-api/internal/common"
)

// Middleware resolves the storefront session on each request. Checkout itself
// works for guests; only the admin routes insist on an identity.
type Middleware struct {
	Verifier *Verifier
	// AccessCookie is consulted when no bearer header is sent.
	AccessCookie string
}

// Authenticate puts the customer id and roles on the context when the request
// carries a valid token. Bad tokens are logged and treated as guests.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	if m.Verifier == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := m.token(r)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := m.Verifier.Parse(raw)
		if err != nil {
			zerolog.Ctx(r.Context()).Debug().Err(err).Msg("session token rejected; continuing as guest")
			next.ServeHTTP(w, r)
			return
		}
		ctx := common.WithRoles(common.WithUserID(r.Context(), id.CustomerID), id.Roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth answers 401 unless Authenticate attached a customer.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, _ := common.UserID(r.Context()); id == "" {
			common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "authentication required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole answers 403 when the authenticated account lacks role.
func (m Middleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !common.HasRole(r.Context(), role) {
				common.JSONError(w, http.StatusForbidden, common.CodeForbidden, "role "+role+" required", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) token(r *http.Request) string {
	scheme, value, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(value)
	}
	if m.AccessCookie == "" {
		return ""
	}
	c, err := r.Cookie(m.AccessCookie)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}
