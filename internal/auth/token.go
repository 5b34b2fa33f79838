package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/bbtraining/checkout-api/internal/common"
)

const rolesClaim = "roles"

// Identity is the storefront customer carried by a verified token.
type Identity struct {
	CustomerID string
	Email      string
	Roles      []string
}

// Config configures token verification.
type Config struct {
	Secret    string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	// TTL applies only to tokens minted by Issue.
	TTL time.Duration
}

// Verifier checks storefront session tokens signed with a shared HS256 secret.
type Verifier struct {
	secret    []byte
	issuer    string
	audience  string
	ttl       time.Duration
	clockSkew time.Duration
	now       func() time.Time
}

// NewVerifier builds a Verifier from cfg.
func NewVerifier(cfg Config) (*Verifier, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Verifier{
		secret:    []byte(secret),
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		ttl:       ttl,
		clockSkew: cfg.ClockSkew,
		now:       time.Now,
	}, nil
}

// WithNow overrides the clock, for tests.
func (v *Verifier) WithNow(now func() time.Time) {
	if now != nil {
		v.now = now
	}
}

// Parse verifies the HS256 signature and the time, issuer and audience
// claims, then returns the identity the token carries. Any failure is a 401
// AppError.
func (v *Verifier) Parse(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, unauthorized(errors.New("auth: empty token"))
	}
	parsed, err := jwt.ParseString(token, jwt.WithKey(jwa.HS256, v.secret), jwt.WithValidate(false))
	if err != nil {
		return Identity{}, unauthorized(err)
	}
	checks := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(v.now)),
		jwt.WithAcceptableSkew(v.clockSkew),
	}
	if v.issuer != "" {
		checks = append(checks, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		checks = append(checks, jwt.WithAudience(v.audience))
	}
	if err := jwt.Validate(parsed, checks...); err != nil {
		return Identity{}, unauthorized(err)
	}
	if parsed.Subject() == "" {
		return Identity{}, unauthorized(errors.New("auth: token has no subject"))
	}

	id := Identity{CustomerID: parsed.Subject(), Roles: stringsClaim(parsed, rolesClaim)}
	if raw, ok := parsed.Get("email"); ok {
		id.Email, _ = raw.(string)
	}
	return id, nil
}

// Issue signs a token for id. The storefront normally mints these; the API
// only issues them for tooling and tests.
func (v *Verifier) Issue(id Identity) (string, error) {
	now := v.now()
	builder := jwt.NewBuilder().
		Subject(id.CustomerID).
		Issuer(v.issuer).
		IssuedAt(now).
		NotBefore(now.Add(-v.clockSkew)).
		Expiration(now.Add(v.ttl))
	if v.audience != "" {
		builder = builder.Audience([]string{v.audience})
	}
	if len(id.Roles) > 0 {
		builder = builder.Claim(rolesClaim, id.Roles)
	}
	if id.Email != "" {
		builder = builder.Claim("email", id.Email)
	}
	token, err := builder.Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, v.secret))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

func stringsClaim(tok jwt.Token, name string) []string {
	raw, ok := tok.Get(name)
	if !ok {
		return nil
	}
	switch vals := raw.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, v := range vals {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Split(vals, ",")
	}
	return nil
}

func unauthorized(err error) error {
	return common.NewAppError(common.CodeUnauthorized, "invalid token", http.StatusUnauthorized, err)
}
