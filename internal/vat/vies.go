package vat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/bbtraining/checkout-api/internal/resilience"
)

// ErrAuthorityUnavailable means the validation authority could not answer.
// Callers fall back to format validation.
var ErrAuthorityUnavailable = errors.New("vat: validation authority unavailable")

// AuthorityResult is the authority's verdict for one number.
type AuthorityResult struct {
	Valid   bool
	Name    string
	Address string
}

// Authority checks a normalised number with the tax authority.
type Authority interface {
	Check(ctx context.Context, country, number string) (AuthorityResult, error)
}

// unavailableCodes are VIES user errors that say nothing about the number itself.
var unavailableCodes = map[string]struct{}{
	"MS_UNAVAILABLE":            {},
	"SERVICE_UNAVAILABLE":       {},
	"TIMEOUT":                   {},
	"MS_MAX_CONCURRENT_REQ":     {},
	"GLOBAL_MAX_CONCURRENT_REQ": {},
	"SERVER_BUSY":               {},
}

// ViesClient talks to the EU VIES REST API.
type ViesClient struct {
	BaseURL string
	HTTP    *resilience.HTTPClient
	Limiter *rate.Limiter
	// MaxWait is how long a call may queue for a Limiter token. Calls that
	// would wait longer fail as ErrAuthorityUnavailable, which callers treat
	// as format-only validation.
	MaxWait time.Duration

	calls metric.Int64Counter
}

// NewViesClient wires the client with an otel call counter.
func NewViesClient(baseURL string, httpClient *resilience.HTTPClient, limiter *rate.Limiter) *ViesClient {
	counter, _ := otel.Meter("github.com/bbtraining/checkout-api/internal/vat").Int64Counter(
		"vat.authority.calls",
		metric.WithDescription("VIES check-vat-number calls by outcome"),
	)
	return &ViesClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    httpClient,
		Limiter: limiter,
		calls:   counter,
	}
}

type viesRequest struct {
	CountryCode string `json:"countryCode"`
	VatNumber   string `json:"vatNumber"`
}

type viesResponse struct {
	CountryCode string `json:"countryCode"`
	VatNumber   string `json:"vatNumber"`
	Valid       bool   `json:"valid"`
	Name        string `json:"name"`
	Address     string `json:"address"`
	UserError   string `json:"userError"`

	ActionSucceed *bool `json:"actionSucceed"`
	ErrorWrappers []struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	} `json:"errorWrappers"`
}

// Check implements Authority.
func (c *ViesClient) Check(ctx context.Context, country, number string) (AuthorityResult, error) {
	if c.HTTP == nil {
		return AuthorityResult{}, fmt.Errorf("%w: client not configured", ErrAuthorityUnavailable)
	}
	if err := c.throttle(ctx); err != nil {
		c.record(ctx, "throttled")
		return AuthorityResult{}, fmt.Errorf("%w: %v", ErrAuthorityUnavailable, err)
	}

	body, err := json.Marshal(viesRequest{CountryCode: country, VatNumber: number})
	if err != nil {
		return AuthorityResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/check-vat-number", bytes.NewReader(body))
	if err != nil {
		return AuthorityResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(ctx, resilience.Safe(req))
	if err != nil {
		c.record(ctx, "unavailable")
		return AuthorityResult{}, fmt.Errorf("%w: %v", ErrAuthorityUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.record(ctx, "unavailable")
		return AuthorityResult{}, fmt.Errorf("%w: read body: %v", ErrAuthorityUnavailable, err)
	}
	var out viesResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		c.record(ctx, "unavailable")
		return AuthorityResult{}, fmt.Errorf("%w: decode status %d: %v", ErrAuthorityUnavailable, resp.StatusCode, err)
	}

	if code := out.errorCode(); code != "" {
		if _, ok := unavailableCodes[code]; ok || resp.StatusCode >= http.StatusInternalServerError {
			c.record(ctx, "unavailable")
			return AuthorityResult{}, fmt.Errorf("%w: %s", ErrAuthorityUnavailable, code)
		}
		if code == "INVALID_INPUT" || code == "INVALID" {
			c.record(ctx, "invalid")
			return AuthorityResult{Valid: false}, nil
		}
		c.record(ctx, "error")
		return AuthorityResult{}, fmt.Errorf("vat: authority error %s", code)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		c.record(ctx, "error")
		return AuthorityResult{}, fmt.Errorf("vat: authority status %d", resp.StatusCode)
	}

	result := "invalid"
	if out.Valid {
		result = "valid"
	}
	c.record(ctx, result)
	return AuthorityResult{Valid: out.Valid, Name: cleanField(out.Name), Address: cleanField(out.Address)}, nil
}

func (r viesResponse) errorCode() string {
	if r.UserError != "" && r.UserError != "VALID" && r.UserError != "INVALID" {
		return r.UserError
	}
	if r.ActionSucceed != nil && !*r.ActionSucceed && len(r.ErrorWrappers) > 0 {
		return r.ErrorWrappers[0].Error
	}
	return ""
}

func (c *ViesClient) record(ctx context.Context, result string) {
	if c.calls == nil {
		return
	}
	c.calls.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// VIES returns "---" for fields a member state does not disclose.
func cleanField(s string) string {
	s = strings.TrimSpace(s)
	if s == "---" {
		return ""
	}
	return s
}

var errThrottled = errors.New("vies: local rate limit reached")

func (c *ViesClient) throttle(ctx context.Context) error {
	if c.Limiter == nil {
		return nil
	}
	r := c.Limiter.Reserve()
	if !r.OK() || r.Delay() > c.MaxWait {
		r.Cancel()
		return errThrottled
	}
	if r.Delay() == 0 {
		return nil
	}
	t := time.NewTimer(r.Delay())
	defer t.Stop()
	select {
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
