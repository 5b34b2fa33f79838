// Package vat validates EU VAT identifiers and decides when a business buyer
// is exempt from VAT.
package vat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bbtraining/checkout-api/internal/cache"
	"github.com/bbtraining/checkout-api/internal/obs"
	"github.com/bbtraining/checkout-api/internal/tables"
)

// ErrInvalidInput is returned when the number or country is missing.
var ErrInvalidInput = errors.New("vat: number and country are required")

// Result is the validation outcome returned to the storefront.
type Result struct {
	Valid              bool   `json:"valid"`
	CountryCode        string `json:"countryCode"`
	VatNumber          string `json:"vatNumber"`
	Name               string `json:"name,omitempty"`
	Address            string `json:"address,omitempty"`
	FallbackValidation bool   `json:"fallbackValidation,omitempty"`
	Error              string `json:"error,omitempty"`
}

// Validator validates one number for one country.
type Validator interface {
	Validate(ctx context.Context, country, number string) (Result, error)
}

// Service validates numbers locally and with the authority, caching
// authority answers.
type Service struct {
	authority Authority
	cache     *cache.JSON
	logger    zerolog.Logger
}

// NewService constructs a Service. cache may be nil.
func NewService(authority Authority, c *cache.JSON, logger zerolog.Logger) *Service {
	return &Service{authority: authority, cache: c, logger: logger}
}

// Validate implements Validator. Authority outages degrade to the format
// check with FallbackValidation set; fallback answers are not cached.
func (s *Service) Validate(ctx context.Context, country, number string) (Result, error) {
	code, n := Normalise(country, number)
	if code == "" || n == "" {
		return Result{}, ErrInvalidInput
	}
	res := Result{CountryCode: code, VatNumber: n}
	if !tables.IsEU(code) {
		res.Error = "country is not an EU member state"
		return res, nil
	}
	if !FormatValid(code, n) {
		obs.IncCounter(obs.VatValidationsTotal, "format", "invalid")
		res.Error = "invalid VAT number format"
		return res, nil
	}

	key := cache.KeyVAT(code, n)
	var cached Result
	if ok, err := s.cache.Get(ctx, key, &cached); err != nil {
		s.logger.Warn().Err(err).Msg("vat cache read failed")
	} else if ok {
		obs.IncCounter(obs.VatValidationsTotal, "cache", outcome(cached.Valid))
		return cached, nil
	}

	verdict, err := s.authority.Check(ctx, code, n)
	if err != nil {
		if errors.Is(err, ErrAuthorityUnavailable) {
			s.logger.Warn().Err(err).Str("country", code).Msg("vat authority unavailable; using format validation")
			obs.IncCounter(obs.VatValidationsTotal, "fallback", "valid")
			res.Valid = true
			res.FallbackValidation = true
			return res, nil
		}
		obs.IncCounter(obs.VatValidationsTotal, "authority", "error")
		return Result{}, fmt.Errorf("validate vat number: %w", err)
	}

	res.Valid = verdict.Valid
	res.Name = verdict.Name
	res.Address = verdict.Address
	if !verdict.Valid {
		res.Error = "VAT number not registered"
	}
	obs.IncCounter(obs.VatValidationsTotal, "authority", outcome(res.Valid))
	if err := s.cache.Set(ctx, key, res); err != nil {
		s.logger.Warn().Err(err).Msg("vat cache write failed")
	}
	return res, nil
}

func outcome(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}

// Status is the VAT exemption state of a checkout.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusValidating Status = "validating"
	StatusValid      Status = "valid"
	StatusInvalid    Status = "invalid"
	StatusError      Status = "error"
)

// Evaluation is the exemption decision for one (company, number, country) input.
type Evaluation struct {
	Status           Status  `json:"status"`
	ExemptionApplied bool    `json:"exemptionApplied"`
	Export           bool    `json:"export,omitempty"`
	Validated        *Result `json:"validatedData,omitempty"`
	Message          string  `json:"message,omitempty"`
}

// Fallback reports whether the exemption rests on format validation only.
func (e Evaluation) Fallback() bool {
	return e.Validated != nil && e.Validated.FallbackValidation
}

// Evaluator decides VAT exemption. The home country never exempts; non-EU
// destinations are exports and exempt without a validation call.
type Evaluator struct {
	HomeCountry string
	Validator   Validator
}

// Evaluate runs the full decision, calling the validator for EU destinations.
func (e Evaluator) Evaluate(ctx context.Context, isCompany bool, vatNumber, billingCountry string) Evaluation {
	if ev, done := e.precheck(isCompany, vatNumber, billingCountry); done {
		return ev
	}
	if e.Validator == nil {
		return Evaluation{Status: StatusError, Message: "VAT validation is not available; VAT will be charged."}
	}
	res, err := e.Validator.Validate(ctx, billingCountry, vatNumber)
	if err != nil {
		return Evaluation{Status: StatusError, Message: "We could not validate your VAT number right now; VAT will be charged."}
	}
	return decide(res)
}

func (e Evaluator) precheck(isCompany bool, vatNumber, billingCountry string) (Evaluation, bool) {
	country := strings.ToUpper(strings.TrimSpace(billingCountry))
	if !isCompany || strings.TrimSpace(vatNumber) == "" || country == "" {
		return Evaluation{Status: StatusIdle}, true
	}
	if country == strings.ToUpper(strings.TrimSpace(e.HomeCountry)) {
		return Evaluation{Status: StatusIdle}, true
	}
	if !tables.IsEU(country) {
		return Evaluation{
			Status:           StatusValid,
			ExemptionApplied: true,
			Export:           true,
			Message:          "Export outside the EU: no VAT is charged.",
		}, true
	}
	return Evaluation{}, false
}

func decide(res Result) Evaluation {
	r := res
	switch {
	case res.Valid && res.FallbackValidation:
		return Evaluation{
			Status:           StatusValid,
			ExemptionApplied: true,
			Validated:        &r,
			Message:          "VAT number format accepted. The EU validation service is unavailable, so the number will be verified later.",
		}
	case res.Valid:
		msg := "VAT number verified. Reverse charge applies."
		if res.Name != "" {
			msg = fmt.Sprintf("VAT number verified for %s. Reverse charge applies.", res.Name)
		}
		return Evaluation{Status: StatusValid, ExemptionApplied: true, Validated: &r, Message: msg}
	default:
		return Evaluation{Status: StatusInvalid, Validated: &r, Message: "VAT number is not valid. Standard VAT applies."}
	}
}
