package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bbtraining/checkout-api/internal/account"
	"github.com/bbtraining/checkout-api/internal/common"
	"github.com/bbtraining/checkout-api/internal/vat"
)

// EmailChecker reports whether an email already has an account.
type EmailChecker interface {
	Exists(ctx context.Context, email string) (bool, error)
}

// Handler exposes the checkout endpoints.
type Handler struct {
	Svc    *Service
	VAT    vat.Validator
	Emails EmailChecker
}

// Config serves GET /api/checkout.
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "checkout service not configured", nil)
		return
	}
	common.JSON(w, http.StatusOK, h.Svc.Config(r.Context()))
}

// Quote serves POST /api/checkout/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "checkout service not configured", nil)
		return
	}
	var payload QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return
	}
	out, err := h.Svc.Quote(r.Context(), payload)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, out)
}

type submitError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type submitResponse struct {
	Success bool          `json:"success"`
	Order   *OrderSummary `json:"order,omitempty"`
	Payment any           `json:"payment,omitempty"`
	Vat     any           `json:"vat,omitempty"`
	Error   *submitError  `json:"error,omitempty"`
}

// Submit serves POST /api/checkout. Failures render {success:false, error};
// a payment-session failure still carries the created order.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		writeSubmitError(w, common.NewAppError(common.CodeInternal, "checkout service not configured", http.StatusInternalServerError, nil), nil)
		return
	}
	var payload SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeSubmitError(w, common.NewAppError(common.CodeBadRequest, "invalid payload", http.StatusBadRequest, err), nil)
		return
	}
	out, err := h.Svc.Submit(r.Context(), payload)
	if err != nil {
		var order *OrderSummary
		if out.Order.ID != 0 {
			order = &out.Order
		}
		writeSubmitError(w, err, order)
		return
	}
	resp := submitResponse{Success: true, Order: &out.Order, Vat: out.Vat}
	if out.Payment != nil {
		resp.Payment = out.Payment
	}
	common.JSON(w, http.StatusCreated, resp)
}

func writeSubmitError(w http.ResponseWriter, err error, order *OrderSummary) {
	status := http.StatusInternalServerError
	body := &submitError{Code: common.CodeInternal, Message: "internal error"}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status = appErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		body = &submitError{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details}
	}
	common.JSON(w, status, submitResponse{Success: false, Order: order, Error: body})
}

type emailRequest struct {
	Email string `json:"email"`
}

// CheckEmail serves POST /api/auth/check-email.
func (h *Handler) CheckEmail(w http.ResponseWriter, r *http.Request) {
	if h.Emails == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "email check not configured", nil)
		return
	}
	var payload emailRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return
	}
	exists, err := h.Emails.Exists(r.Context(), payload.Email)
	switch {
	case errors.Is(err, account.ErrInvalidEmail):
		common.WriteError(w, common.ValidationError("invalid email address", map[string]string{"email": "email"}))
		return
	case err != nil:
		common.WriteError(w, common.NewAppError(common.CodeUpstream, "email check unavailable", http.StatusBadGateway, err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

type vatRequest struct {
	VatNumber   string `json:"vatNumber"`
	CountryCode string `json:"countryCode"`
}

// ValidateVat serves POST /api/vat/validate. An unreachable authority
// yields a format-only result flagged fallbackValidation.
func (h *Handler) ValidateVat(w http.ResponseWriter, r *http.Request) {
	if h.VAT == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "vat validation not configured", nil)
		return
	}
	var payload vatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return
	}
	if strings.TrimSpace(payload.VatNumber) == "" || strings.TrimSpace(payload.CountryCode) == "" {
		common.WriteError(w, common.ValidationError("vatNumber and countryCode are required", nil))
		return
	}
	res, err := h.VAT.Validate(r.Context(), payload.CountryCode, payload.VatNumber)
	switch {
	case errors.Is(err, vat.ErrInvalidInput):
		common.WriteError(w, common.ValidationError("vatNumber and countryCode are required", nil))
		return
	case err != nil:
		common.WriteError(w, common.NewAppError(common.CodeUpstream, "VAT validation failed", http.StatusBadGateway, err))
		return
	}
	common.JSON(w, http.StatusOK, res)
}
