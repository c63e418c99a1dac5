package checkout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/billing-gateway/internal/common"
	"github.com/noah-isme/billing-gateway/internal/gateway"
)

// Handler exposes the payment-link, refund and void endpoints.
type Handler struct {
	Svc *Service
}

// PaymentLink handles POST /api/v1/payments/link.
func (h *Handler) PaymentLink(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	var payload LinkInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	out, err := h.Svc.BuildLink(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": out})
}

// Refund handles POST /api/v1/payments/{gateway}/refund.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	h.reverse(w, r, "refund")
}

// Void handles POST /api/v1/payments/{gateway}/void.
func (h *Handler) Void(w http.ResponseWriter, r *http.Request) {
	h.reverse(w, r, "void")
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request, operation string) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	var payload RefundInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	name := chi.URLParam(r, "gateway")
	var (
		out RefundOutput
		err error
	)
	if operation == "void" {
		out, err = h.Svc.Void(r.Context(), name, payload)
	} else {
		out, err = h.Svc.Refund(r.Context(), name, payload)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func writeError(w http.ResponseWriter, err error) {
	var fieldErrs validator.ValidationErrors
	switch {
	case errors.As(err, &fieldErrs):
		details := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			details[strings.ToLower(fe.Field())] = fe.Tag()
		}
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid request", details)
	case errors.Is(err, ErrUnknownGateway):
		common.JSONError(w, http.StatusNotFound, "GATEWAY_NOT_SUPPORTED", "unknown gateway", nil)
	case errors.Is(err, gateway.ErrUnsupportedOperation):
		common.JSONError(w, http.StatusBadRequest, "UNSUPPORTED_OPERATION", "gateway does not support this operation", nil)
	case gateway.IsRemoteError(err):
		common.JSONError(w, http.StatusBadGateway, "GATEWAY_ERROR", "remote gateway call failed", nil)
	default:
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	}
}
