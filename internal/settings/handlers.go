package settings

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/billing-gateway/internal/common"
	"github.com/noah-isme/billing-gateway/internal/gateway"
)

// Handler exposes the settings-validation endpoint.
type Handler struct {
	Svc *Service
}

type checkInput struct {
	Fields map[string]string `json:"fields"`
}

type checkOutput struct {
	Valid  bool        `json:"valid"`
	Errors FieldErrors `json:"errors,omitempty"`
}

// Check handles POST /api/v1/settings/{gateway}/validate.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "settings service not configured", nil)
		return
	}
	var payload checkInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	name := chi.URLParam(r, "gateway")
	failed, err := h.Svc.Check(r.Context(), name, payload.Fields)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownGateway):
			common.JSONError(w, http.StatusNotFound, "GATEWAY_NOT_SUPPORTED", "unknown gateway", nil)
		case gateway.IsRemoteError(err):
			common.JSONError(w, http.StatusBadGateway, "GATEWAY_ERROR", "connectivity probe failed", nil)
		default:
			common.JSONError(w, http.StatusBadRequest, "CONNECTION_FAILED", err.Error(), nil)
		}
		return
	}
	if len(failed) > 0 {
		common.JSON(w, http.StatusUnprocessableEntity, checkOutput{Valid: false, Errors: failed})
		return
	}
	common.JSON(w, http.StatusOK, checkOutput{Valid: true})
}
