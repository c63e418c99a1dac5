package callback

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/billing-gateway/internal/common"
	"github.com/noah-isme/billing-gateway/internal/events"
	"github.com/noah-isme/billing-gateway/internal/gateway"
	"github.com/noah-isme/billing-gateway/internal/invoiceref"
	"github.com/noah-isme/billing-gateway/internal/obs"
	"github.com/noah-isme/billing-gateway/internal/store"
)

// Return handles the browser return-redirect after a hosted payment. The
// redirect carries client-influenced parameters, so every adapter re-checks
// the payment server-side before a transaction is accepted here.
type Return struct {
	Gateways gateway.Registry
	Store    Recorder
	Events   *events.Bus
	Logger   zerolog.Logger
}

type returnResponse struct {
	Gateway       string               `json:"gateway"`
	Status        gateway.Status       `json:"status"`
	ClientID      string               `json:"client_id"`
	TransactionID string               `json:"transaction_id"`
	Amount        string               `json:"amount,omitempty"`
	Currency      string               `json:"currency,omitempty"`
	Invoices      []invoiceref.Invoice `json:"invoices,omitempty"`
}

// Handle verifies and records the return callback and reports the outcome
// to the billing frontend.
func (h Return) Handle(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "gateway")))
	gw, ok := h.Gateways.Lookup(name)
	if !ok {
		common.JSONError(w, http.StatusNotFound, "GATEWAY_NOT_SUPPORTED", "unknown gateway", nil)
		return
	}

	ctx := r.Context()
	tx, err := gw.Return(ctx, r.URL.Query())
	if err != nil {
		h.count(name, "rejected")
		writeCallbackError(w, err)
		return
	}

	emitEvent := true
	if h.Store != nil {
		if err := h.Store.RecordTransaction(ctx, name, tx); err != nil {
			if !errors.Is(err, store.ErrDuplicate) {
				h.count(name, "error")
				common.JSONError(w, http.StatusInternalServerError, "STORAGE_ERROR", "unable to record transaction", nil)
				return
			}
			// The webhook usually lands first; the return then only confirms,
			// unless it reports a settled state the stored row has not reached
			// (the order-approved webhook leaves the row pending).
			updated, uerr := settleDuplicate(ctx, h.Store, name, tx)
			if uerr != nil {
				h.Logger.Warn().Err(uerr).Str("gateway", name).Msg("status update failed")
			}
			emitEvent = updated
		}
	}

	h.count(name, "accepted")
	if emitEvent && h.Events != nil {
		if err := h.Events.Emit(ctx, events.TopicForStatus(tx.Status), name, tx); err != nil {
			h.Logger.Warn().Err(err).Str("gateway", name).Msg("event dispatch failed")
		}
	}

	amount := ""
	if !tx.Amount.IsZero() {
		amount = tx.Amount.String()
	}
	common.JSON(w, http.StatusOK, returnResponse{
		Gateway:       name,
		Status:        tx.Status,
		ClientID:      tx.ClientID,
		TransactionID: tx.TransactionID,
		Amount:        amount,
		Currency:      tx.Currency,
		Invoices:      tx.Invoices,
	})
}

func (h Return) count(name, result string) {
	if obs.CallbackTotal != nil {
		obs.CallbackTotal.WithLabelValues(name, "return", result).Inc()
	}
}
