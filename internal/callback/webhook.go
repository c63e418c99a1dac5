// Package callback terminates the two inbound notification paths of each
// payment gateway: the server-to-server webhook and the browser
// return-redirect. Both verify before recording anything; the return path
// additionally treats unconfirmed payments as hostile.
package callback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/billing-gateway/internal/common"
	"github.com/noah-isme/billing-gateway/internal/events"
	"github.com/noah-isme/billing-gateway/internal/gateway"
	"github.com/noah-isme/billing-gateway/internal/obs"
	"github.com/noah-isme/billing-gateway/internal/store"
)

// Recorder persists normalized transactions and moves already recorded
// ones forward when a later delivery reports a settled state.
type Recorder interface {
	RecordTransaction(ctx context.Context, gatewayName string, tx gateway.Transaction) error
	UpdateTransactionStatus(ctx context.Context, gatewayName, transactionID string, status gateway.Status) error
}

// Webhook handles asynchronous gateway notifications.
type Webhook struct {
	Gateways  gateway.Registry
	Store     Recorder
	Replay    *redis.Client
	ReplayTTL time.Duration
	Events    *events.Bus
	Logger    zerolog.Logger
}

// Handle verifies, deduplicates, normalizes and records one webhook
// notification, then answers with the gateway's expected acknowledgment.
// Replayed payloads are acked without a second record so the remote stops
// retrying; a duplicate that reports a settled state updates the stored
// row instead.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "gateway")))
	gw, ok := h.Gateways.Lookup(name)
	if !ok {
		common.JSONError(w, http.StatusNotFound, "GATEWAY_NOT_SUPPORTED", "unknown gateway", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	ctx := r.Context()
	if h.replayed(ctx, name, r.URL.RawQuery, body) {
		h.count(name, "webhook", "replay")
		gw.AckWebhook(w)
		return
	}

	tx, err := gw.Webhook(ctx, r, body)
	if err != nil {
		if errors.Is(err, gateway.ErrUnsupportedEvent) {
			// Gateways deliver event types we never act on; acknowledge them
			// so they are not retried.
			h.count(name, "webhook", "ignored")
			gw.AckWebhook(w)
			return
		}
		h.count(name, "webhook", "rejected")
		writeCallbackError(w, err)
		return
	}

	if h.Store != nil {
		if err := h.Store.RecordTransaction(ctx, name, tx); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				// The same remote transaction id arrives more than once: the
				// order-approved delivery records a pending row, the capture
				// notification for it then has to settle that row.
				updated, uerr := settleDuplicate(ctx, h.Store, name, tx)
				if uerr != nil {
					h.count(name, "webhook", "error")
					common.JSONError(w, http.StatusInternalServerError, "STORAGE_ERROR", "unable to update transaction", nil)
					return
				}
				if updated {
					h.count(name, "webhook", "updated")
					h.emit(ctx, name, tx)
				} else {
					h.count(name, "webhook", "replay")
				}
				gw.AckWebhook(w)
				return
			}
			h.count(name, "webhook", "error")
			common.JSONError(w, http.StatusInternalServerError, "STORAGE_ERROR", "unable to record transaction", nil)
			return
		}
	}

	h.count(name, "webhook", "accepted")
	h.emit(ctx, name, tx)
	gw.AckWebhook(w)
}

// settleDuplicate upgrades an already recorded transaction when a later
// delivery for the same remote id carries a settled status. Pending
// deliveries never overwrite, so a replayed order-approved notification
// cannot roll back a captured row. A row already in the delivered status
// is left alone and reported as a plain replay.
func settleDuplicate(ctx context.Context, rec Recorder, name string, tx gateway.Transaction) (bool, error) {
	switch tx.Status {
	case gateway.StatusApproved, gateway.StatusRefunded, gateway.StatusVoid:
	default:
		return false, nil
	}
	if tx.TransactionID == "" {
		return false, nil
	}
	err := rec.UpdateTransactionStatus(ctx, name, tx.TransactionID, tx.Status)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// replayed registers a hash of the delivery and reports whether it was
// seen before. The hash covers the query string as well as the body since
// some gateways notify via GET with an empty body. A Redis outage fails
// open; the transaction unique constraint still stops double recording.
func (h Webhook) replayed(ctx context.Context, name, rawQuery string, body []byte) bool {
	if h.Replay == nil || h.ReplayTTL <= 0 {
		return false
	}
	key := fmt.Sprintf("pgwh:%s:%s", name, common.Sha256Hex([]byte(rawQuery+"\n"+string(body))))
	fresh, err := h.Replay.SetNX(ctx, key, "1", h.ReplayTTL).Result()
	if err != nil {
		h.Logger.Warn().Err(err).Str("gateway", name).Msg("replay guard unavailable")
		return false
	}
	return !fresh
}

func (h Webhook) count(name, path, result string) {
	if obs.CallbackTotal != nil {
		obs.CallbackTotal.WithLabelValues(name, path, result).Inc()
	}
}

func (h Webhook) emit(ctx context.Context, name string, tx gateway.Transaction) {
	if h.Events == nil {
		return
	}
	if err := h.Events.Emit(ctx, events.TopicForStatus(tx.Status), name, tx); err != nil {
		h.Logger.Warn().Err(err).Str("gateway", name).Msg("event dispatch failed")
	}
}

func writeCallbackError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrInvalidSignature):
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
	case errors.Is(err, gateway.ErrFakeSuccess):
		common.JSONError(w, http.StatusForbidden, "fake_success_payment", "payment not confirmed by gateway", nil)
	case errors.Is(err, gateway.ErrMissingClientID):
		common.JSONError(w, http.StatusBadRequest, "MISSING_CLIENT_ID", "callback does not identify a client", nil)
	case errors.Is(err, gateway.ErrMissingTransaction):
		common.JSONError(w, http.StatusBadRequest, "MISSING_TRANSACTION", "callback does not identify a transaction", nil)
	case errors.Is(err, gateway.ErrUnsupportedEvent):
		common.JSONError(w, http.StatusBadRequest, "UNSUPPORTED_EVENT", "event cannot be processed", nil)
	case gateway.IsRemoteError(err):
		common.JSONError(w, http.StatusBadGateway, "GATEWAY_ERROR", "remote gateway call failed", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "CALLBACK_ERROR", "unable to process callback", nil)
	}
}
