// Package gateway defines the canonical transaction model and the contract
// every payment-gateway adapter implements: build a hosted-payment redirect,
// verify and normalize asynchronous webhook callbacks, verify, probe and
// normalize browser return-redirects, and perform refunds and voids against
// the remote API.
package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// Gateway is implemented by each payment-gateway adapter.
//
// Webhook handles the asynchronous server-to-server notification path. It
// must verify the callback's authenticity before producing a Transaction;
// callbacks that fail verification return ErrInvalidSignature and produce
// nothing.
//
// Return handles the browser return-redirect path. The redirect is
// client-influenced, so in addition to signature verification the adapter
// must re-query the remote gateway and reject unconfirmed payments with
// ErrFakeSuccess.
type Gateway interface {
	Name() string
	BuildPayment(ctx context.Context, req ChargeRequest) (PaymentLink, error)
	Webhook(ctx context.Context, r *http.Request, body []byte) (Transaction, error)
	Return(ctx context.Context, params url.Values) (Transaction, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	Void(ctx context.Context, req RefundRequest) (RefundResult, error)
	// VerifyConnection performs a synchronous connectivity probe with the
	// configured credentials, used at settings-validation time.
	VerifyConnection(ctx context.Context) error
	// AckWebhook writes whatever acknowledgment body the remote gateway
	// expects after a webhook has been accepted.
	AckWebhook(w http.ResponseWriter)
}

// Registry maps gateway names to adapters.
type Registry map[string]Gateway

// Lookup resolves a gateway by case-insensitive name.
func (r Registry) Lookup(name string) (Gateway, bool) {
	gw, ok := r[strings.ToLower(strings.TrimSpace(name))]
	return gw, ok
}

// AuditEntry is one request or response payload exchanged with a remote
// gateway, kept for reconciliation regardless of outcome.
type AuditEntry struct {
	Gateway   string
	Operation string
	Direction string // "input" or "output"
	Payload   []byte
	Success   bool
}

// AuditSink receives audit entries. Implementations must tolerate failure;
// audit logging is best effort and never blocks payment processing.
type AuditSink interface {
	Append(ctx context.Context, entry AuditEntry)
}

// NopAudit discards audit entries.
type NopAudit struct{}

// Append implements AuditSink.
func (NopAudit) Append(context.Context, AuditEntry) {}
