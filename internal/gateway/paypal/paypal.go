// Package paypal implements the Gateway contract for PayPal Checkout.
// Outbound orders are created with intent CAPTURE; inbound webhooks are
// authenticated through PayPal's verify-webhook-signature API, and the
// browser return path re-fetches the order server-side before anything is
// trusted.
package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/billing-gateway/internal/gateway"
	"github.com/noah-isme/billing-gateway/internal/invoiceref"
)

// Name identifies this adapter in the registry and in stored records.
const Name = "paypal_checkout"

var softDescriptorPattern = regexp.MustCompile(`[^a-zA-Z1-9 \-\*\.]`)

// Config carries the REST credentials and the webhook id registered for the
// billing system's callback endpoint.
type Config struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	BrandName    string
	Sandbox      bool
}

// Adapter implements gateway.Gateway against the PayPal Checkout REST API.
type Adapter struct {
	cfg    Config
	client *Client
	logger zerolog.Logger
}

// New constructs the adapter.
func New(cfg Config, client *Client, logger zerolog.Logger) *Adapter {
	return &Adapter{cfg: cfg, client: client, logger: logger}
}

// Name implements gateway.Gateway.
func (a *Adapter) Name() string { return Name }

// BuildPayment creates a CAPTURE-intent order carrying the serialized
// invoice list in reference_id and the client id in custom_id, then picks
// the approval URL out of the response's link list.
func (a *Adapter) BuildPayment(ctx context.Context, req gateway.ChargeRequest) (gateway.PaymentLink, error) {
	order, err := a.client.CreateOrder(ctx, OrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []PurchaseUnit{{
			Description:    req.Description,
			SoftDescriptor: softDescriptor(a.cfg.BrandName),
			Amount: &Money{
				CurrencyCode: strings.ToUpper(req.Currency),
				Value:        gateway.FormatAmount(req.Amount, req.Currency),
			},
			ReferenceID: invoiceref.Serialize(req.Invoices),
			CustomID:    req.Contact.ClientID,
		}},
		ApplicationContext: &ApplicationContext{
			ReturnURL: req.ReturnURL,
			CancelURL: req.ReturnURL,
		},
	})
	if err != nil {
		return gateway.PaymentLink{}, err
	}

	for _, link := range order.Links {
		if link.Rel == "approve" {
			a.logger.Info().Str("gateway", Name).Str("order_id", order.ID).Msg("payment link created")
			return gateway.PaymentLink{Gateway: Name, OrderID: order.ID, URL: link.Href}, nil
		}
	}
	return gateway.PaymentLink{}, gateway.NewRemoteError(Name, "create_order",
		fmt.Errorf("order %s has no approve link", order.ID))
}

// Webhook verifies the delivery against PayPal, filters the event type and
// normalizes the payload. An order-approved event triggers an explicit
// capture before the transaction is reported; everything but the two
// accepted event types is discarded.
func (a *Adapter) Webhook(ctx context.Context, r *http.Request, body []byte) (gateway.Transaction, error) {
	if a.cfg.WebhookID == "" {
		return gateway.Transaction{}, gateway.NewRemoteError(Name, "verify_webhook",
			fmt.Errorf("webhook id not configured"))
	}
	verified, err := a.client.VerifyWebhookSignature(ctx, a.cfg.WebhookID, SignatureHeadersFromRequest(r), body)
	if err != nil {
		return gateway.Transaction{}, err
	}
	if !verified {
		a.logger.Warn().Str("gateway", Name).Msg("webhook signature verification failed")
		return gateway.Transaction{}, gateway.ErrInvalidSignature
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return gateway.Transaction{}, fmt.Errorf("paypal: decode webhook event: %w", err)
	}

	switch event.EventType {
	case eventOrderApproved:
		return a.handleOrderApproved(ctx, event)
	case eventCaptureCompleted:
		return a.handleCaptureCompleted(ctx, event)
	default:
		a.logger.Info().Str("gateway", Name).Str("event_type", event.EventType).Msg("unsupported event discarded")
		return gateway.Transaction{}, gateway.ErrUnsupportedEvent
	}
}

func (a *Adapter) handleOrderApproved(ctx context.Context, event WebhookEvent) (gateway.Transaction, error) {
	var order Order
	if err := json.Unmarshal(event.Resource, &order); err != nil {
		return gateway.Transaction{}, fmt.Errorf("paypal: decode order resource: %w", err)
	}
	if order.ID == "" {
		return gateway.Transaction{}, gateway.ErrMissingTransaction
	}
	// Approval is not settlement: capture explicitly before reporting.
	if _, err := a.client.CaptureOrder(ctx, order.ID); err != nil {
		return gateway.Transaction{}, err
	}
	unit := firstUnit(order.PurchaseUnits)
	return a.transactionFromUnit(unit, unit.Amount, gateway.StatusPending, "", order.ID)
}

func (a *Adapter) handleCaptureCompleted(ctx context.Context, event WebhookEvent) (gateway.Transaction, error) {
	var capture Capture
	if err := json.Unmarshal(event.Resource, &capture); err != nil {
		return gateway.Transaction{}, fmt.Errorf("paypal: decode capture resource: %w", err)
	}
	orderID := ""
	if capture.SupplementaryData != nil && capture.SupplementaryData.RelatedIDs != nil {
		orderID = capture.SupplementaryData.RelatedIDs.OrderID
	}
	if orderID == "" {
		return gateway.Transaction{}, gateway.ErrMissingTransaction
	}
	order, err := a.client.GetOrder(ctx, orderID)
	if err != nil {
		return gateway.Transaction{}, err
	}
	if len(order.PurchaseUnits) == 0 {
		return gateway.Transaction{}, gateway.ErrMissingTransaction
	}

	var status gateway.Status
	switch capture.Status {
	case statusCompleted:
		status = gateway.StatusApproved
	case statusApproved:
		status = gateway.StatusPending
	case statusVoided:
		status = gateway.StatusVoid
	default:
		a.logger.Info().Str("gateway", Name).Str("capture_status", capture.Status).Msg("unsupported capture status discarded")
		return gateway.Transaction{}, gateway.ErrUnsupportedEvent
	}
	return a.transactionFromUnit(order.PurchaseUnits[0], capture.Amount, status, capture.ID, order.ID)
}

// Return handles the browser redirect back from hosted checkout. The token
// query parameter names the order; the adapter never trusts the redirect
// itself and instead re-fetches the order to confirm the payer actually
// approved it.
func (a *Adapter) Return(ctx context.Context, params url.Values) (gateway.Transaction, error) {
	token := strings.TrimSpace(params.Get("token"))
	if token == "" {
		return gateway.Transaction{}, gateway.ErrMissingTransaction
	}
	order, err := a.client.GetOrder(ctx, token)
	if err != nil {
		return gateway.Transaction{}, err
	}

	var status gateway.Status
	switch order.Status {
	case statusCompleted:
		status = gateway.StatusApproved
	case statusApproved:
		// Approved but not yet captured; the capture webhook settles it.
		status = gateway.StatusPending
	default:
		a.logger.Warn().Str("gateway", Name).Str("order_id", token).Str("order_status", order.Status).
			Msg("return claimed success but order is not approved")
		return gateway.Transaction{}, gateway.ErrFakeSuccess
	}

	unit := firstUnit(order.PurchaseUnits)
	return a.transactionFromUnit(unit, unit.Amount, status, "", token)
}

// Refund refunds a settled capture by its reference id.
func (a *Adapter) Refund(ctx context.Context, req gateway.RefundRequest) (gateway.RefundResult, error) {
	capture, err := a.client.GetCapture(ctx, req.ReferenceID)
	if err != nil {
		return gateway.RefundResult{}, err
	}
	if capture.Status == "" {
		return gateway.RefundResult{}, gateway.NewRemoteError(Name, "refund",
			fmt.Errorf("capture %s not found", req.ReferenceID))
	}
	var amount *Money
	if !req.Amount.IsZero() && capture.Amount != nil {
		amount = &Money{
			CurrencyCode: capture.Amount.CurrencyCode,
			Value:        gateway.FormatAmount(req.Amount, capture.Amount.CurrencyCode),
		}
	}
	if _, err := a.client.RefundCapture(ctx, req.ReferenceID, amount); err != nil {
		return gateway.RefundResult{}, err
	}
	return gateway.RefundResult{Status: gateway.StatusRefunded, TransactionID: req.TransactionID}, nil
}

// Void voids a pending authorization by its reference id.
func (a *Adapter) Void(ctx context.Context, req gateway.RefundRequest) (gateway.RefundResult, error) {
	if err := a.client.VoidAuthorization(ctx, req.ReferenceID); err != nil {
		return gateway.RefundResult{}, err
	}
	return gateway.RefundResult{Status: gateway.StatusVoid, TransactionID: req.TransactionID}, nil
}

// VerifyConnection creates a throwaway AUTHORIZE order to prove the
// credentials work; the order is never captured.
func (a *Adapter) VerifyConnection(ctx context.Context) error {
	order, err := a.client.CreateOrder(ctx, OrderRequest{
		Intent: "AUTHORIZE",
		PurchaseUnits: []PurchaseUnit{{
			Description:    "Connectivity check",
			SoftDescriptor: softDescriptor(a.cfg.BrandName),
			Amount:         &Money{CurrencyCode: "USD", Value: "0.99"},
		}},
	})
	if err != nil {
		return err
	}
	if len(order.Links) == 0 {
		return gateway.NewRemoteError(Name, "verify_connection",
			fmt.Errorf("order response carried no links"))
	}
	return nil
}

// AckWebhook acknowledges implicitly with a bare success status.
func (a *Adapter) AckWebhook(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func (a *Adapter) transactionFromUnit(unit PurchaseUnit, amount *Money, status gateway.Status, referenceID, transactionID string) (gateway.Transaction, error) {
	if strings.TrimSpace(unit.CustomID) == "" {
		return gateway.Transaction{}, gateway.ErrMissingClientID
	}
	tx := gateway.Transaction{
		ClientID:      unit.CustomID,
		Invoices:      invoiceref.Deserialize(unit.ReferenceID),
		Status:        status,
		ReferenceID:   referenceID,
		TransactionID: transactionID,
	}
	if amount != nil {
		tx.Currency = amount.CurrencyCode
		if parsed, err := decimal.NewFromString(amount.Value); err == nil {
			tx.Amount = parsed
		}
	}
	return tx, nil
}

func firstUnit(units []PurchaseUnit) PurchaseUnit {
	if len(units) > 0 {
		return units[0]
	}
	return PurchaseUnit{}
}

func softDescriptor(brand string) string {
	clean := softDescriptorPattern.ReplaceAllString(brand, "")
	if len(clean) > 22 {
		clean = clean[:22]
	}
	return clean
}
