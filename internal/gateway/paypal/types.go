package paypal

import "encoding/json"

// Money is an amount/currency pair as PayPal represents it on the wire.
type Money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

// Link is one HATEOAS link from an order response.
type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

// PurchaseUnit carries the charge details plus the opaque metadata the
// billing system round-trips through PayPal: reference_id holds the
// serialized invoice list, custom_id the paying client's id. Absent fields
// stay nil/empty rather than failing decode.
type PurchaseUnit struct {
	ReferenceID    string `json:"reference_id,omitempty"`
	CustomID       string `json:"custom_id,omitempty"`
	Description    string `json:"description,omitempty"`
	SoftDescriptor string `json:"soft_descriptor,omitempty"`
	Amount         *Money `json:"amount,omitempty"`
}

// ApplicationContext configures the hosted checkout redirect targets.
type ApplicationContext struct {
	ReturnURL string `json:"return_url,omitempty"`
	CancelURL string `json:"cancel_url,omitempty"`
}

// OrderRequest is the create-order payload.
type OrderRequest struct {
	Intent             string              `json:"intent"`
	PurchaseUnits      []PurchaseUnit      `json:"purchase_units"`
	ApplicationContext *ApplicationContext `json:"application_context,omitempty"`
}

// Order is the order resource returned by create/get/capture calls.
type Order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units,omitempty"`
	Links         []Link         `json:"links,omitempty"`
}

// RelatedIDs links a capture back to its order.
type RelatedIDs struct {
	OrderID string `json:"order_id,omitempty"`
}

// SupplementaryData is optional context attached to capture resources.
type SupplementaryData struct {
	RelatedIDs *RelatedIDs `json:"related_ids,omitempty"`
}

// Capture is the capture resource carried in PAYMENT.CAPTURE.* webhooks.
type Capture struct {
	ID                string             `json:"id"`
	Status            string             `json:"status"`
	Amount            *Money             `json:"amount,omitempty"`
	SupplementaryData *SupplementaryData `json:"supplementary_data,omitempty"`
}

// Refund is the response to a capture refund.
type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// WebhookEvent is the envelope of an inbound webhook notification. Resource
// is decoded per event type.
type WebhookEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

// Webhook event types the adapter accepts; everything else is discarded.
const (
	eventOrderApproved    = "CHECKOUT.ORDER.APPROVED"
	eventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
)

// Order and capture statuses the normalizer maps onto the canonical enum.
const (
	statusCompleted = "COMPLETED"
	statusApproved  = "APPROVED"
	statusVoided    = "VOIDED"
)
