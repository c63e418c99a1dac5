package gateway

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/billing-gateway/internal/invoiceref"
)

// Status is the canonical transaction status vocabulary shared by all
// adapters. Gateway-specific event vocabularies are mapped onto it by each
// adapter's normalizer.
type Status string

const (
	StatusApproved Status = "approved"
	StatusPending  Status = "pending"
	StatusVoid     Status = "void"
	StatusDeclined Status = "declined"
	StatusError    Status = "error"
	// StatusRefunded is only produced by refund operations, never by inbound
	// callbacks.
	StatusRefunded Status = "refunded"
)

// Transaction is the normalized result of a verified inbound callback. It is
// only ever constructed after signature verification succeeds, and on the
// return-redirect path additionally after a server-side status probe.
type Transaction struct {
	ClientID            string
	Amount              decimal.Decimal
	Currency            string
	Invoices            []invoiceref.Invoice
	Status              Status
	ReferenceID         string
	TransactionID       string
	ParentTransactionID string
}

// Contact carries the paying party's identity and address as supplied by the
// billing system at checkout initiation.
type Contact struct {
	ClientID  string
	FirstName string
	LastName  string
	Email     string
	Company   string
	Address1  string
	City      string
	State     string
	Country   string
	Zip       string
}

// Recurrence is a recurrence hint attached to a charge. Both current
// adapters accept it without actioning it.
type Recurrence struct {
	Amount decimal.Decimal
	Term   int
	Period string
}

// ChargeRequest is the input to BuildPayment. Amount is expected to already
// be rounded per the currency rule (see RoundAmount).
type ChargeRequest struct {
	Contact     Contact
	Amount      decimal.Decimal
	Currency    string
	Invoices    []invoiceref.Invoice
	Description string
	ReturnURL   string
	Recur       *Recurrence
}

// PaymentLink is the hosted-payment redirect produced by BuildPayment.
type PaymentLink struct {
	Gateway string
	OrderID string
	URL     string
}

// RefundRequest identifies a settled payment to refund or void.
type RefundRequest struct {
	ReferenceID   string
	TransactionID string
	Amount        decimal.Decimal
	Notes         string
}

// RefundResult reports the outcome of a refund or void operation.
type RefundResult struct {
	Status        Status
	TransactionID string
	Message       string
}
