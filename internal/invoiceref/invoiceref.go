// Package invoiceref encodes the invoice/amount list that rides through a
// remote payment gateway as a single opaque reference string and is echoed
// back unchanged on callbacks.
package invoiceref

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Invoice pairs a billing-system invoice id with the amount applied to it.
type Invoice struct {
	ID     string          `json:"id"`
	Amount decimal.Decimal `json:"amount"`
}

// Serialize joins invoices as id=amount segments separated by pipes. An empty
// slice yields an empty string. Ids and amounts must not contain '|' or '=';
// no escaping is defined for the format.
func Serialize(invoices []Invoice) string {
	if len(invoices) == 0 {
		return ""
	}
	var b strings.Builder
	for i, inv := range invoices {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(inv.ID)
		b.WriteByte('=')
		b.WriteString(inv.Amount.String())
	}
	return b.String()
}

// Deserialize parses a reference string back into invoices. Segments without
// an '=' and segments whose amount does not parse are dropped rather than
// failing the whole callback. A wholly malformed string yields an empty slice.
func Deserialize(ref string) []Invoice {
	invoices := []Invoice{}
	if strings.TrimSpace(ref) == "" {
		return invoices
	}
	for _, segment := range strings.Split(ref, "|") {
		parts := strings.SplitN(segment, "=", 2)
		if len(parts) != 2 {
			continue
		}
		amount, err := decimal.NewFromString(parts[1])
		if err != nil {
			continue
		}
		invoices = append(invoices, Invoice{ID: parts[0], Amount: amount})
	}
	return invoices
}
