package gateway

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies are currencies whose minor unit the gateways do not
// accept; amounts are rounded to whole units before being sent.
var zeroDecimalCurrencies = map[string]struct{}{
	"HUF": {},
	"JPY": {},
	"TWD": {},
}

// RoundAmount rounds amount per the currency rule: zero-decimal currencies
// round to whole units, everything else to two decimal places.
func RoundAmount(amount decimal.Decimal, currency string) decimal.Decimal {
	if IsZeroDecimal(currency) {
		return amount.Round(0)
	}
	return amount.Round(2)
}

// IsZeroDecimal reports whether the currency has no minor unit.
func IsZeroDecimal(currency string) bool {
	_, ok := zeroDecimalCurrencies[strings.ToUpper(strings.TrimSpace(currency))]
	return ok
}

// FormatAmount renders a rounded amount the way the remote gateways expect
// it on the wire: no decimals for zero-decimal currencies, two otherwise.
func FormatAmount(amount decimal.Decimal, currency string) string {
	if IsZeroDecimal(currency) {
		return RoundAmount(amount, currency).StringFixed(0)
	}
	return RoundAmount(amount, currency).StringFixed(2)
}
