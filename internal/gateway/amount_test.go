package gateway_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/billing-gateway/internal/gateway"
)

func TestRoundAmount(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		amount   string
		currency string
		want     string
	}{
		{name: "zero-decimal rounds up", amount: "19.99", currency: "JPY", want: "20"},
		{name: "zero-decimal rounds down", amount: "19.49", currency: "HUF", want: "19"},
		{name: "zero-decimal taiwan dollar", amount: "100.5", currency: "TWD", want: "101"},
		{name: "two-decimal rounds thousandths", amount: "19.999", currency: "USD", want: "20.00"},
		{name: "two-decimal keeps cents", amount: "19.99", currency: "CNY", want: "19.99"},
		{name: "currency case insensitive", amount: "7.6", currency: "jpy", want: "8"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			amount, err := decimal.NewFromString(tc.amount)
			require.NoError(t, err)
			require.Equal(t, tc.want, gateway.FormatAmount(amount, tc.currency))
		})
	}
}

func TestRegistryLookup(t *testing.T) {
	t.Parallel()

	reg := gateway.Registry{}
	_, ok := reg.Lookup("epay")
	require.False(t, ok)
}
