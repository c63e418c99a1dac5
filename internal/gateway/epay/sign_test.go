package epay_test

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/billing-gateway/internal/gateway/epay"
)

const testKey = "shhh-merchant-key"

func signedParams(t *testing.T, overrides map[string]string) url.Values {
	t.Helper()
	params := url.Values{}
	params.Set("pid", "1001")
	params.Set("trade_no", "2024112822001")
	params.Set("out_trade_no", "42")
	params.Set("type", "alipay")
	params.Set("name", "HK VPS Value Plan")
	params.Set("money", "19.99")
	params.Set("trade_status", "TRADE_SUCCESS")
	params.Set("param", "client_id=7")
	for k, v := range overrides {
		params.Set(k, v)
	}
	params.Set("sign", epay.Sign(params, testKey))
	params.Set("sign_type", "MD5")
	return params
}

func TestVerifyAcceptsOwnSignature(t *testing.T) {
	t.Parallel()

	params := signedParams(t, nil)
	require.True(t, epay.Verify(params, testKey))
}

func TestVerifyRejectsTamperedParams(t *testing.T) {
	t.Parallel()

	params := signedParams(t, nil)
	params.Set("money", "0.01")
	require.False(t, epay.Verify(params, testKey))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	t.Parallel()

	params := signedParams(t, nil)
	require.False(t, epay.Verify(params, "other-key"))
}

func TestVerifyRejectsMissingSign(t *testing.T) {
	t.Parallel()

	params := signedParams(t, nil)
	params.Del("sign")
	require.False(t, epay.Verify(params, testKey))
}

func TestSignIgnoresSignatureAndEmptyFields(t *testing.T) {
	t.Parallel()

	params := url.Values{}
	params.Set("b", "2")
	params.Set("a", "1")
	base := epay.Sign(params, testKey)

	params.Set("sign", "garbage")
	params.Set("sign_type", "MD5")
	params.Set("empty", "")
	require.Equal(t, base, epay.Sign(params, testKey))
}
