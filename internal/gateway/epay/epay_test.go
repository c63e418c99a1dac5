package epay_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/billing-gateway/internal/gateway"
	"github.com/noah-isme/billing-gateway/internal/gateway/epay"
	"github.com/noah-isme/billing-gateway/internal/invoiceref"
	"github.com/noah-isme/billing-gateway/internal/resilience"
)

// fakeAggregator implements just enough of the remote API for the adapter.
type fakeAggregator struct {
	paid         bool
	payLinkCode  int
	merchantCode int
	lastPayForm  url.Values
}

func (f *fakeAggregator) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/mapi.php", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.lastPayForm = r.PostForm
		code := f.payLinkCode
		if code == 0 {
			code = 1
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code":   code,
			"msg":    "ok",
			"payurl": "https://pay.example.com/cashier?order=xyz",
		})
	})
	mux.HandleFunc("/api.php", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("act") {
		case "order":
			status := 0
			if f.paid {
				status = 1
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 1, "status": status})
		case "query":
			code := f.merchantCode
			if code == 0 {
				code = 1
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "msg": "query", "pid": "1001"})
		default:
			http.NotFound(w, r)
		}
	})
	return mux
}

func newAdapter(t *testing.T, srv *httptest.Server) *epay.Adapter {
	t.Helper()
	client := &epay.Client{
		PID:    "1001",
		Key:    testKey,
		APIURL: srv.URL,
		HTTP:   resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1},
		Audit:  gateway.NopAudit{},
	}
	cfg := epay.Config{
		PID:       "1001",
		Key:       testKey,
		APIURL:    srv.URL,
		NotifyURL: "https://billing.example.com/api/v1/webhooks/payment/epay",
		ReturnURL: "https://billing.example.com/api/v1/payments/return/epay",
	}
	return epay.New(cfg, client, zerolog.Nop())
}

func TestBuildPayment(t *testing.T) {
	t.Parallel()

	remote := &fakeAggregator{}
	srv := httptest.NewServer(remote.handler(t))
	defer srv.Close()

	adapter := newAdapter(t, srv)
	amount := decimal.RequireFromString("19.99")
	link, err := adapter.BuildPayment(context.Background(), gateway.ChargeRequest{
		Contact:     gateway.Contact{ClientID: "7"},
		Amount:      amount,
		Currency:    "CNY",
		Invoices:    []invoiceref.Invoice{{ID: "42", Amount: amount}},
		Description: "HK VPS Value Plan",
	})
	require.NoError(t, err)
	require.Equal(t, "epay", link.Gateway)
	require.Equal(t, "42", link.OrderID)
	require.Equal(t, "https://pay.example.com/cashier?order=xyz", link.URL)

	require.Equal(t, "42", remote.lastPayForm.Get("out_trade_no"))
	require.Equal(t, "19.99", remote.lastPayForm.Get("money"))
	require.Equal(t, "client_id=7", remote.lastPayForm.Get("param"))
	require.NotEmpty(t, remote.lastPayForm.Get("sign"))
	require.Equal(t, "MD5", remote.lastPayForm.Get("sign_type"))
}

func TestBuildPaymentRejectsMultipleInvoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer((&fakeAggregator{}).handler(t))
	defer srv.Close()

	adapter := newAdapter(t, srv)
	amount := decimal.RequireFromString("10")
	_, err := adapter.BuildPayment(context.Background(), gateway.ChargeRequest{
		Contact:  gateway.Contact{ClientID: "7"},
		Amount:   amount,
		Currency: "CNY",
		Invoices: []invoiceref.Invoice{
			{ID: "1", Amount: amount},
			{ID: "2", Amount: amount},
		},
	})
	require.Error(t, err)
}

func TestBuildPaymentRejectsForeignCurrency(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer((&fakeAggregator{}).handler(t))
	defer srv.Close()

	adapter := newAdapter(t, srv)
	amount := decimal.RequireFromString("10")
	_, err := adapter.BuildPayment(context.Background(), gateway.ChargeRequest{
		Contact:  gateway.Contact{ClientID: "7"},
		Amount:   amount,
		Currency: "USD",
		Invoices: []invoiceref.Invoice{{ID: "1", Amount: amount}},
	})
	require.Error(t, err)
}

func webhookRequest(t *testing.T, params url.Values) *http.Request {
	t.Helper()
	return httptest.NewRequest(http.MethodGet, "/webhook?"+params.Encode(), nil)
}

func TestWebhookAcceptsTradeSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer((&fakeAggregator{}).handler(t))
	defer srv.Close()

	adapter := newAdapter(t, srv)
	params := signedParams(t, nil)

	tx, err := adapter.Webhook(context.Background(), webhookRequest(t, params), nil)
	require.NoError(t, err)
	require.Equal(t, gateway.StatusApproved, tx.Status)
	require.Equal(t, "7", tx.ClientID)
	require.Equal(t, "CNY", tx.Currency)
	require.Equal(t, "2024112822001", tx.TransactionID)
	require.True(t, decimal.RequireFromString("19.99").Equal(tx.Amount))
	require.Len(t, tx.Invoices, 1)
	require.Equal(t, "42", tx.Invoices[0].ID)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer((&fakeAggregator{}).handler(t))
	defer srv.Close()

	adapter := newAdapter(t, srv)
	params := signedParams(t, nil)
	params.Set("money", "0.01") // tamper after signing

	_, err := adapter.Webhook(context.Background(), webhookRequest(t, params), nil)
	require.ErrorIs(t, err, gateway.ErrInvalidSignature)
}

func TestWebhookRejectsUnsupportedEvent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer((&fakeAggregator{}).handler(t))
	defer srv.Close()

	adapter := newAdapter(t, srv)
	params := signedParams(t, map[string]string{"trade_status": "WAIT_BUYER_PAY"})

	_, err := adapter.Webhook(context.Background(), webhookRequest(t, params), nil)
	require.ErrorIs(t, err, gateway.ErrUnsupportedEvent)
}

func TestWebhookRejectsMissingClientID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer((&fakeAggregator{}).handler(t))
	defer srv.Close()

	adapter := newAdapter(t, srv)
	params := signedParams(t, map[string]string{"param": "nothing_useful"})

	_, err := adapter.Webhook(context.Background(), webhookRequest(t, params), nil)
	require.ErrorIs(t, err, gateway.ErrMissingClientID)
}

func TestReturnRejectsFakeSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer((&fakeAggregator{paid: false}).handler(t))
	defer srv.Close()

	adapter := newAdapter(t, srv)
	params := signedParams(t, nil)

	_, err := adapter.Return(context.Background(), params)
	require.ErrorIs(t, err, gateway.ErrFakeSuccess)
}

func TestReturnAcceptsConfirmedPayment(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer((&fakeAggregator{paid: true}).handler(t))
	defer srv.Close()

	adapter := newAdapter(t, srv)
	params := signedParams(t, nil)

	tx, err := adapter.Return(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, gateway.StatusApproved, tx.Status)
	require.Equal(t, "2024112822001", tx.TransactionID)
}

func TestRefundAndVoidUnsupported(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer((&fakeAggregator{}).handler(t))
	defer srv.Close()

	adapter := newAdapter(t, srv)
	_, err := adapter.Refund(context.Background(), gateway.RefundRequest{})
	require.ErrorIs(t, err, gateway.ErrUnsupportedOperation)
	_, err = adapter.Void(context.Background(), gateway.RefundRequest{})
	require.ErrorIs(t, err, gateway.ErrUnsupportedOperation)
}

func TestVerifyConnection(t *testing.T) {
	t.Parallel()

	t.Run("valid credentials", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer((&fakeAggregator{merchantCode: 1}).handler(t))
		defer srv.Close()
		require.NoError(t, newAdapter(t, srv).VerifyConnection(context.Background()))
	})

	t.Run("invalid credentials", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer((&fakeAggregator{merchantCode: -3}).handler(t))
		defer srv.Close()
		err := newAdapter(t, srv).VerifyConnection(context.Background())
		require.Error(t, err)
		require.Contains(t, err.Error(), "-3")
	})
}

func TestAckWebhookWritesSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer((&fakeAggregator{}).handler(t))
	defer srv.Close()

	rr := httptest.NewRecorder()
	newAdapter(t, srv).AckWebhook(rr)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "success", rr.Body.String())
}
