// Package epay implements the Gateway contract for a Chinese third-party
// payment aggregator ("EPay"). The aggregator fronts Alipay, WeChat Pay,
// Union Pay and similar rails behind a hosted payment page; callbacks are
// authenticated with an MD5 keyed digest over the query parameters.
package epay

import (
	"context"
	"errors"
	"fmt"
	"io"
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
const Name = "epay"

// tradeSuccess is the only trade_status the adapter accepts.
const tradeSuccess = "TRADE_SUCCESS"

// The aggregator settles exclusively in RMB.
const currencyCNY = "CNY"

var clientIDPattern = regexp.MustCompile(`client_id=(\d+)`)

// Config carries the merchant credentials and the callback endpoints handed
// to the aggregator on every order. Callback URLs are explicit configuration,
// not ambient state.
type Config struct {
	PID       string
	Key       string
	APIURL    string
	NotifyURL string
	ReturnURL string
}

// Adapter implements gateway.Gateway against the aggregator API.
type Adapter struct {
	cfg    Config
	client *Client
	logger zerolog.Logger
}

// New constructs an adapter from config, an outbound HTTP client and an
// audit sink.
func New(cfg Config, client *Client, logger zerolog.Logger) *Adapter {
	return &Adapter{cfg: cfg, client: client, logger: logger}
}

// Name implements gateway.Gateway.
func (a *Adapter) Name() string { return Name }

// BuildPayment collects the order parameters and asks the aggregator for a
// hosted payment link. The aggregator supports exactly one invoice per
// transaction and settles only in RMB.
func (a *Adapter) BuildPayment(ctx context.Context, req gateway.ChargeRequest) (gateway.PaymentLink, error) {
	if !strings.EqualFold(req.Currency, currencyCNY) {
		return gateway.PaymentLink{}, fmt.Errorf("epay: unsupported currency %q, only CNY is accepted", req.Currency)
	}
	if len(req.Invoices) != 1 {
		return gateway.PaymentLink{}, errors.New("epay: exactly one invoice per transaction is supported")
	}
	outTradeNo := req.Invoices[0].ID

	params := url.Values{}
	// type is left empty so the hosted page lets the payer pick the rail.
	params.Set("type", "")
	params.Set("notify_url", a.cfg.NotifyURL)
	params.Set("return_url", a.returnURL(req.Contact.ClientID))
	params.Set("out_trade_no", outTradeNo)
	params.Set("name", req.Description)
	params.Set("money", gateway.FormatAmount(req.Amount, currencyCNY))
	params.Set("param", "client_id="+req.Contact.ClientID)

	link, err := a.client.PayLink(ctx, params)
	if err != nil {
		return gateway.PaymentLink{}, err
	}
	a.logger.Info().Str("gateway", Name).Str("out_trade_no", outTradeNo).Msg("payment link created")
	return gateway.PaymentLink{Gateway: Name, OrderID: outTradeNo, URL: link}, nil
}

// Webhook verifies and normalizes an asynchronous notification. The
// aggregator delivers notifications as query parameters on a GET, but form
// bodies are merged in as well for POST deliveries.
func (a *Adapter) Webhook(ctx context.Context, r *http.Request, body []byte) (gateway.Transaction, error) {
	params := callbackParams(r, body)
	return a.normalize(ctx, params, false)
}

// Return verifies the browser return-redirect. The redirect is
// client-influenced, so beyond the signature check the adapter re-queries
// the aggregator and rejects anything it does not independently confirm.
func (a *Adapter) Return(ctx context.Context, params url.Values) (gateway.Transaction, error) {
	return a.normalize(ctx, params, true)
}

func (a *Adapter) normalize(ctx context.Context, params url.Values, probe bool) (gateway.Transaction, error) {
	if !Verify(params, a.cfg.Key) {
		a.logger.Warn().Str("gateway", Name).Msg("callback signature mismatch")
		return gateway.Transaction{}, gateway.ErrInvalidSignature
	}
	if params.Get("trade_status") != tradeSuccess {
		a.logger.Info().Str("gateway", Name).Str("trade_status", params.Get("trade_status")).Msg("unsupported event discarded")
		return gateway.Transaction{}, gateway.ErrUnsupportedEvent
	}
	tradeNo := params.Get("trade_no")
	if probe {
		paid, err := a.client.OrderStatus(ctx, tradeNo)
		if err != nil {
			return gateway.Transaction{}, err
		}
		if !paid {
			a.logger.Warn().Str("gateway", Name).Str("trade_no", tradeNo).Msg("return claimed success but gateway reports unpaid")
			return gateway.Transaction{}, gateway.ErrFakeSuccess
		}
	}

	clientID := extractClientID(params.Get("param"))
	if clientID == "" {
		return gateway.Transaction{}, gateway.ErrMissingClientID
	}

	var amount decimal.Decimal
	if money := strings.TrimSpace(params.Get("money")); money != "" {
		if parsed, err := decimal.NewFromString(money); err == nil {
			amount = parsed
		}
	}
	outTradeNo := params.Get("out_trade_no")

	return gateway.Transaction{
		ClientID:      clientID,
		Amount:        amount,
		Currency:      currencyCNY,
		Invoices:      []invoiceref.Invoice{{ID: outTradeNo, Amount: amount}},
		Status:        gateway.StatusApproved,
		TransactionID: tradeNo,
	}, nil
}

// Refund is not offered by the aggregator API.
func (a *Adapter) Refund(context.Context, gateway.RefundRequest) (gateway.RefundResult, error) {
	return gateway.RefundResult{}, gateway.ErrUnsupportedOperation
}

// Void is not offered by the aggregator API.
func (a *Adapter) Void(context.Context, gateway.RefundRequest) (gateway.RefundResult, error) {
	return gateway.RefundResult{}, gateway.ErrUnsupportedOperation
}

// VerifyConnection probes the merchant-info endpoint with the configured
// credentials.
func (a *Adapter) VerifyConnection(ctx context.Context) error {
	info, err := a.client.QueryMerchant(ctx)
	if err != nil {
		return err
	}
	switch info.Code {
	case 1:
		return nil
	case -3:
		return fmt.Errorf("epay: gateway returned code %d, check the merchant id and api key", info.Code)
	default:
		return fmt.Errorf("epay: gateway returned code %d: %s", info.Code, info.Msg)
	}
}

// AckWebhook answers with the literal body the aggregator polls for.
func (a *Adapter) AckWebhook(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "success")
}

func (a *Adapter) returnURL(clientID string) string {
	u := a.cfg.ReturnURL
	if strings.Contains(u, "?") {
		return u + "&client_id=" + url.QueryEscape(clientID)
	}
	return u + "?client_id=" + url.QueryEscape(clientID)
}

func extractClientID(param string) string {
	matches := clientIDPattern.FindStringSubmatch(param)
	if len(matches) == 2 {
		return matches[1]
	}
	return ""
}

func callbackParams(r *http.Request, body []byte) url.Values {
	params := url.Values{}
	for k, vs := range r.URL.Query() {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	if len(body) > 0 {
		if form, err := url.ParseQuery(string(body)); err == nil {
			for k, vs := range form {
				if params.Get(k) != "" {
					continue
				}
				for _, v := range vs {
					params.Add(k, v)
				}
			}
		}
	}
	return params
}
