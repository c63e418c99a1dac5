package epay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/noah-isme/billing-gateway/internal/gateway"
	"github.com/noah-isme/billing-gateway/internal/obs"
	"github.com/noah-isme/billing-gateway/internal/resilience"
)

// Client talks to the aggregator's HTTP API: mapi.php for pay-link creation
// and api.php for order status and merchant queries.
type Client struct {
	PID    string
	Key    string
	APIURL string
	HTTP   resilience.HTTPClient
	Audit  gateway.AuditSink
}

type payLinkResponse struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	PayURL string `json:"payurl"`
	QRCode string `json:"qrcode"`
}

type orderStatusResponse struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Status int    `json:"status"`
}

// MerchantInfo is the act=query response used by the connectivity probe.
type MerchantInfo struct {
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
	PID   string `json:"pid"`
	Money string `json:"money"`
}

// PayLink signs the order parameters and asks the aggregator for a hosted
// payment URL. Request and raw response are audit-logged regardless of
// outcome.
func (c *Client) PayLink(ctx context.Context, params url.Values) (string, error) {
	params.Set("pid", c.PID)
	params.Set("sign", Sign(params, c.Key))
	params.Set("sign_type", signType)

	c.audit(ctx, "paylink", "input", []byte(params.Encode()), true)

	body, err := c.postForm(ctx, "paylink", c.endpoint("mapi.php"), params)
	if err != nil {
		c.audit(ctx, "paylink", "output", []byte(err.Error()), false)
		return "", gateway.NewRemoteError(Name, "paylink", err)
	}

	var resp payLinkResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.audit(ctx, "paylink", "output", body, false)
		return "", gateway.NewRemoteError(Name, "paylink", fmt.Errorf("decode response: %w", err))
	}
	c.audit(ctx, "paylink", "output", body, resp.Code == 1)

	if resp.Code != 1 {
		return "", gateway.NewRemoteError(Name, "paylink", fmt.Errorf("gateway returned code %d: %s", resp.Code, resp.Msg))
	}
	link := resp.PayURL
	if link == "" {
		link = resp.QRCode
	}
	if link == "" {
		return "", gateway.NewRemoteError(Name, "paylink", fmt.Errorf("gateway returned no payment url"))
	}
	return link, nil
}

// OrderStatus re-queries the aggregator by its trade number. Only a response
// reporting a completed payment counts as paid.
func (c *Client) OrderStatus(ctx context.Context, tradeNo string) (bool, error) {
	if strings.TrimSpace(tradeNo) == "" {
		return false, gateway.ErrMissingTransaction
	}
	query := url.Values{}
	query.Set("act", "order")
	query.Set("pid", c.PID)
	query.Set("key", c.Key)
	query.Set("trade_no", tradeNo)

	body, err := c.get(ctx, "order_status", c.endpoint("api.php"), query)
	if err != nil {
		return false, gateway.NewRemoteError(Name, "order_status", err)
	}
	c.audit(ctx, "order_status", "output", body, true)

	var resp orderStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, gateway.NewRemoteError(Name, "order_status", fmt.Errorf("decode response: %w", err))
	}
	return resp.Code == 1 && resp.Status == 1, nil
}

// QueryMerchant fetches merchant account info with the configured
// credentials; used as the settings-validation connectivity probe.
func (c *Client) QueryMerchant(ctx context.Context) (MerchantInfo, error) {
	query := url.Values{}
	query.Set("act", "query")
	query.Set("pid", c.PID)
	query.Set("key", c.Key)

	body, err := c.get(ctx, "query_merchant", c.endpoint("api.php"), query)
	if err != nil {
		return MerchantInfo{}, gateway.NewRemoteError(Name, "query_merchant", err)
	}

	var info MerchantInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return MerchantInfo{}, gateway.NewRemoteError(Name, "query_merchant", fmt.Errorf("decode response: %w", err))
	}
	return info, nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.APIURL, "/") + "/" + path
}

func (c *Client) postForm(ctx context.Context, op, endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(ctx, op, req)
}

func (c *Client) get(ctx context.Context, op, endpoint string, query url.Values) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, op, req)
}

func (c *Client) do(ctx context.Context, op string, req *http.Request) ([]byte, error) {
	start := time.Now()
	resp, err := c.HTTP.Do(ctx, req)
	obs.ObserveRemoteCall(Name, op, start)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (c *Client) audit(ctx context.Context, op, direction string, payload []byte, success bool) {
	if c.Audit == nil {
		return
	}
	c.Audit.Append(ctx, gateway.AuditEntry{
		Gateway:   Name,
		Operation: op,
		Direction: direction,
		Payload:   payload,
		Success:   success,
	})
}
