package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/billing-gateway/internal/gateway"
	"github.com/noah-isme/billing-gateway/internal/obs"
	"github.com/noah-isme/billing-gateway/internal/resilience"
)

const (
	liveBaseURL    = "https://api-m.paypal.com"
	sandboxBaseURL = "https://api-m.sandbox.paypal.com"
)

// Client is a minimal PayPal REST client covering the order, capture and
// webhook-verification endpoints the adapter needs. Access tokens are cached
// until shortly before expiry.
type Client struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	HTTP         resilience.HTTPClient
	Audit        gateway.AuditSink

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// BaseEndpoint resolves the configured base URL, defaulting by environment.
func BaseEndpoint(baseURL string, sandbox bool) string {
	if strings.TrimSpace(baseURL) != "" {
		return strings.TrimRight(baseURL, "/")
	}
	if sandbox {
		return sandboxBaseURL
	}
	return liveBaseURL
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// CreateOrder creates a checkout order.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	var order Order
	if err := c.doJSON(ctx, http.MethodPost, "/v2/checkout/orders", "create_order", req, &order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// GetOrder fetches an order by id.
func (c *Client) GetOrder(ctx context.Context, id string) (Order, error) {
	var order Order
	if err := c.doJSON(ctx, http.MethodGet, "/v2/checkout/orders/"+id, "get_order", nil, &order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// CaptureOrder finalizes an approved order into a settled charge.
func (c *Client) CaptureOrder(ctx context.Context, id string) (Order, error) {
	var order Order
	if err := c.doJSON(ctx, http.MethodPost, "/v2/checkout/orders/"+id+"/capture", "capture", struct{}{}, &order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// GetCapture fetches a settled capture by id.
func (c *Client) GetCapture(ctx context.Context, id string) (Capture, error) {
	var capture Capture
	if err := c.doJSON(ctx, http.MethodGet, "/v2/payments/captures/"+id, "get_capture", nil, &capture); err != nil {
		return Capture{}, err
	}
	return capture, nil
}

// RefundCapture refunds a capture, optionally for a partial amount.
func (c *Client) RefundCapture(ctx context.Context, captureID string, amount *Money) (Refund, error) {
	payload := struct {
		Amount *Money `json:"amount,omitempty"`
	}{Amount: amount}
	var refund Refund
	if err := c.doJSON(ctx, http.MethodPost, "/v2/payments/captures/"+captureID+"/refund", "refund", payload, &refund); err != nil {
		return Refund{}, err
	}
	return refund, nil
}

// VoidAuthorization voids a pending authorization.
func (c *Client) VoidAuthorization(ctx context.Context, authorizationID string) error {
	return c.doJSON(ctx, http.MethodPost, "/v2/payments/authorizations/"+authorizationID+"/void", "void", struct{}{}, nil)
}

// SignatureHeaders carries the transmission headers PayPal attaches to every
// webhook delivery.
type SignatureHeaders struct {
	TransmissionID   string
	TransmissionTime string
	TransmissionSig  string
	CertURL          string
	AuthAlgo         string
}

// SignatureHeadersFromRequest extracts the verification headers.
func SignatureHeadersFromRequest(r *http.Request) SignatureHeaders {
	return SignatureHeaders{
		TransmissionID:   r.Header.Get("Paypal-Transmission-Id"),
		TransmissionTime: r.Header.Get("Paypal-Transmission-Time"),
		TransmissionSig:  r.Header.Get("Paypal-Transmission-Sig"),
		CertURL:          r.Header.Get("Paypal-Cert-Url"),
		AuthAlgo:         r.Header.Get("Paypal-Auth-Algo"),
	}
}

// VerifyWebhookSignature asks PayPal to confirm a webhook delivery was
// genuinely issued for the given webhook id.
func (c *Client) VerifyWebhookSignature(ctx context.Context, webhookID string, headers SignatureHeaders, event json.RawMessage) (bool, error) {
	payload := map[string]any{
		"transmission_id":   headers.TransmissionID,
		"transmission_time": headers.TransmissionTime,
		"transmission_sig":  headers.TransmissionSig,
		"cert_url":          headers.CertURL,
		"auth_algo":         headers.AuthAlgo,
		"webhook_id":        webhookID,
		"webhook_event":     event,
	}
	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", "verify_webhook", payload, &result); err != nil {
		return false, err
	}
	return result.VerificationStatus == "SUCCESS", nil
}

func (c *Client) doJSON(ctx context.Context, method, path, op string, in, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return gateway.NewRemoteError(Name, op, err)
	}

	var body io.Reader
	var rawIn []byte
	if in != nil {
		rawIn, err = json.Marshal(in)
		if err != nil {
			return gateway.NewRemoteError(Name, op, err)
		}
		body = bytes.NewReader(rawIn)
	}
	req, err := http.NewRequest(method, c.baseURL()+path, body)
	if err != nil {
		return gateway.NewRemoteError(Name, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.audit(ctx, op, "input", rawIn, true)

	start := time.Now()
	resp, err := c.HTTP.Do(ctx, req)
	obs.ObserveRemoteCall(Name, op, start)
	if err != nil {
		c.audit(ctx, op, "output", []byte(err.Error()), false)
		return gateway.NewRemoteError(Name, op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gateway.NewRemoteError(Name, op, err)
	}
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	c.audit(ctx, op, "output", raw, ok)
	if !ok {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Name != "" {
			return gateway.NewRemoteError(Name, op, fmt.Errorf("%s: %s", apiErr.Name, apiErr.Message))
		}
		return gateway.NewRemoteError(Name, op, fmt.Errorf("unexpected status %s", resp.Status))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return gateway.NewRemoteError(Name, op, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL()+"/v1/oauth2/token",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.ClientID, c.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.HTTP.Do(ctx, req)
	obs.ObserveRemoteCall(Name, "oauth_token", start)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed with status %s", resp.Status)
	}
	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token response missing access token")
	}
	c.accessToken = tr.AccessToken
	// Renew a minute before the reported expiry.
	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl > 2*time.Minute {
		ttl -= time.Minute
	}
	c.tokenExpiry = time.Now().Add(ttl)
	return c.accessToken, nil
}

func (c *Client) baseURL() string {
	return strings.TrimRight(c.BaseURL, "/")
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
