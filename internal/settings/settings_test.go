package settings_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/billing-gateway/internal/settings"
)

type fakeProber struct {
	err    error
	probed bool
}

func (f *fakeProber) VerifyConnection(context.Context) error {
	f.probed = true
	return f.err
}

func newService(prober *fakeProber) *settings.Service {
	return &settings.Service{
		Rules: settings.DefaultRules(),
		Factories: map[string]settings.Factory{
			"epay": func(map[string]string) (settings.Prober, error) { return prober, nil },
		},
		Validate: validator.New(),
	}
}

func validEPayFields() map[string]string {
	return map[string]string{
		"pid":     "1001",
		"key":     "merchant-secret",
		"api_url": "https://pay.example.cn",
	}
}

func TestCheckValidCredentialsProbed(t *testing.T) {
	prober := &fakeProber{}
	svc := newService(prober)

	failed, err := svc.Check(context.Background(), "epay", validEPayFields())
	require.NoError(t, err)
	require.Empty(t, failed)
	require.True(t, prober.probed)
}

func TestCheckFieldRulesBeforeProbe(t *testing.T) {
	prober := &fakeProber{}
	svc := newService(prober)

	fields := validEPayFields()
	fields["pid"] = "not-a-number"
	fields["api_url"] = "nope"

	failed, err := svc.Check(context.Background(), "epay", fields)
	require.NoError(t, err)
	require.Contains(t, failed, "pid")
	require.Contains(t, failed, "api_url")
	// Invalid fields never reach the remote gateway.
	require.False(t, prober.probed)
}

func TestCheckProbeFailure(t *testing.T) {
	prober := &fakeProber{err: errors.New("invalid merchant credentials")}
	svc := newService(prober)

	_, err := svc.Check(context.Background(), "epay", validEPayFields())
	require.Error(t, err)
}

func TestCheckUnknownGateway(t *testing.T) {
	svc := newService(&fakeProber{})
	_, err := svc.Check(context.Background(), "missing", nil)
	require.ErrorIs(t, err, settings.ErrUnknownGateway)
}

func TestCheckPayPalWebhookIDFormat(t *testing.T) {
	svc := &settings.Service{Rules: settings.DefaultRules(), Validate: validator.New()}

	fields := map[string]string{
		"client_id":     "cid",
		"client_secret": "secret",
		"webhook_id":    "bogus",
	}
	failed, err := svc.Check(context.Background(), "paypal_checkout", fields)
	require.NoError(t, err)
	require.Contains(t, failed, "webhook_id")
}

func postCheck(h *settings.Handler, gatewayName, body string) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	router.Post("/api/v1/settings/{gateway}/validate", h.Check)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/settings/"+gatewayName+"/validate", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandlerValid(t *testing.T) {
	handler := &settings.Handler{Svc: newService(&fakeProber{})}
	rr := postCheck(handler, "epay", `{"fields":{"pid":"1001","key":"k","api_url":"https://pay.example.cn"}}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"valid":true`)
}

func TestHandlerFieldErrors(t *testing.T) {
	handler := &settings.Handler{Svc: newService(&fakeProber{})}
	rr := postCheck(handler, "epay", `{"fields":{"pid":"","key":"k","api_url":"https://pay.example.cn"}}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), `"pid"`)
}

func TestHandlerConnectionFailed(t *testing.T) {
	handler := &settings.Handler{Svc: newService(&fakeProber{err: errors.New("bad credentials")})}
	rr := postCheck(handler, "epay", `{"fields":{"pid":"1001","key":"k","api_url":"https://pay.example.cn"}}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "CONNECTION_FAILED")
}
