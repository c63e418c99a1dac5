package obs_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/billing-gateway/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("billing", []float64{1, 10}, registry)
	handler := obs.HTTPObs{Metrics: metrics}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/readyz"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNoContent, rr.Code)

	total := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/readyz", "204"))
	require.Equal(t, 1.0, total)

	require.NotZero(t, testutil.CollectAndCount(metrics.ReqDur))
	require.Zero(t, testutil.ToFloat64(metrics.InFlight))
}

func TestStatusRecorderDefaults(t *testing.T) {
	rr := httptest.NewRecorder()
	recorder := obs.NewStatusRecorder(rr)

	n, err := recorder.Write([]byte("ok"))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, http.StatusOK, recorder.Status())
	require.Equal(t, int64(2), recorder.BytesWritten())
}

func TestObserveRemoteCall(t *testing.T) {
	// Before registration the helper is a no-op.
	obs.ObserveRemoteCall("epay", "paylink", time.Now())

	obs.MustRegisterDomainMetrics("billing", prometheus.NewRegistry())
	obs.ObserveRemoteCall("epay", "paylink", time.Now())
	obs.ObserveRemoteCall("paypal_checkout", "oauth_token", time.Now())
	require.Equal(t, 2, testutil.CollectAndCount(obs.RemoteCallLatency))
}

func TestParseBucketsCSV(t *testing.T) {
	require.Equal(t, []float64{5, 50, 500}, obs.ParseBucketsCSV("5, 50,500"))
	require.Nil(t, obs.ParseBucketsCSV("  "))
	require.Empty(t, obs.ParseBucketsCSV("-1,abc"))
}
