package resilience_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/billing-gateway/internal/resilience"
)

func TestBreakerOpensAndRecovers(t *testing.T) {
	t.Parallel()

	b := resilience.NewBreaker(2, 0.5, 20*time.Millisecond)
	require.Equal(t, resilience.Closed, b.CurrentState())

	b.Report(false)
	b.Report(false)
	require.Equal(t, resilience.Open, b.CurrentState())
	require.False(t, b.Allow())

	time.Sleep(25 * time.Millisecond)
	require.True(t, b.Allow())
	require.Equal(t, resilience.HalfOpen, b.CurrentState())

	b.Report(true)
	require.Equal(t, resilience.Closed, b.CurrentState())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	b := resilience.NewBreaker(1, 0.5, 20*time.Millisecond)
	b.Report(false)
	require.Equal(t, resilience.Open, b.CurrentState())

	time.Sleep(25 * time.Millisecond)
	require.True(t, b.Allow())
	b.Report(false)
	require.Equal(t, resilience.Open, b.CurrentState())
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cl := resilience.HTTPClient{
		Client:      srv.Client(),
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
	}
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := cl.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 3, calls.Load())
}

func TestHTTPClientDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cl := resilience.HTTPClient{
		Client:      srv.Client(),
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
	}
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := cl.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.EqualValues(t, 1, calls.Load())
}

func TestHTTPClientOpenBreaker(t *testing.T) {
	t.Parallel()

	b := resilience.NewBreaker(1, 0.5, time.Minute)
	b.Report(false)

	cl := resilience.HTTPClient{
		Client:      http.DefaultClient,
		Breaker:     b,
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
	}
	req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1:0", nil)
	require.NoError(t, err)

	_, err = cl.Do(context.Background(), req)
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
}
