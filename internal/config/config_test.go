package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/billing-gateway/internal/config"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":      "postgres://localhost:5432/billing",
		"REDIS_URL":         "redis://localhost:6379/0",
		"CALLBACK_BASE_URL": "https://billing.example.com/",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	require.NoError(t, err)
	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	// Trailing slash is stripped so callback URLs join cleanly.
	require.Equal(t, "https://billing.example.com", cfg.CallbackBaseURL)
	require.Equal(t, 24*time.Hour, cfg.ReplayTTL)
	require.Equal(t, 30, cfg.ReturnRateMax)
	require.Equal(t, "none", cfg.TracingExporter)
}

func TestLoadGatewayCredentials(t *testing.T) {
	env := baseEnv()
	env["PAYPAL_CLIENT_ID"] = "cid"
	env["PAYPAL_CLIENT_SECRET"] = "secret"
	env["PAYPAL_WEBHOOK_ID"] = "WH-1"
	env["PAYPAL_SANDBOX"] = "true"
	env["EPAY_PID"] = "1001"
	env["EPAY_KEY"] = "k"
	env["EPAY_API_URL"] = "https://pay.example.cn/"

	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, "cid", cfg.PayPal.ClientID)
	require.True(t, cfg.PayPal.Sandbox)
	require.Equal(t, "1001", cfg.EPay.PID)
	require.Equal(t, "https://pay.example.cn", cfg.EPay.APIURL)
}

func TestLoadRequiresCoreSettings(t *testing.T) {
	env := baseEnv()
	env["DATABASE_URL"] = ""
	_, err := config.LoadForTests(env)
	require.Error(t, err)

	env = baseEnv()
	env["CALLBACK_BASE_URL"] = ""
	_, err = config.LoadForTests(env)
	require.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["PORT"] = "9090"
	env["CALLBACK_REPLAY_TTL"] = "1h"
	env["RETURN_RATE_MAX"] = "5"
	env["CORS_ALLOWED_ORIGINS"] = "https://a.example.com, https://b.example.com"

	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr())
	require.Equal(t, time.Hour, cfg.ReplayTTL)
	require.Equal(t, 5, cfg.ReturnRateMax)
	require.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSAllowedOrigins)
}
