// Package config loads service configuration from the environment and
// optional .env files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// PayPalConfig holds the PayPal Checkout REST credentials.
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	BrandName    string
	Sandbox      bool
}

// EPayConfig holds the aggregator merchant credentials.
type EPayConfig struct {
	PID    string
	Key    string
	APIURL string
}

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CallbackBaseURL    string
	CORSAllowedOrigins []string

	PayPal PayPalConfig
	EPay   EPayConfig

	ReplayTTL         time.Duration
	ReturnRateWindow  time.Duration
	ReturnRateMax     int
	GatewayTimeout    time.Duration
	GatewayMaxRetries int

	LogFormat string
	LogLevel  string

	TracingExporter string
	TracingEndpoint string
	TracingRatio    float64

	MetricsBuckets string
	PprofEnabled   bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CallbackBaseURL:    strings.TrimRight(k.String("CALLBACK_BASE_URL"), "/"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		PayPal: PayPalConfig{
			ClientID:     k.String("PAYPAL_CLIENT_ID"),
			ClientSecret: k.String("PAYPAL_CLIENT_SECRET"),
			WebhookID:    k.String("PAYPAL_WEBHOOK_ID"),
			BrandName:    k.String("PAYPAL_BRAND_NAME"),
			Sandbox:      parseBool(k.String("PAYPAL_SANDBOX")),
		},
		EPay: EPayConfig{
			PID:    k.String("EPAY_PID"),
			Key:    k.String("EPAY_KEY"),
			APIURL: strings.TrimRight(k.String("EPAY_API_URL"), "/"),
		},
		ReplayTTL:         parseDuration(k.String("CALLBACK_REPLAY_TTL"), "24h"),
		ReturnRateWindow:  parseDuration(k.String("RETURN_RATE_WINDOW"), "1m"),
		ReturnRateMax:     parseInt(k.String("RETURN_RATE_MAX"), 30),
		GatewayTimeout:    parseDuration(k.String("GATEWAY_TIMEOUT"), "30s"),
		GatewayMaxRetries: parseInt(k.String("GATEWAY_MAX_RETRIES"), 3),
		LogFormat:         valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:          valueOrDefault(k.String("LOG_LEVEL"), "info"),
		TracingExporter:   valueOrDefault(k.String("TRACING_EXPORTER"), "none"),
		TracingEndpoint:   k.String("TRACING_ENDPOINT"),
		TracingRatio:      k.Float64("TRACING_RATIO"),
		MetricsBuckets:    k.String("METRICS_BUCKETS_MS"),
		PprofEnabled:      parseBool(k.String("PPROF_ENABLED")),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.CallbackBaseURL == "" {
		return nil, errors.New("CALLBACK_BASE_URL is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(trimmed, "%d", &n); err != nil || n < 0 {
		return fallback
	}
	return n
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
