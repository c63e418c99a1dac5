package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/billing-gateway/internal/callback"
	"github.com/noah-isme/billing-gateway/internal/checkout"
	"github.com/noah-isme/billing-gateway/internal/config"
	"github.com/noah-isme/billing-gateway/internal/events"
	"github.com/noah-isme/billing-gateway/internal/gateway"
	"github.com/noah-isme/billing-gateway/internal/gateway/epay"
	"github.com/noah-isme/billing-gateway/internal/gateway/paypal"
	"github.com/noah-isme/billing-gateway/internal/health"
	"github.com/noah-isme/billing-gateway/internal/obs"
	"github.com/noah-isme/billing-gateway/internal/ratelimit"
	"github.com/noah-isme/billing-gateway/internal/resilience"
	"github.com/noah-isme/billing-gateway/internal/settings"
	"github.com/noah-isme/billing-gateway/internal/store"
)

const serviceName = "billing-gateway"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics("billing", nil)

	tracerShutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
		ServiceName:   serviceName,
		Endpoint:      cfg.TracingEndpoint,
		Exporter:      cfg.TracingExporter,
		SamplingRatio: cfg.TracingRatio,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise tracing")
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("shutdown tracer")
		}
	}()

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = serviceName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	db := store.New(pool, logger)

	bus := &events.Bus{Notifiers: []events.Notifier{
		events.LogNotifier{Logger: logger},
		events.NewMetricsNotifier(prometheus.DefaultRegisterer),
	}}

	registry := gateway.Registry{}
	if cfg.EPay.PID != "" {
		adapter := epay.New(epay.Config{
			PID:       cfg.EPay.PID,
			Key:       cfg.EPay.Key,
			APIURL:    cfg.EPay.APIURL,
			NotifyURL: cfg.CallbackBaseURL + "/api/v1/webhooks/payment/" + epay.Name,
			ReturnURL: cfg.CallbackBaseURL + "/api/v1/payments/return/" + epay.Name,
		}, newEPayClient(cfg, cfg.EPay, db), logger)
		registry[epay.Name] = adapter
	}
	if cfg.PayPal.ClientID != "" {
		adapter := paypal.New(paypal.Config{
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
			WebhookID:    cfg.PayPal.WebhookID,
			BrandName:    cfg.PayPal.BrandName,
			Sandbox:      cfg.PayPal.Sandbox,
		}, newPayPalClient(cfg, cfg.PayPal, db), logger)
		registry[paypal.Name] = adapter
	}

	validate := validator.New()

	checkoutSvc := &checkout.Service{
		Gateways:        registry,
		CallbackBaseURL: cfg.CallbackBaseURL,
		Store:           db,
		Events:          bus,
		Validate:        validate,
		Logger:          logger,
	}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc}

	webhookHandler := callback.Webhook{
		Gateways:  registry,
		Store:     db,
		Replay:    redisClient,
		ReplayTTL: cfg.ReplayTTL,
		Events:    bus,
		Logger:    logger,
	}
	returnHandler := callback.Return{
		Gateways: registry,
		Store:    db,
		Events:   bus,
		Logger:   logger,
	}
	returnLimiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:return:"},
		Config: ratelimit.Config{
			Key:    ratelimit.KeyByClientIP,
			Window: cfg.ReturnRateWindow,
			Max:    cfg.ReturnRateMax,
		},
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("rate limiter unavailable")
		},
	}

	settingsSvc := &settings.Service{
		Rules:    settings.DefaultRules(),
		Validate: validate,
		Factories: map[string]settings.Factory{
			epay.Name: func(fields map[string]string) (settings.Prober, error) {
				sub := config.EPayConfig{
					PID:    fields["pid"],
					Key:    fields["key"],
					APIURL: strings.TrimRight(fields["api_url"], "/"),
				}
				return epay.New(epay.Config{PID: sub.PID, Key: sub.Key, APIURL: sub.APIURL},
					newEPayClient(cfg, sub, gateway.NopAudit{}), logger), nil
			},
			paypal.Name: func(fields map[string]string) (settings.Prober, error) {
				sub := config.PayPalConfig{
					ClientID:     fields["client_id"],
					ClientSecret: fields["client_secret"],
					Sandbox:      fields["sandbox"] == "true",
				}
				return paypal.New(paypal.Config{
					ClientID:     sub.ClientID,
					ClientSecret: sub.ClientSecret,
					Sandbox:      sub.Sandbox,
				}, newPayPalClient(cfg, sub, gateway.NopAudit{}), logger), nil
			},
		},
	}
	settingsHandler := &settings.Handler{Svc: settingsSvc}

	httpMetrics := obs.NewHTTPMetrics("billing", obs.ParseBucketsCSV(cfg.MetricsBuckets), nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.TracingExporter != "none" {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	if cfg.PprofEnabled {
		user := strings.TrimSpace(os.Getenv("PPROF_BASIC_AUTH_USER"))
		pass := strings.TrimSpace(os.Getenv("PPROF_BASIC_AUTH_PASS"))
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker: readinessChecker{db: pool, redis: redisClient},
	}
	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Post("/payments/link", checkoutHandler.PaymentLink)
		v.Post("/payments/{gateway}/refund", checkoutHandler.Refund)
		v.Post("/payments/{gateway}/void", checkoutHandler.Void)
		v.With(returnLimiter.Middleware).Get("/payments/return/{gateway}", returnHandler.Handle)
		// EPay notifies via GET with query parameters, PayPal via POST.
		v.Post("/webhooks/payment/{gateway}", webhookHandler.Handle)
		v.Get("/webhooks/payment/{gateway}", webhookHandler.Handle)
		v.Post("/settings/{gateway}/validate", settingsHandler.Check)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		health.SetReady(false)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}
}

func newEPayClient(cfg *config.Config, creds config.EPayConfig, audit gateway.AuditSink) *epay.Client {
	return &epay.Client{
		PID:    creds.PID,
		Key:    creds.Key,
		APIURL: creds.APIURL,
		HTTP:   newGatewayHTTP(cfg),
		Audit:  audit,
	}
}

func newPayPalClient(cfg *config.Config, creds config.PayPalConfig, audit gateway.AuditSink) *paypal.Client {
	return &paypal.Client{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		BaseURL:      paypal.BaseEndpoint("", creds.Sandbox),
		HTTP:         newGatewayHTTP(cfg),
		Audit:        audit,
	}
}

func newGatewayHTTP(cfg *config.Config) resilience.HTTPClient {
	return resilience.HTTPClient{
		Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Breaker:     resilience.NewBreaker(10, 0.5, 30*time.Second),
		MaxAttempts: cfg.GatewayMaxRetries,
		BaseBackoff: 200 * time.Millisecond,
		Jitter:      0.2,
		Timeout:     cfg.GatewayTimeout,
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
