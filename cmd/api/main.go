// Package main is the entrypoint for the StayAwake API server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/stayawake/stayawake/internal/config"
	"github.com/stayawake/stayawake/internal/handler"
	"github.com/stayawake/stayawake/internal/metrics"
	"github.com/stayawake/stayawake/internal/middleware"
	"github.com/stayawake/stayawake/internal/payment"
	"github.com/stayawake/stayawake/internal/scheduler"
	"github.com/stayawake/stayawake/internal/server"
	"github.com/stayawake/stayawake/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store",
			slog.String("driver", cfg.StorageDriver),
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}

	redisClient, err := openCache(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		store.close()
		os.Exit(1)
	}

	recorder := metrics.NewPrometheus()
	policies := cfg.Plans.Policies()
	ledgerPolicy := service.LedgerPolicy{
		SignupCredit: cfg.Ledger.SignupCredit,
		TopUpAmount:  cfg.Ledger.TopUpAmount,
		MaxCredit:    cfg.Ledger.MaxCredit,
		MaxAccounts:  cfg.Ledger.MaxAccounts,
	}

	// Services
	accounts := service.NewAccountService(store, ledgerPolicy, logger, service.WithMetrics(recorder))
	ledger := service.NewLedgerService(store, ledgerPolicy, logger, service.WithMetrics(recorder))
	registry := service.NewLinkRegistry(store, policies, logger,
		service.WithMetrics(recorder),
		service.WithPrivateTargets(cfg.Scheduler.AllowPrivateTargets),
	)
	subs := service.NewSubscriptionService(store, policies, cfg.Subscription.BillingPeriod, logger, service.WithMetrics(recorder))
	times := service.NewResponseTimeService(store)

	// Payments
	provider := payment.NewManualProvider(cfg.Payment.PlanPrice, cfg.Payment.Currency, cfg.Payment.CheckoutURL)
	var dedupe payment.Deduper
	if redisClient != nil {
		dedupe = redisClient
	}
	webhooks := payment.NewWebhookProcessor(cfg.Payment.WebhookSecret, cfg.Payment.ReplayWindow, subs, dedupe, logger)
	if !webhooks.Enabled() {
		logger.Warn("payment webhooks disabled", "reason", "PAYMENT_WEBHOOK_SECRET not set")
	}

	// Handlers
	routes := handler.Routes{
		Index:         handler.New(version),
		Accounts:      handler.NewAccountHandler(accounts, signInThrottle(cfg, redisClient), logger),
		Links:         handler.NewLinkHandler(registry, times, logger),
		Subscriptions: handler.NewSubscriptionHandler(subs, logger),
		Payments:      handler.NewPaymentHandler(provider, accounts, webhooks, logger),
		Admin:         handler.NewAdminHandler(ledger, logger),
	}
	if redisClient != nil {
		routes.Health = handler.NewHealthHandler(store, cfg.StorageDriver, redisClient)
		routes.Credit = handler.NewCreditHandler(ledger, redisClient, logger)
	} else {
		routes.Health = handler.NewHealthHandler(store, cfg.StorageDriver, nil)
		routes.Credit = handler.NewCreditHandler(ledger, nil, logger)
	}
	if cfg.MetricsEnabled {
		routes.Metrics = recorder.Handler()
	}
	if cfg.AdminKeyHash != "" {
		routes.AdminAuth = middleware.AdminKey(middleware.AdminKeyConfig{Logger: logger, Hash: cfg.AdminKeyHash})
	} else {
		logger.Warn("admin endpoints disabled", "reason", "ADMIN_KEY_HASH not set")
	}

	var limiter middleware.IPRateLimiter
	if redisClient != nil {
		limiter = redisClient
	}
	r := setupRouter(routes, limiter, cfg, logger)

	srv := server.New(r, server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Registered first so they close last.
	srv.OnShutdown("store", func(context.Context) error {
		store.close()
		return nil
	})
	if redisClient != nil {
		srv.OnShutdown("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}

	if cfg.Scheduler.Enabled {
		opts := []scheduler.Option{scheduler.WithMetrics(recorder)}
		if redisClient != nil {
			opts = append(opts, scheduler.WithLease(redisClient))
		}
		var proberOpts []scheduler.ProberOption
		if cfg.Scheduler.AllowPrivateTargets {
			logger.Warn("private link targets allowed", "reason", "SCHEDULER_ALLOW_PRIVATE_TARGETS=true")
			proberOpts = append(proberOpts, scheduler.AllowPrivateTargets())
		}
		prober := scheduler.NewHTTPProber(cfg.Scheduler.ProbeTimeout, proberOpts...)
		srv.AddWorker("scheduler", scheduler.New(store, prober, policies, cfg.Scheduler, logger, opts...))
	} else {
		logger.Warn("scheduler disabled", "reason", "SCHEDULER_ENABLED=false")
	}
	srv.AddWorker("subscription_expiry", scheduler.NewExpiryJob(subs, cfg.Subscription.ExpiryInterval, logger))
	srv.AddWorker("ping_prune", scheduler.NewPruneJob(store, cfg.Retention.PingsPerLink, cfg.Retention.PruneInterval, logger, recorder))

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"version", version,
		"storage", cfg.StorageDriver,
		"redis", redisClient != nil,
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With("service", "stayawake-api")
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupRouter configures the chi router with the middleware chain and all
// routes.
func setupRouter(routes handler.Routes, limiter middleware.IPRateLimiter, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(otelhttp.NewMiddleware("stayawake-api",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/healthz" && r.URL.Path != "/readyz"
		}),
	))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	r.Use(middleware.RateLimitIP(middleware.RateLimitConfig{
		Logger:  logger,
		Limiter: limiter,
		Enabled: cfg.RateLimitEnabled,
		RPS:     cfg.RateLimitRPS,
		Burst:   cfg.RateLimitBurst,
	}))

	routes.Register(r)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
