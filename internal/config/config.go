// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/stayawake/stayawake/internal/model"
)

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Storage backend: "postgres" or "memory"
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`
	DatabaseURL   string `env:"DATABASE_URL"`
	AutoMigrate   bool   `env:"AUTO_MIGRATE" envDefault:"true"`

	// Redis is optional. When set it backs IP rate limiting and probe leases.
	RedisURL string `env:"REDIS_URL"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Rate limiting (per client IP)
	RateLimitEnabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitRPS     int  `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst   int  `env:"RATE_LIMIT_BURST" envDefault:"40"`

	// Sign-in throttling (per email and client IP, requires Redis)
	SignInRatePerMinute int `env:"SIGNIN_RATE_PER_MINUTE" envDefault:"10"`
	SignInBurst         int `env:"SIGNIN_BURST" envDefault:"5"`

	// Startup connection attempts for Postgres and Redis
	ConnectAttempts int `env:"CONNECT_ATTEMPTS" envDefault:"5"`

	// MetricsEnabled exposes /metrics in the Prometheus format.
	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`

	Ledger       LedgerConfig
	Plans        PlanConfig
	Scheduler    SchedulerConfig
	Subscription SubscriptionConfig
	Retention    RetentionConfig
	Payment      PaymentConfig

	// AdminKeyHash is the argon2id hash of the admin key (see cmd/adminkey).
	// Admin endpoints are disabled when empty.
	AdminKeyHash string `env:"ADMIN_KEY_HASH"`
}

// LedgerConfig holds credit amounts, all in minutes.
type LedgerConfig struct {
	SignupCredit int64 `env:"SIGNUP_CREDIT" envDefault:"21600"`
	TopUpAmount  int64 `env:"TOPUP_AMOUNT" envDefault:"43200"`
	MaxCredit    int64 `env:"MAX_CREDIT" envDefault:"70000"`
	// MaxAccounts closes registration once reached. Zero disables the cap.
	MaxAccounts int `env:"MAX_ACCOUNTS" envDefault:"100"`
}

// PlanConfig describes the free and paid plan policies.
type PlanConfig struct {
	FreeInterval  time.Duration `env:"FREE_PING_INTERVAL" envDefault:"10m"`
	FreeLinkLimit int           `env:"FREE_LINK_LIMIT" envDefault:"3"`
	FreePingCost  int64         `env:"FREE_PING_COST" envDefault:"10"`
	PaidInterval  time.Duration `env:"PAID_PING_INTERVAL" envDefault:"6m"`
	// PaidLinkLimit of zero means unlimited.
	PaidLinkLimit int   `env:"PAID_LINK_LIMIT" envDefault:"0"`
	PaidPingCost  int64 `env:"PAID_PING_COST" envDefault:"6"`
}

// SchedulerConfig tunes the ping engine.
type SchedulerConfig struct {
	Enabled      bool          `env:"SCHEDULER_ENABLED" envDefault:"true"`
	Tick         time.Duration `env:"SCHEDULER_TICK" envDefault:"60s"`
	BatchSize    int           `env:"SCHEDULER_BATCH_SIZE" envDefault:"500"`
	Concurrency  int           `env:"SCHEDULER_CONCURRENCY" envDefault:"32"`
	ProbeTimeout time.Duration `env:"PROBE_TIMEOUT" envDefault:"10s"`
	LeaseTTL     time.Duration `env:"PROBE_LEASE_TTL" envDefault:"30s"`
	// AllowPrivateTargets lets links point at loopback and private networks.
	AllowPrivateTargets bool `env:"SCHEDULER_ALLOW_PRIVATE_TARGETS" envDefault:"false"`
}

// SubscriptionConfig drives billing periods and the expiry job.
type SubscriptionConfig struct {
	BillingPeriod  time.Duration `env:"BILLING_PERIOD" envDefault:"720h"`
	ExpiryInterval time.Duration `env:"SUBSCRIPTION_EXPIRY_INTERVAL" envDefault:"1m"`
}

// RetentionConfig bounds ping history.
type RetentionConfig struct {
	PingsPerLink  int           `env:"PING_RETENTION" envDefault:"100"`
	PruneInterval time.Duration `env:"PRUNE_INTERVAL" envDefault:"5m"`
}

// PaymentConfig configures the payment provider integration.
type PaymentConfig struct {
	WebhookSecret string        `env:"PAYMENT_WEBHOOK_SECRET"`
	ReplayWindow  time.Duration `env:"PAYMENT_REPLAY_WINDOW" envDefault:"5m"`
	PlanPrice     int64         `env:"PAID_PLAN_PRICE" envDefault:"500"`
	Currency      string        `env:"PAID_PLAN_CURRENCY" envDefault:"USD"`
	CheckoutURL   string        `env:"PAYMENT_CHECKOUT_URL" envDefault:"https://pay.example.com/checkout"`
}

// Policies converts the plan settings into plan policies.
func (p PlanConfig) Policies() model.PlanPolicies {
	return model.PlanPolicies{
		Free: model.PlanPolicy{
			Plan:      model.PlanFree,
			Interval:  p.FreeInterval,
			LinkLimit: p.FreeLinkLimit,
			PingCost:  p.FreePingCost,
		},
		Paid: model.PlanPolicy{
			Plan:      model.PlanPaid,
			Interval:  p.PaidInterval,
			LinkLimit: p.PaidLinkLimit,
			PingCost:  p.PaidPingCost,
		},
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORAGE_DRIVER=postgres")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}

	if c.Ledger.MaxCredit <= 0 {
		return errors.New("MAX_CREDIT must be positive")
	}
	if c.Ledger.SignupCredit < 0 || c.Ledger.SignupCredit > c.Ledger.MaxCredit {
		return errors.New("SIGNUP_CREDIT must be between 0 and MAX_CREDIT")
	}
	if c.Ledger.TopUpAmount <= 0 {
		return errors.New("TOPUP_AMOUNT must be positive")
	}
	if c.Plans.FreeInterval <= 0 || c.Plans.PaidInterval <= 0 {
		return errors.New("ping intervals must be positive")
	}
	if c.Plans.FreePingCost <= 0 || c.Plans.PaidPingCost <= 0 {
		return errors.New("ping costs must be positive")
	}
	if c.Scheduler.Concurrency <= 0 {
		return errors.New("SCHEDULER_CONCURRENCY must be positive")
	}
	if c.SignInRatePerMinute <= 0 || c.SignInBurst <= 0 {
		return errors.New("SIGNIN_RATE_PER_MINUTE and SIGNIN_BURST must be positive")
	}
	if c.ConnectAttempts <= 0 {
		return errors.New("CONNECT_ATTEMPTS must be positive")
	}

	return nil
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing or inconsistent.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
