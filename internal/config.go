package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Quota store providers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreObject   = "object"
)

// Account directory providers.
const (
	DirectoryMemory   = "memory"
	DirectoryPostgres = "postgres"
	DirectoryStripe   = "stripe"
)

// Lock and rate limit providers.
const (
	LockLocal       = "local"
	LockRedis       = "redis"
	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Quota persistence
	QuotaStore       string // memory, postgres, redis or object
	AccountDirectory string // memory, postgres or stripe
	LockProvider     string // local or redis
	LockTTL          time.Duration
	PlanCatalogPath  string // Optional YAML override of the built-in plans

	// Redis (record store, locks and rate limiting)
	RedisURL       string
	RedisKeyPrefix string

	// Object storage for the "object" quota store
	StorageProvider   string // "local" or "r2"
	LocalStoragePath  string
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2Endpoint        string // Optional S3-compatible endpoint override

	// Rollover sweep
	SweepEnabled         bool
	SweepConcurrency     int
	SweepInterval        time.Duration
	SweepJobTimeout      time.Duration
	SweepShutdownTimeout time.Duration

	// Stripe Billing Configuration
	// In development the webhook route is disabled if these are empty.
	StripeSecretKey     string // Stripe API secret key (sk_test_... or sk_live_...)
	StripeWebhookSecret string // Stripe webhook signing secret (whsec_...)

	// Stripe Price IDs for subscription plans
	StripeBasicMonthlyPriceID      string
	StripeBasicYearlyPriceID       string
	StripePremiumMonthlyPriceID    string
	StripePremiumYearlyPriceID     string
	StripeEnterpriseMonthlyPriceID string
	StripeEnterpriseYearlyPriceID  string

	// SMTP Configuration
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string

	// Request rate limiting for /v1 and webhook routes
	RateLimitProvider string // memory or redis
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Basic auth for the /v1 operator routes
	// If both are empty, the routes are unprotected.
	AdminUsername string
	AdminPassword string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:         getEnv("ENV", "development"),
		Port:        getEnvInt("PORT", 8080),
		LogLevel:    getEnv("LOG_LEVEL", "debug"),
		DatabaseUrl: os.Getenv("DATABASE_URL"),

		QuotaStore:       getEnv("QUOTA_STORE", StoreMemory),
		AccountDirectory: getEnv("ACCOUNT_DIRECTORY", DirectoryMemory),
		LockProvider:     getEnv("LOCK_PROVIDER", LockLocal),
		LockTTL:          getEnvDuration("LOCK_TTL", 10*time.Second),
		PlanCatalogPath:  getEnv("PLAN_CATALOG_PATH", ""),

		RedisURL:       getEnv("REDIS_URL", ""),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "quotagate:"),

		// Storage defaults to local filesystem for development
		StorageProvider:   getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath:  getEnv("LOCAL_STORAGE_PATH", "./data"),
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2Endpoint:        getEnv("R2_ENDPOINT", ""),

		// Sweep defaults
		SweepEnabled:         getEnvBool("SWEEP_ENABLED", true),
		SweepConcurrency:     getEnvInt("SWEEP_CONCURRENCY", 4),
		SweepInterval:        getEnvDuration("SWEEP_INTERVAL", 15*time.Minute),
		SweepJobTimeout:      getEnvDuration("SWEEP_JOB_TIMEOUT", 30*time.Second),
		SweepShutdownTimeout: getEnvDuration("SWEEP_SHUTDOWN_TIMEOUT", 30*time.Second),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		StripeBasicMonthlyPriceID:      getEnv("STRIPE_BASIC_MONTHLY_PRICE_ID", ""),
		StripeBasicYearlyPriceID:       getEnv("STRIPE_BASIC_YEARLY_PRICE_ID", ""),
		StripePremiumMonthlyPriceID:    getEnv("STRIPE_PREMIUM_MONTHLY_PRICE_ID", ""),
		StripePremiumYearlyPriceID:     getEnv("STRIPE_PREMIUM_YEARLY_PRICE_ID", ""),
		StripeEnterpriseMonthlyPriceID: getEnv("STRIPE_ENTERPRISE_MONTHLY_PRICE_ID", ""),
		StripeEnterpriseYearlyPriceID:  getEnv("STRIPE_ENTERPRISE_YEARLY_PRICE_ID", ""),

		// SMTP host empty means emails are logged instead of sent
		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 1025),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@quotagate.dev"),
		SMTPFromName: getEnv("SMTP_FROM_NAME", "Quotagate"),

		RateLimitProvider: getEnv("RATE_LIMIT_PROVIDER", RateLimitMemory),
		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),

		AdminUsername: getEnv("ADMIN_USERNAME", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks provider selections and the settings each one requires.
func (c *Config) Validate() error {
	switch c.QuotaStore {
	case StoreMemory, StorePostgres, StoreRedis, StoreObject:
	default:
		return fmt.Errorf("QUOTA_STORE must be one of memory, postgres, redis or object, got: %s", c.QuotaStore)
	}

	switch c.AccountDirectory {
	case DirectoryMemory, DirectoryPostgres:
	case DirectoryStripe:
		if c.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required when ACCOUNT_DIRECTORY is 'stripe'")
		}
	default:
		return fmt.Errorf("ACCOUNT_DIRECTORY must be one of memory, postgres or stripe, got: %s", c.AccountDirectory)
	}

	switch c.LockProvider {
	case LockLocal, LockRedis:
	default:
		return fmt.Errorf("LOCK_PROVIDER must be either 'local' or 'redis', got: %s", c.LockProvider)
	}

	switch c.RateLimitProvider {
	case RateLimitMemory, RateLimitRedis:
	default:
		return fmt.Errorf("RATE_LIMIT_PROVIDER must be either 'memory' or 'redis', got: %s", c.RateLimitProvider)
	}

	if c.UsesPostgres() && c.DatabaseUrl == "" {
		return fmt.Errorf("DATABASE_URL is required when a postgres component is selected")
	}
	if c.UsesRedis() && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when a redis component is selected")
	}

	if c.QuotaStore == StoreObject {
		if c.StorageProvider == "r2" {
			if c.R2AccountID == "" && c.R2Endpoint == "" {
				return fmt.Errorf("R2_ACCOUNT_ID is required when STORAGE_PROVIDER is 'r2'")
			}
			if c.R2AccessKeyID == "" {
				return fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
			}
			if c.R2SecretAccessKey == "" {
				return fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
			}
			if c.R2BucketName == "" {
				return fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
			}
		} else if c.StorageProvider != "local" {
			return fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", c.StorageProvider)
		}
	}

	if c.LockTTL < time.Second {
		return fmt.Errorf("LOCK_TTL must be at least 1s, got: %s", c.LockTTL)
	}
	if c.RateLimitRequests < 1 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be positive, got: %d", c.RateLimitRequests)
	}
	if c.RateLimitWindow < time.Second {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be at least 1s, got: %s", c.RateLimitWindow)
	}

	return nil
}

// UsesPostgres reports whether any selected component needs DATABASE_URL.
func (c *Config) UsesPostgres() bool {
	return c.QuotaStore == StorePostgres || c.AccountDirectory == DirectoryPostgres || c.AccountDirectory == DirectoryStripe
}

// UsesRedis reports whether any selected component needs REDIS_URL.
func (c *Config) UsesRedis() bool {
	return c.QuotaStore == StoreRedis || c.LockProvider == LockRedis || c.RateLimitProvider == RateLimitRedis
}

// BillingEnabled reports whether Stripe credentials are configured.
func (c *Config) BillingEnabled() bool {
	return c.StripeSecretKey != "" && c.StripeWebhookSecret != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
