package internal

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearQuotaEnv blanks every key NewConfig reads so the host environment
// cannot leak into a test.
func clearQuotaEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENV", "PORT", "LOG_LEVEL", "DATABASE_URL", "QUOTA_STORE", "ACCOUNT_DIRECTORY",
		"LOCK_PROVIDER", "LOCK_TTL", "PLAN_CATALOG_PATH", "REDIS_URL", "REDIS_KEY_PREFIX",
		"STORAGE_PROVIDER", "LOCAL_STORAGE_PATH", "R2_ACCOUNT_ID", "R2_ACCESS_KEY_ID",
		"R2_SECRET_ACCESS_KEY", "R2_BUCKET_NAME", "R2_ENDPOINT", "SWEEP_ENABLED",
		"SWEEP_CONCURRENCY", "SWEEP_INTERVAL", "SWEEP_JOB_TIMEOUT", "SWEEP_SHUTDOWN_TIMEOUT",
		"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET", "SMTP_HOST", "RATE_LIMIT_PROVIDER",
		"RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW", "ADMIN_USERNAME", "ADMIN_PASSWORD",
	} {
		t.Setenv(key, "")
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	clearQuotaEnv(t)

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, StoreMemory, cfg.QuotaStore)
	assert.Equal(t, DirectoryMemory, cfg.AccountDirectory)
	assert.Equal(t, LockLocal, cfg.LockProvider)
	assert.Equal(t, 15*time.Minute, cfg.SweepInterval)
	assert.Equal(t, "quotagate:", cfg.RedisKeyPrefix)
	assert.True(t, cfg.SweepEnabled)
	assert.False(t, cfg.BillingEnabled())
}

func TestNewConfig_ReadsEnvironment(t *testing.T) {
	clearQuotaEnv(t)
	t.Setenv("QUOTA_STORE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/quotagate")
	t.Setenv("LOCK_PROVIDER", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("SWEEP_INTERVAL", "5m")
	t.Setenv("SWEEP_CONCURRENCY", "not-a-number")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.QuotaStore)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 4, cfg.SweepConcurrency, "unparseable values fall back to the default")
	assert.True(t, cfg.UsesPostgres())
	assert.True(t, cfg.UsesRedis())
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			QuotaStore:        StoreMemory,
			AccountDirectory:  DirectoryMemory,
			LockProvider:      LockLocal,
			LockTTL:           10 * time.Second,
			StorageProvider:   "local",
			RateLimitProvider: RateLimitMemory,
			RateLimitRequests: 60,
			RateLimitWindow:   time.Minute,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown store", func(c *Config) { c.QuotaStore = "dynamo" }, "QUOTA_STORE"},
		{"unknown directory", func(c *Config) { c.AccountDirectory = "ldap" }, "ACCOUNT_DIRECTORY"},
		{"unknown lock", func(c *Config) { c.LockProvider = "etcd" }, "LOCK_PROVIDER"},
		{"unknown rate limiter", func(c *Config) { c.RateLimitProvider = "nginx" }, "RATE_LIMIT_PROVIDER"},
		{"postgres without url", func(c *Config) { c.QuotaStore = StorePostgres }, "DATABASE_URL"},
		{"redis without url", func(c *Config) { c.LockProvider = LockRedis }, "REDIS_URL"},
		{"stripe without key", func(c *Config) {
			c.AccountDirectory = DirectoryStripe
			c.DatabaseUrl = "postgres://x"
		}, "STRIPE_SECRET_KEY"},
		{"r2 without bucket", func(c *Config) {
			c.QuotaStore = StoreObject
			c.StorageProvider = "r2"
			c.R2AccountID = "acct"
			c.R2AccessKeyID = "key"
			c.R2SecretAccessKey = "secret"
		}, "R2_BUCKET_NAME"},
		{"bad storage provider", func(c *Config) {
			c.QuotaStore = StoreObject
			c.StorageProvider = "gcs"
		}, "STORAGE_PROVIDER"},
		{"storage provider ignored without object store", func(c *Config) { c.StorageProvider = "gcs" }, ""},
		{"short lock ttl", func(c *Config) { c.LockTTL = time.Millisecond }, "LOCK_TTL"},
		{"zero rate limit", func(c *Config) { c.RateLimitRequests = 0 }, "RATE_LIMIT_REQUESTS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q should mention %s", err, tt.wantErr)
		})
	}
}
