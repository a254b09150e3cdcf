// Package app builds the quota service graph from configuration. The HTTP
// server and the quotactl CLI share it so both run against the same stores.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	goredis "github.com/redis/go-redis/v9"

	"github.com/DukeRupert/quotagate/internal"
	"github.com/DukeRupert/quotagate/internal/billing"
	"github.com/DukeRupert/quotagate/internal/domain"
	"github.com/DukeRupert/quotagate/internal/email"
	"github.com/DukeRupert/quotagate/internal/handler"
	"github.com/DukeRupert/quotagate/internal/service"
	"github.com/DukeRupert/quotagate/internal/storage"
	"github.com/DukeRupert/quotagate/internal/store"
)

// App holds the wired components.
type App struct {
	Config  *internal.Config
	Logger  *slog.Logger
	Catalog *domain.PlanCatalog

	Quotas   service.QuotaService
	Accounts service.AccountLister

	// Billing is nil when Stripe is not configured.
	Billing billing.Service
	// Customers receives subscription changes from the Stripe webhook.
	Customers handler.SubscriptionUpdater

	Email *email.MeteredSender

	// DB and Redis are nil unless a selected component uses them.
	DB    *sql.DB
	Redis *goredis.Client
}

// New connects to the configured backends and builds the quota service.
// Call Close when done.
func New(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	a.Catalog = catalog

	if cfg.UsesPostgres() {
		if err := a.openDatabase(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	if cfg.UsesRedis() {
		if err := a.openRedis(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	if cfg.BillingEnabled() || cfg.AccountDirectory == internal.DirectoryStripe {
		a.Billing = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, billing.PriceConfig{
			BasicMonthlyPriceID:      cfg.StripeBasicMonthlyPriceID,
			BasicYearlyPriceID:       cfg.StripeBasicYearlyPriceID,
			PremiumMonthlyPriceID:    cfg.StripePremiumMonthlyPriceID,
			PremiumYearlyPriceID:     cfg.StripePremiumYearlyPriceID,
			EnterpriseMonthlyPriceID: cfg.StripeEnterpriseMonthlyPriceID,
			EnterpriseYearlyPriceID:  cfg.StripeEnterpriseYearlyPriceID,
		})
	}

	directory, err := a.buildDirectory()
	if err != nil {
		a.Close()
		return nil, err
	}

	quotaStore, err := a.buildStore()
	if err != nil {
		a.Close()
		return nil, err
	}

	engine := service.NewEngine(catalog, directory, service.SystemClock{}, logger)
	a.Quotas = service.NewQuotaService(engine, quotaStore, a.buildLocker(), logger)
	a.Email = email.NewMeteredSender(a.Quotas, a.buildSender(), logger)

	logger.Info("quota service ready",
		"store", cfg.QuotaStore,
		"directory", cfg.AccountDirectory,
		"lock", cfg.LockProvider,
		"plans", len(catalog.Plans()),
	)
	return a, nil
}

// Close releases database and Redis connections.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

func loadCatalog(cfg *internal.Config) (*domain.PlanCatalog, error) {
	if cfg.PlanCatalogPath == "" {
		return domain.DefaultPlanCatalog(), nil
	}
	catalog, err := domain.LoadPlanCatalog(cfg.PlanCatalogPath)
	if err != nil {
		return nil, fmt.Errorf("plan catalog: %w", err)
	}
	return catalog, nil
}

func (a *App) openDatabase(ctx context.Context) error {
	db, err := sql.Open("pgx", a.Config.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	a.DB = db

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := internal.RunMigrations(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	a.Logger.Info("database ready")
	return nil
}

func (a *App) openRedis(ctx context.Context) error {
	opts, err := goredis.ParseURL(a.Config.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	a.Redis = goredis.NewClient(opts)

	if err := a.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	a.Logger.Info("redis ready", "addr", opts.Addr)
	return nil
}

func (a *App) buildDirectory() (service.AccountDirectory, error) {
	switch a.Config.AccountDirectory {
	case internal.DirectoryPostgres:
		dir := store.NewPostgresDirectory(a.DB)
		a.Customers = dir
		return dir, nil
	case internal.DirectoryStripe:
		// Postgres keeps the account -> subscription link; Stripe is read live.
		accounts := store.NewPostgresDirectory(a.DB)
		a.Customers = accounts
		return billing.NewStripeDirectory(a.Billing, accounts), nil
	default:
		dir := store.NewMemoryDirectory()
		a.Customers = dir
		return dir, nil
	}
}

func (a *App) buildStore() (service.QuotaStore, error) {
	switch a.Config.QuotaStore {
	case internal.StorePostgres:
		s := store.NewPostgresStore(a.DB)
		a.Accounts = s
		return s, nil
	case internal.StoreRedis:
		s := store.NewRedisStore(a.Redis, store.WithKeyPrefix(a.Config.RedisKeyPrefix))
		a.Accounts = s
		return s, nil
	case internal.StoreObject:
		objects, err := a.buildObjectStorage()
		if err != nil {
			return nil, err
		}
		s := store.NewObjectStore(objects)
		a.Accounts = s
		return s, nil
	default:
		s := store.NewMemoryStore()
		a.Accounts = s
		return s, nil
	}
}

func (a *App) buildObjectStorage() (storage.Storage, error) {
	cfg := a.Config
	if cfg.StorageProvider == "r2" {
		s, err := storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			Endpoint:        cfg.R2Endpoint,
		}, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("r2 storage: %w", err)
		}
		return s, nil
	}

	s, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: cfg.LocalStoragePath}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("local storage: %w", err)
	}
	return s, nil
}

func (a *App) buildLocker() service.Locker {
	if a.Config.LockProvider == internal.LockRedis {
		return store.NewRedisLocker(a.Redis,
			store.WithKeyPrefix(a.Config.RedisKeyPrefix),
			store.WithLockTTL(a.Config.LockTTL),
		)
	}
	return service.NewKeyedMutex()
}

func (a *App) buildSender() email.Sender {
	cfg := a.Config
	if cfg.SMTPHost == "" {
		return email.NewLogSender(a.Logger)
	}
	return email.NewSMTPSender(email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}, a.Logger)
}
