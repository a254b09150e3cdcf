package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DukeRupert/quotagate/internal"
	"github.com/DukeRupert/quotagate/internal/app"
	"github.com/DukeRupert/quotagate/internal/handler"
	"github.com/DukeRupert/quotagate/internal/metrics"
	"github.com/DukeRupert/quotagate/internal/middleware"
	"github.com/DukeRupert/quotagate/internal/worker"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Build stores, directory and quota service
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("app initialization failed: %w", err)
	}
	defer a.Close()

	// Initialize middleware
	isSecure := cfg.Env != "development"
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	adminAuth := middleware.NewBasicAuthMiddleware("operator", cfg.AdminUsername, cfg.AdminPassword)
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	if !adminAuth.Enabled() {
		logger.Warn("ADMIN_USERNAME/ADMIN_PASSWORD not set, /v1 routes are unprotected")
	}

	var limiter middleware.Limiter
	if cfg.RateLimitProvider == internal.RateLimitRedis {
		limiter = middleware.NewRedisRateLimiter(a.Redis, cfg.RateLimitRequests, cfg.RateLimitWindow, cfg.RedisKeyPrefix)
	} else {
		limiter = middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow, logger)
	}
	rateLimitMw := middleware.NewRateLimitMiddleware(limiter, logger)

	// Initialize handlers
	quotaHandler := handler.NewQuotaHandler(a.Quotas, logger)
	webhookHandler := handler.NewWebhookHandler(a.Billing, a.Customers, a.Quotas, logger)
	if a.Billing == nil {
		logger.Warn("Stripe not configured, webhook events will be acknowledged and ignored")
	}

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus scrape endpoint
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	// Operator API
	v1 := http.NewServeMux()
	quotaHandler.RegisterRoutes(v1)
	mux.Handle("/v1/", middleware.Stack(rateLimitMw.Limit, adminAuth.Handler)(v1))

	// Stripe webhooks (authenticated by signature)
	webhooks := http.NewServeMux()
	webhookHandler.RegisterRoutes(webhooks)
	mux.Handle("/webhooks/", rateLimitMw.Limit(webhooks))

	root := middleware.Stack(loggingMw.Handler, securityMw.Handler, metrics.Middleware)(mux)

	// ==========================================================================
	// Start rollover sweep
	// ==========================================================================

	var sweeper *worker.Worker
	if cfg.SweepEnabled {
		sweeper, err = worker.New(a.Accounts, worker.NewRolloverHandler(a.Quotas), worker.Config{
			Concurrency:     cfg.SweepConcurrency,
			Interval:        cfg.SweepInterval,
			JobTimeout:      cfg.SweepJobTimeout,
			ShutdownTimeout: cfg.SweepShutdownTimeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}
		sweeper.Start(ctx)
	}

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	if sweeper != nil {
		sweeper.Stop()
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
