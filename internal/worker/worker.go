package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/quotagate/internal/metrics"
)

// AccountLister enumerates the accounts a sweep visits.
type AccountLister interface {
	ListAccountIDs(ctx context.Context) ([]string, error)
}

// SweepResult summarizes one pass over all accounts.
type SweepResult struct {
	RunID     string
	Accounts  int
	Succeeded int
	Failed    int
	Skipped   int
}

// Worker periodically runs a job against every account with bounded
// concurrency.
type Worker struct {
	lister  AccountLister
	handler JobHandler
	config  Config
	logger  *slog.Logger

	mu        sync.Mutex
	failures  map[string]int      // consecutive transient failures per account
	permanent map[string]struct{} // accounts excluded after a permanent failure

	// Synchronization
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a new Worker with the given configuration.
// The worker must be started with Start() and stopped with Stop().
func New(lister AccountLister, handler JobHandler, config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Worker{
		lister:    lister,
		handler:   handler,
		config:    config,
		logger:    logger.With("job_type", handler.Type()),
		failures:  make(map[string]int),
		permanent: make(map[string]struct{}),
		stopCh:    make(chan struct{}),
	}, nil
}

// Start runs a sweep immediately and then every Interval until Stop is
// called or ctx is done.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("Worker started", "concurrency", w.config.Concurrency, "interval", w.config.Interval)
}

// Stop signals the worker to stop and waits for the current sweep to finish.
// It respects the configured ShutdownTimeout.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopCh) })

	// Wait for the sweep with timeout
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped gracefully")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("Worker shutdown timeout exceeded, some jobs may still be running")
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.Sweep(ctx); err != nil {
			w.logger.Error("Sweep failed", "error", err)
		}

		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs the job once for every listed account. Accounts that failed
// permanently in an earlier sweep are skipped. Job failures are counted in
// the result; only a listing failure is returned as an error.
func (w *Worker) Sweep(ctx context.Context) (SweepResult, error) {
	result := SweepResult{RunID: uuid.NewString()}
	logger := w.logger.With("run_id", result.RunID)

	ids, err := w.lister.ListAccountIDs(ctx)
	if err != nil {
		metrics.SweepFinished(0, err)
		return result, fmt.Errorf("list accounts: %w", err)
	}
	result.Accounts = len(ids)
	logger.Debug("Sweep started", "accounts", len(ids))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	jobs := make(chan string)
	for i := 0; i < w.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				ok := w.process(ctx, id, logger)
				mu.Lock()
				if ok {
					result.Succeeded++
				} else {
					result.Failed++
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, id := range ids {
		if w.isPermanent(id) {
			result.Skipped++
			continue
		}
		select {
		case jobs <- id:
		case <-w.stopCh:
			break feed
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	metrics.SweepFinished(len(ids), nil)
	logger.Info("Sweep completed",
		"accounts", result.Accounts,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"skipped", result.Skipped,
	)
	return result, nil
}

// process runs the handler for one account with a timeout context.
func (w *Worker) process(ctx context.Context, accountID string, logger *slog.Logger) bool {
	jobType := w.handler.Type()
	logger = logger.With("account_id", accountID)

	w.mu.Lock()
	attempts := w.failures[accountID]
	w.mu.Unlock()
	if attempts > 0 {
		metrics.JobRetried(jobType)
	}

	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	err := w.handler.Handle(jobCtx, accountID)
	cancel()

	if err != nil {
		metrics.JobFailed(jobType)
		w.mu.Lock()
		if IsPermanent(err) {
			w.permanent[accountID] = struct{}{}
			delete(w.failures, accountID)
		} else {
			w.failures[accountID]++
		}
		w.mu.Unlock()

		if IsPermanent(err) {
			logger.Warn("Job failed with permanent error, will not retry", "error", err)
		} else {
			logger.Error("Job failed", "error", err, "attempt", attempts+1)
		}
		return false
	}

	metrics.JobCompleted(jobType, time.Since(start))
	if attempts > 0 {
		w.mu.Lock()
		delete(w.failures, accountID)
		w.mu.Unlock()
	}
	return true
}

func (w *Worker) isPermanent(accountID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.permanent[accountID]
	return ok
}
