// Package service contains the business logic layer.
//
// This file implements the quota service: the single-writer layer that
// wraps every engine operation in lock, load, reset, sync, meter and save.
package service

import (
	"context"
	"log/slog"

	"github.com/DukeRupert/quotagate/internal/domain"
	"github.com/DukeRupert/quotagate/internal/metrics"
)

// maxSaveAttempts bounds the load-mutate-save cycle when a conditional
// write loses to a concurrent writer.
const maxSaveAttempts = 3

// =============================================================================
// Interface Definition
// =============================================================================

// QuotaService meters resources for accounts and persists the outcome.
type QuotaService interface {
	// EnsureRecord loads the account's record, creating and saving a free
	// plan record if none exists.
	EnsureRecord(ctx context.Context, accountID string) (*domain.QuotaRecord, error)

	// Sync rolls windows over and re-reads the account's subscription.
	Sync(ctx context.Context, accountID string) (*domain.Snapshot, error)

	// UseTokens consumes amount tokens from the daily budget.
	// A denial is reported in the Result; errors are persistence or input failures.
	UseTokens(ctx context.Context, accountID string, amount int64) (domain.Result, error)

	// IncrementEmailsSent counts one outbound email.
	IncrementEmailsSent(ctx context.Context, accountID string) (domain.Result, error)

	// IncrementAPICalls counts one API call against the monthly budget.
	IncrementAPICalls(ctx context.Context, accountID string) (domain.Result, error)

	// Status returns the current usage of the account.
	Status(ctx context.Context, accountID string) (*domain.Snapshot, error)

	// Plans returns the plan catalog for display.
	Plans() []domain.Plan
}

// =============================================================================
// Implementation
// =============================================================================

type quotaService struct {
	engine *Engine
	store  QuotaStore
	locker Locker
	logger *slog.Logger
}

// NewQuotaService creates a new QuotaService. A nil locker uses an
// in-process KeyedMutex.
func NewQuotaService(engine *Engine, store QuotaStore, locker Locker, logger *slog.Logger) QuotaService {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &quotaService{
		engine: engine,
		store:  store,
		locker: locker,
		logger: logger,
	}
}

// EnsureRecord loads or lazily creates the account's record.
func (s *quotaService) EnsureRecord(ctx context.Context, accountID string) (*domain.QuotaRecord, error) {
	const op = "quota.ensure_record"

	unlock, err := s.lock(ctx, op, accountID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		rec, err := s.loadOrCreate(ctx, op, accountID)
		if err != nil {
			return nil, err
		}
		if rec.Version > 0 {
			return rec, nil
		}
		err = s.store.Save(ctx, rec)
		if err == nil {
			s.logger.Info("Quota record created", "account_id", accountID, "plan", rec.CurrentPlan)
			return rec, nil
		}
		if retry, err := s.saveFailed(op, accountID, attempt, err); !retry {
			return nil, err
		}
	}
}

// Sync rolls windows over and synchronizes the plan.
func (s *quotaService) Sync(ctx context.Context, accountID string) (*domain.Snapshot, error) {
	const op = "quota.sync"

	rec, err := s.update(ctx, op, accountID, nil)
	if err != nil {
		return nil, err
	}
	snap := s.engine.Snapshot(rec)
	return &snap, nil
}

// UseTokens consumes tokens from the daily budget.
func (s *quotaService) UseTokens(ctx context.Context, accountID string, amount int64) (domain.Result, error) {
	const op = "quota.use_tokens"

	if amount < 0 {
		return domain.Result{}, domain.Invalid(op, "token amount must be non-negative")
	}

	var result domain.Result
	_, err := s.update(ctx, op, accountID, func(rec *domain.QuotaRecord) error {
		r, err := s.engine.UseTokens(rec, amount)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return domain.Result{}, err
	}
	recordDecision(domain.ResourceTokens, result)
	if result.Success {
		metrics.TokensMetered(amount)
	}
	return result, nil
}

// IncrementEmailsSent counts one email against the daily budget.
func (s *quotaService) IncrementEmailsSent(ctx context.Context, accountID string) (domain.Result, error) {
	const op = "quota.increment_emails"

	var result domain.Result
	_, err := s.update(ctx, op, accountID, func(rec *domain.QuotaRecord) error {
		result = s.engine.IncrementEmailsSent(rec)
		return nil
	})
	if err != nil {
		return domain.Result{}, err
	}
	recordDecision(domain.ResourceEmails, result)
	return result, nil
}

// IncrementAPICalls counts one call against the monthly budget.
func (s *quotaService) IncrementAPICalls(ctx context.Context, accountID string) (domain.Result, error) {
	const op = "quota.increment_api_calls"

	var result domain.Result
	_, err := s.update(ctx, op, accountID, func(rec *domain.QuotaRecord) error {
		result = s.engine.IncrementAPICalls(rec)
		return nil
	})
	if err != nil {
		return domain.Result{}, err
	}
	recordDecision(domain.ResourceCalls, result)
	return result, nil
}

// Status returns a snapshot with windows rolled over to the current time.
func (s *quotaService) Status(ctx context.Context, accountID string) (*domain.Snapshot, error) {
	const op = "quota.status"

	rec, err := s.update(ctx, op, accountID, nil)
	if err != nil {
		return nil, err
	}
	snap := s.engine.Snapshot(rec)
	return &snap, nil
}

// Plans returns the catalog ordered for display.
func (s *quotaService) Plans() []domain.Plan {
	return s.engine.Catalog().Plans()
}

// =============================================================================
// Helper Functions
// =============================================================================

func (s *quotaService) lock(ctx context.Context, op, accountID string) (func(), error) {
	if err := domain.ValidateAccountID(op, accountID); err != nil {
		return nil, err
	}
	unlock, err := s.locker.Lock(ctx, accountID)
	if err != nil {
		return nil, domain.Unavailable(err, op, "failed to acquire account lock")
	}
	return unlock, nil
}

// update runs the full read-modify-write cycle under the account lock:
// load or create, reset windows, sync the plan, apply mutate, save.
// The cycle restarts from a fresh load when the save loses a version race.
// A nil mutate marks a read; the save is skipped when an existing record
// was not changed by the reset or the sync.
func (s *quotaService) update(ctx context.Context, op, accountID string, mutate func(*domain.QuotaRecord) error) (*domain.QuotaRecord, error) {
	unlock, err := s.lock(ctx, op, accountID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		rec, err := s.loadOrCreate(ctx, op, accountID)
		if err != nil {
			return nil, err
		}

		rollover := s.engine.CheckAndReset(rec)
		if rollover.Daily {
			metrics.WindowReset("daily")
		}
		if rollover.Monthly {
			metrics.WindowReset("monthly")
		}
		outcome := s.engine.Sync(ctx, rec)
		metrics.SyncCompleted(string(outcome))

		if mutate == nil {
			if rec.Version > 0 && !rollover.Any() && !outcome.Changed() {
				return rec, nil
			}
		} else if err := mutate(rec); err != nil {
			return nil, err
		}

		err = s.store.Save(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if retry, err := s.saveFailed(op, accountID, attempt, err); !retry {
			return nil, err
		}
	}
}

func (s *quotaService) loadOrCreate(ctx context.Context, op, accountID string) (*domain.QuotaRecord, error) {
	rec, err := s.store.Load(ctx, accountID)
	if err == nil {
		return rec, nil
	}
	if domain.IsNotFound(err) {
		return s.engine.NewRecord(accountID), nil
	}
	s.logger.Error("Failed to load quota record", "account_id", accountID, "error", err)
	return nil, domain.Internal(err, op, "failed to load quota record")
}

// saveFailed classifies a save error and reports whether to retry.
func (s *quotaService) saveFailed(op, accountID string, attempt int, err error) (bool, error) {
	if domain.IsConflict(err) {
		metrics.SaveConflict()
		if attempt < maxSaveAttempts {
			s.logger.Debug("Quota record version conflict, retrying",
				"account_id", accountID,
				"attempt", attempt,
			)
			return true, nil
		}
		s.logger.Warn("Quota record version conflict, giving up",
			"account_id", accountID,
			"attempts", attempt,
		)
		return false, domain.Wrap(err, domain.ECONFLICT, op, "quota record was modified concurrently")
	}
	s.logger.Error("Failed to save quota record", "account_id", accountID, "error", err)
	return false, domain.Internal(err, op, "failed to save quota record")
}

func recordDecision(resource domain.Resource, r domain.Result) {
	switch {
	case !r.Success:
		metrics.MeterDecision(string(resource), "denied")
		metrics.QuotaBlocked(string(r.Reason))
	case r.Remaining == domain.Unlimited:
		metrics.MeterDecision(string(resource), "unlimited")
	default:
		metrics.MeterDecision(string(resource), "allowed")
	}
}
