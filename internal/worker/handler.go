package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/DukeRupert/quotagate/internal/domain"
)

// JobTypeRollover identifies the per-account rollover job.
const JobTypeRollover = "quota_rollover"

// JobHandler defines the interface for the job run against each account
// during a sweep.
type JobHandler interface {
	// Type returns the job type identifier used in logs and metrics.
	Type() string

	// Handle runs the job for one account.
	// Returns an error if the job fails. Use NewPermanentError to exclude the
	// account from later sweeps.
	Handle(ctx context.Context, accountID string) error
}

// PermanentError wraps an error to indicate it should not be retried.
// Accounts that fail with a PermanentError are skipped by later sweeps
// instead of being retried.
type PermanentError struct {
	Err error
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to work with PermanentError.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError creates a new PermanentError that wraps the given error.
// Use this to indicate that a job should not be retried.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is a PermanentError.
// Returns true if the error (or any error it wraps) is a PermanentError.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}

// =============================================================================
// RolloverHandler
// =============================================================================

// Syncer is the part of the quota service the rollover job needs.
type Syncer interface {
	Sync(ctx context.Context, accountID string) (*domain.Snapshot, error)
}

// RolloverHandler rolls an account's windows over and re-syncs its plan.
// This keeps history and block state current for accounts with no traffic.
type RolloverHandler struct {
	quotas Syncer
}

// NewRolloverHandler creates a RolloverHandler.
func NewRolloverHandler(quotas Syncer) *RolloverHandler {
	return &RolloverHandler{quotas: quotas}
}

// Type implements JobHandler.
func (h *RolloverHandler) Type() string {
	return JobTypeRollover
}

// Handle implements JobHandler.
func (h *RolloverHandler) Handle(ctx context.Context, accountID string) error {
	if _, err := h.quotas.Sync(ctx, accountID); err != nil {
		if domain.ErrorCode(err) == domain.EINVALID {
			return NewPermanentError(fmt.Errorf("rollover %q: %w", accountID, err))
		}
		return fmt.Errorf("rollover %q: %w", accountID, err)
	}
	return nil
}
