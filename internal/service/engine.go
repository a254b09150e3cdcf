// Package service contains the business logic layer.
//
// This file implements the quota engine: pure, synchronous transformations
// of a single QuotaRecord. The engine defines no locking; QuotaService
// serializes access per account around it.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/DukeRupert/quotagate/internal/domain"
)

// SyncOutcome describes what a plan synchronization did to a record.
type SyncOutcome string

const (
	SyncUnchanged   SyncOutcome = "unchanged"
	SyncPlanChanged SyncOutcome = "plan_changed"
	SyncExpired     SyncOutcome = "expired"
	SyncReactivated SyncOutcome = "reactivated"
	SyncSkipped     SyncOutcome = "skipped" // directory lookup failed
)

// Rollover reports which usage windows CheckAndReset closed.
type Rollover struct {
	Daily   bool
	Monthly bool
}

// Changed reports whether the synchronization modified the record.
func (o SyncOutcome) Changed() bool {
	switch o {
	case SyncPlanChanged, SyncExpired, SyncReactivated:
		return true
	}
	return false
}

// Any reports whether any window rolled over.
func (r Rollover) Any() bool {
	return r.Daily || r.Monthly
}

// =============================================================================
// Engine
// =============================================================================

// Engine meters resource consumption against a QuotaRecord.
// It holds no per-account state and is safe for concurrent use; the records
// it is handed are not.
type Engine struct {
	catalog   *domain.PlanCatalog
	directory AccountDirectory
	clock     Clock
	logger    *slog.Logger
}

// NewEngine creates an Engine. A nil clock uses the system clock.
func NewEngine(catalog *domain.PlanCatalog, directory AccountDirectory, clock Clock, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{
		catalog:   catalog,
		directory: directory,
		clock:     clock,
		logger:    logger,
	}
}

// Catalog returns the plan catalog the engine resolves limits from.
func (e *Engine) Catalog() *domain.PlanCatalog {
	return e.catalog
}

// NewRecord creates a record on the free plan anchored at the current time.
func (e *Engine) NewRecord(accountID string) *domain.QuotaRecord {
	return domain.NewQuotaRecord(accountID, e.catalog.Resolve(domain.PlanFree), e.clock.Now())
}

// =============================================================================
// Plan synchronization
// =============================================================================

// Sync reads the account's subscription and applies it to rec.
// Directory failures are logged and leave rec untouched; Sync never fails.
func (e *Engine) Sync(ctx context.Context, rec *domain.QuotaRecord) SyncOutcome {
	sub, err := e.directory.GetSubscription(ctx, rec.AccountID)
	if err != nil {
		e.logger.Warn("Subscription lookup failed, keeping last known plan",
			"account_id", rec.AccountID,
			"plan", rec.CurrentPlan,
			"error", err,
		)
		return SyncSkipped
	}
	return e.ApplySubscription(rec, sub)
}

// ApplySubscription reconciles rec with an already fetched subscription.
//
// An inactive or ended subscription forces the free plan and blocks the
// record for expired_subscription; a record already in that state reports
// SyncUnchanged. Otherwise a plan change recomputes each limit from its
// custom override or the catalog default; counters are kept.
func (e *Engine) ApplySubscription(rec *domain.QuotaRecord, sub domain.Subscription) SyncOutcome {
	now := e.clock.Now()
	resolved := sub.Resolve()

	if resolved.Expired(now) {
		if rec.CurrentPlan == domain.PlanFree && rec.SubscriptionExpired &&
			rec.BlockedReason == domain.BlockExpiredSubscription {
			return SyncUnchanged
		}
		rec.CurrentPlan = domain.PlanFree
		rec.SubscriptionExpired = true
		rec.Block(domain.BlockExpiredSubscription, nil)
		rec.UpdatedAt = now
		e.logger.Info("Subscription expired, account blocked",
			"account_id", rec.AccountID,
			"subscription_plan", resolved.Plan,
		)
		return SyncExpired
	}

	plan, known := e.catalog.Lookup(resolved.Plan)
	if !known {
		e.logger.Warn("Unknown plan in subscription, using free plan",
			"account_id", rec.AccountID,
			"plan", resolved.Plan,
		)
		plan = e.catalog.Resolve(domain.PlanFree)
	}

	outcome := SyncUnchanged
	// The marker survives the daily reset, which clears the block itself.
	reactivated := rec.SubscriptionExpired || rec.BlockedReason == domain.BlockExpiredSubscription
	if reactivated {
		if rec.BlockedReason == domain.BlockExpiredSubscription {
			rec.Unblock()
		}
		rec.SubscriptionExpired = false
		outcome = SyncReactivated
	}

	// Limits left over from before an expiry are recomputed even when the
	// plan id did not change.
	if plan.ID != rec.CurrentPlan || reactivated {
		previous := rec.CurrentPlan
		rec.CurrentPlan = plan.ID
		rec.DailyTokenLimit = effectiveLimit(resolved.CustomQuotas.DailyTokenLimit, plan.DailyTokenLimit)
		rec.MonthlyCallLimit = effectiveLimit(resolved.CustomQuotas.MonthlyCallLimit, plan.MonthlyCallLimit)
		rec.MaxEmailsPerDay = effectiveLimit(resolved.CustomQuotas.MaxEmailsPerDay, plan.MaxEmailsPerDay)
		if outcome == SyncUnchanged {
			outcome = SyncPlanChanged
		}
		e.logger.Info("Quota plan synchronized",
			"account_id", rec.AccountID,
			"previous_plan", previous,
			"plan", plan.ID,
			"daily_token_limit", rec.DailyTokenLimit,
			"monthly_call_limit", rec.MonthlyCallLimit,
			"max_emails_per_day", rec.MaxEmailsPerDay,
		)
	}

	if outcome != SyncUnchanged {
		rec.UpdatedAt = now
	}
	return outcome
}

// effectiveLimit returns the override when it is set and non-zero.
func effectiveLimit(override *int64, planDefault int64) int64 {
	if override != nil && *override != 0 && *override >= domain.Unlimited {
		return *override
	}
	return planDefault
}

// =============================================================================
// Window reset
// =============================================================================

// CheckAndReset closes any usage window that ended before the current time.
//
// A daily rollover archives non-zero usage to history, zeroes the daily
// counters and clears every block, including a calls block whose monthly
// window has not ended. A monthly rollover zeroes the call counter only.
// Repeated calls at the same instant are no-ops.
func (e *Engine) CheckAndReset(rec *domain.QuotaRecord) Rollover {
	now := e.clock.Now()
	var r Rollover

	today := domain.StartOfDayUTC(now)
	if rec.LastResetDate.Before(today) {
		if rec.TokensUsedToday > 0 || rec.EmailsSentToday > 0 {
			rec.AppendHistory(domain.UsageSnapshot{
				Date:       rec.LastResetDate,
				TokensUsed: rec.TokensUsedToday,
				CallsMade:  0,
				EmailsSent: rec.EmailsSentToday,
			})
		}
		rec.TokensUsedToday = 0
		rec.EmailsSentToday = 0
		rec.Unblock()
		rec.LastResetDate = today
		r.Daily = true
	}

	month := domain.StartOfMonthUTC(now)
	if rec.LastMonthlyResetDate.Before(month) {
		rec.CallsUsedThisMonth = 0
		rec.LastMonthlyResetDate = month
		r.Monthly = true
	}

	if r.Any() {
		rec.UpdatedAt = now
		e.logger.Debug("Quota windows rolled over",
			"account_id", rec.AccountID,
			"daily", r.Daily,
			"monthly", r.Monthly,
		)
	}
	return r
}

// =============================================================================
// Metering
// =============================================================================

// meter describes one metered resource on a record.
type meter struct {
	resource domain.Resource
	reason   domain.BlockReason
	counter  *int64
	limit    int64
	resetAt  time.Time
	window   string
}

// UseTokens resets expired windows, then consumes amount tokens from the
// daily budget. A denial is reported through the Result, not as an error;
// the error is non-nil only for a negative amount.
func (e *Engine) UseTokens(rec *domain.QuotaRecord, amount int64) (domain.Result, error) {
	const op = "quota.use_tokens"

	if amount < 0 {
		return domain.Result{}, domain.Invalid(op, fmt.Sprintf("token amount must be non-negative, got %d", amount))
	}

	e.CheckAndReset(rec)
	now := e.clock.Now()
	return e.consume(rec, meter{
		resource: domain.ResourceTokens,
		reason:   domain.BlockTokens,
		counter:  &rec.TokensUsedToday,
		limit:    rec.DailyTokenLimit,
		resetAt:  domain.NextMidnightUTC(now),
		window:   "today",
	}, amount, now), nil
}

// IncrementEmailsSent resets expired windows, then counts one outbound email
// against the daily email budget.
func (e *Engine) IncrementEmailsSent(rec *domain.QuotaRecord) domain.Result {
	e.CheckAndReset(rec)
	now := e.clock.Now()
	return e.consume(rec, meter{
		resource: domain.ResourceEmails,
		reason:   domain.BlockEmails,
		counter:  &rec.EmailsSentToday,
		limit:    rec.MaxEmailsPerDay,
		resetAt:  domain.NextMidnightUTC(now),
		window:   "today",
	}, 1, now)
}

// IncrementAPICalls counts one API call against the monthly call budget.
// It does not reset windows itself; callers run CheckAndReset first.
func (e *Engine) IncrementAPICalls(rec *domain.QuotaRecord) domain.Result {
	now := e.clock.Now()
	return e.consume(rec, meter{
		resource: domain.ResourceCalls,
		reason:   domain.BlockCalls,
		counter:  &rec.CallsUsedThisMonth,
		limit:    rec.MonthlyCallLimit,
		resetAt:  domain.StartOfNextMonthUTC(now),
		window:   "this month",
	}, 1, now)
}

func (e *Engine) consume(rec *domain.QuotaRecord, m meter, amount int64, now time.Time) domain.Result {
	if rec.IsBlocked && rec.BlockedReason == domain.BlockExpiredSubscription {
		return domain.Result{
			Success:   false,
			Remaining: 0,
			Blocked:   true,
			Reason:    domain.BlockExpiredSubscription,
			Plan:      rec.CurrentPlan,
			Message:   "subscription is inactive or expired; renew to continue",
		}
	}

	if rec.CurrentPlan.IsUnlimitedTier() || m.limit == domain.Unlimited {
		*m.counter = saturatingAdd(*m.counter, amount)
		rec.UpdatedAt = now
		return domain.Result{
			Success:   true,
			Remaining: domain.Unlimited,
			Plan:      rec.CurrentPlan,
			Message:   fmt.Sprintf("unlimited %s on the %s plan", m.resource, rec.CurrentPlan),
		}
	}

	remaining := m.limit - *m.counter
	if remaining < amount {
		until := m.resetAt
		rec.Block(m.reason, &until)
		rec.UpdatedAt = now
		e.logger.Info("Quota exceeded, account blocked",
			"account_id", rec.AccountID,
			"plan", rec.CurrentPlan,
			"reason", m.reason,
			"used", *m.counter,
			"limit", m.limit,
			"requested", amount,
			"blocked_until", until,
		)
		resultUntil := until
		return domain.Result{
			Success:      false,
			Remaining:    0,
			Blocked:      true,
			BlockedUntil: &resultUntil,
			Reason:       m.reason,
			Plan:         rec.CurrentPlan,
			Message: fmt.Sprintf("%s limit of %d reached; resets at %s",
				m.resource, m.limit, until.Format(time.RFC3339)),
		}
	}

	*m.counter += amount
	rec.UpdatedAt = now
	left := m.limit - *m.counter
	return domain.Result{
		Success:   true,
		Remaining: left,
		Plan:      rec.CurrentPlan,
		Message:   fmt.Sprintf("%d %s remaining %s", left, m.resource, m.window),
	}
}

// saturatingAdd adds a non-negative delta without wrapping past MaxInt64.
func saturatingAdd(v, delta int64) int64 {
	if v > math.MaxInt64-delta {
		return math.MaxInt64
	}
	return v + delta
}

// =============================================================================
// Status
// =============================================================================

// Snapshot builds a read-only status view of rec.
func (e *Engine) Snapshot(rec *domain.QuotaRecord) domain.Snapshot {
	plan := e.catalog.Resolve(rec.CurrentPlan)

	var until *time.Time
	if rec.BlockedUntil != nil {
		u := *rec.BlockedUntil
		until = &u
	}

	return domain.Snapshot{
		AccountID: rec.AccountID,
		Plan:      rec.CurrentPlan,
		PlanName:  plan.DisplayName,
		Limits: domain.Limits{
			DailyTokens:  rec.DailyTokenLimit,
			MonthlyCalls: rec.MonthlyCallLimit,
			EmailsPerDay: rec.MaxEmailsPerDay,
		},
		Usage: domain.Usage{
			TokensToday:    rec.TokensUsedToday,
			CallsThisMonth: rec.CallsUsedThisMonth,
			EmailsToday:    rec.EmailsSentToday,
		},
		Blocked:        rec.IsBlocked,
		BlockedUntil:   until,
		BlockedReason:  rec.BlockedReason,
		DailyResetAt:   domain.NextMidnightUTC(rec.LastResetDate),
		MonthlyResetAt: domain.StartOfNextMonthUTC(rec.LastMonthlyResetDate),
		History:        append([]domain.UsageSnapshot{}, rec.History...),
		UpdatedAt:      rec.UpdatedAt,
	}
}
