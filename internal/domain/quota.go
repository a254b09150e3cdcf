// Package domain contains core business types and interfaces.
//
// This file defines the per-account quota record and the results reported by
// metering operations.
package domain

import (
	"strings"
	"time"
	"unicode"
)

// MaxAccountIDLength bounds the length of an account id in bytes.
const MaxAccountIDLength = 255

// MaxHistoryEntries bounds QuotaRecord.History to the most recent daily windows.
const MaxHistoryEntries = 30

// Resource identifies a metered resource.
type Resource string

const (
	ResourceTokens Resource = "tokens"
	ResourceEmails Resource = "emails"
	ResourceCalls  Resource = "calls"
)

// BlockReason explains why a record is blocked. The zero value means not blocked.
type BlockReason string

const (
	BlockNone                BlockReason = ""
	BlockTokens              BlockReason = "tokens"
	BlockCalls               BlockReason = "calls"
	BlockEmails              BlockReason = "emails"
	BlockExpiredSubscription BlockReason = "expired_subscription"
)

// UsageSnapshot is one closed daily window kept in the record history.
type UsageSnapshot struct {
	Date       time.Time `json:"date"`
	TokensUsed int64     `json:"tokensUsed"`
	CallsMade  int64     `json:"callsMade"`
	EmailsSent int64     `json:"emailsSent"`
}

// QuotaRecord is the mutable quota state of one account.
//
// Invariants:
//   - LastResetDate is UTC midnight aligned; LastMonthlyResetDate is the first
//     instant of a UTC month.
//   - len(History) <= MaxHistoryEntries.
//   - !IsBlocked implies BlockedReason == BlockNone and BlockedUntil == nil.
//
// A QuotaRecord is not safe for concurrent use; callers serialize access per account.
type QuotaRecord struct {
	AccountID   string `json:"accountId"`
	CurrentPlan PlanID `json:"currentPlan"`

	DailyTokenLimit  int64 `json:"dailyTokenLimit"`
	MonthlyCallLimit int64 `json:"monthlyCallLimit"`
	MaxEmailsPerDay  int64 `json:"maxEmailsPerDay"`

	TokensUsedToday    int64 `json:"tokensUsedToday"`
	CallsUsedThisMonth int64 `json:"callsUsedThisMonth"`
	EmailsSentToday    int64 `json:"emailsSentToday"`

	LastResetDate        time.Time `json:"lastResetDate"`
	LastMonthlyResetDate time.Time `json:"lastMonthlyResetDate"`

	History []UsageSnapshot `json:"history"`

	IsBlocked     bool        `json:"isBlocked"`
	BlockedReason BlockReason `json:"blockedReason,omitempty"`
	BlockedUntil  *time.Time  `json:"blockedUntil,omitempty"`

	// SubscriptionExpired records that the plan was forced to free by an
	// ended subscription. Window resets leave it set; only a sync against an
	// active subscription clears it.
	SubscriptionExpired bool `json:"subscriptionExpired,omitempty"`

	// Version is incremented by stores on every successful save and is used
	// for conditional writes. Zero means the record has never been saved.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ValidateAccountID reports an EINVALID error for ids that are blank, too
// long, contain control characters or contain "..". Stores derive object
// keys from the id, so ".." is refused everywhere.
func ValidateAccountID(op, accountID string) error {
	switch {
	case strings.TrimSpace(accountID) == "":
		return Invalid(op, "account id is required")
	case len(accountID) > MaxAccountIDLength:
		return Invalid(op, "account id is too long")
	case strings.Contains(accountID, ".."):
		return Invalid(op, `account id must not contain ".."`)
	case strings.IndexFunc(accountID, unicode.IsControl) >= 0:
		return Invalid(op, "account id must not contain control characters")
	}
	return nil
}

// NewQuotaRecord creates a record on plan with the plan's default limits and
// windows anchored at now.
func NewQuotaRecord(accountID string, plan Plan, now time.Time) *QuotaRecord {
	now = now.UTC()
	return &QuotaRecord{
		AccountID:            accountID,
		CurrentPlan:          plan.ID,
		DailyTokenLimit:      plan.DailyTokenLimit,
		MonthlyCallLimit:     plan.MonthlyCallLimit,
		MaxEmailsPerDay:      plan.MaxEmailsPerDay,
		LastResetDate:        StartOfDayUTC(now),
		LastMonthlyResetDate: StartOfMonthUTC(now),
		History:              []UsageSnapshot{},
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// Block marks the record blocked for reason until the given time (nil for no
// stated resumption time).
func (r *QuotaRecord) Block(reason BlockReason, until *time.Time) {
	r.IsBlocked = true
	r.BlockedReason = reason
	r.BlockedUntil = until
}

// Unblock clears all block state.
func (r *QuotaRecord) Unblock() {
	r.IsBlocked = false
	r.BlockedReason = BlockNone
	r.BlockedUntil = nil
}

// AppendHistory adds a snapshot, dropping the oldest entries beyond MaxHistoryEntries.
func (r *QuotaRecord) AppendHistory(s UsageSnapshot) {
	r.History = append(r.History, s)
	if n := len(r.History); n > MaxHistoryEntries {
		trimmed := make([]UsageSnapshot, MaxHistoryEntries)
		copy(trimmed, r.History[n-MaxHistoryEntries:])
		r.History = trimmed
	}
}

// Clone returns a deep copy of the record.
func (r *QuotaRecord) Clone() *QuotaRecord {
	c := *r
	if r.History != nil {
		c.History = make([]UsageSnapshot, len(r.History))
		copy(c.History, r.History)
	}
	if r.BlockedUntil != nil {
		until := *r.BlockedUntil
		c.BlockedUntil = &until
	}
	return &c
}

// Result is the uniform outcome of a metering operation.
// Remaining is Unlimited (-1) when the resource has no cap.
type Result struct {
	Success      bool        `json:"success"`
	Remaining    int64       `json:"remaining"`
	Blocked      bool        `json:"blocked"`
	BlockedUntil *time.Time  `json:"blockedUntil,omitempty"`
	Reason       BlockReason `json:"blockedReason,omitempty"`
	Plan         PlanID      `json:"plan"`
	Message      string      `json:"message"`
}

// Limits groups the three effective limits of a record.
type Limits struct {
	DailyTokens  int64 `json:"dailyTokens"`
	MonthlyCalls int64 `json:"monthlyCalls"`
	EmailsPerDay int64 `json:"emailsPerDay"`
}

// Usage groups the three counters of a record.
type Usage struct {
	TokensToday    int64 `json:"tokensToday"`
	CallsThisMonth int64 `json:"callsThisMonth"`
	EmailsToday    int64 `json:"emailsToday"`
}

// Snapshot is a read-only status view of a record.
type Snapshot struct {
	AccountID      string          `json:"accountId"`
	Plan           PlanID          `json:"plan"`
	PlanName       string          `json:"planName"`
	Limits         Limits          `json:"limits"`
	Usage          Usage           `json:"usage"`
	Blocked        bool            `json:"blocked"`
	BlockedUntil   *time.Time      `json:"blockedUntil,omitempty"`
	BlockedReason  BlockReason     `json:"blockedReason,omitempty"`
	DailyResetAt   time.Time       `json:"dailyResetAt"`
	MonthlyResetAt time.Time       `json:"monthlyResetAt"`
	History        []UsageSnapshot `json:"history"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}
