package service

import (
	"context"

	"github.com/DukeRupert/quotagate/internal/domain"
)

// AccountDirectory is the authoritative source of account subscriptions.
//
// GetSubscription returns a domain.ENOTFOUND error for unknown accounts and a
// SubscriptionAbsent value for known accounts without subscription data.
type AccountDirectory interface {
	GetSubscription(ctx context.Context, accountID string) (domain.Subscription, error)
}

// QuotaStore persists one QuotaRecord per account.
//
// Load returns a domain.ENOTFOUND error when no record exists.
// Save is a conditional write: it succeeds only if the stored version equals
// rec.Version (zero meaning "must not exist yet"), then sets rec.Version to the
// new stored version. A lost race returns a domain.ECONFLICT error.
type QuotaStore interface {
	Load(ctx context.Context, accountID string) (*domain.QuotaRecord, error)
	Save(ctx context.Context, rec *domain.QuotaRecord) error
}

// AccountLister enumerates the accounts that have a quota record.
type AccountLister interface {
	ListAccountIDs(ctx context.Context) ([]string, error)
}

// Locker serializes all quota operations for one account.
// The returned unlock function must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, accountID string) (func(), error)
}
