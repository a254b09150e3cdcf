package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/quotagate/internal/domain"
)

// quotaStore is the contract every adapter in this package satisfies.
type quotaStore interface {
	Load(ctx context.Context, accountID string) (*domain.QuotaRecord, error)
	Save(ctx context.Context, rec *domain.QuotaRecord) error
	ListAccountIDs(ctx context.Context) ([]string, error)
}

var conformanceNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

// runQuotaStoreConformance exercises load, conditional save and listing.
// accountPrefix keeps ids unique when the backing store is shared.
func runQuotaStoreConformance(t *testing.T, s quotaStore, accountPrefix string) {
	ctx := context.Background()
	catalog := domain.DefaultPlanCatalog()

	t.Run("load missing", func(t *testing.T) {
		_, err := s.Load(ctx, accountPrefix+"missing")
		require.Error(t, err)
		assert.True(t, domain.IsNotFound(err))
	})

	t.Run("create then update", func(t *testing.T) {
		id := accountPrefix + "roundtrip"
		rec := domain.NewQuotaRecord(id, catalog.Resolve(domain.PlanBasic), conformanceNow)
		rec.TokensUsedToday = 1234
		rec.AppendHistory(domain.UsageSnapshot{Date: conformanceNow.AddDate(0, 0, -1), TokensUsed: 99, EmailsSent: 2})
		until := domain.NextMidnightUTC(conformanceNow)
		rec.Block(domain.BlockEmails, &until)

		require.NoError(t, s.Save(ctx, rec))
		assert.Equal(t, int64(1), rec.Version)

		loaded, err := s.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(1), loaded.Version)
		assert.Equal(t, domain.PlanBasic, loaded.CurrentPlan)
		assert.Equal(t, int64(1234), loaded.TokensUsedToday)
		assert.True(t, loaded.LastResetDate.Equal(rec.LastResetDate))
		require.Len(t, loaded.History, 1)
		assert.Equal(t, int64(99), loaded.History[0].TokensUsed)
		assert.True(t, loaded.IsBlocked)
		assert.Equal(t, domain.BlockEmails, loaded.BlockedReason)
		require.NotNil(t, loaded.BlockedUntil)
		assert.True(t, loaded.BlockedUntil.Equal(until))

		loaded.Unblock()
		loaded.TokensUsedToday = 2000
		require.NoError(t, s.Save(ctx, loaded))
		assert.Equal(t, int64(2), loaded.Version)

		again, err := s.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(2000), again.TokensUsedToday)
		assert.False(t, again.IsBlocked)
		assert.Nil(t, again.BlockedUntil)
	})

	t.Run("subscription expiry marker", func(t *testing.T) {
		id := accountPrefix + "expired"
		rec := domain.NewQuotaRecord(id, catalog.Resolve(domain.PlanFree), conformanceNow)
		rec.SubscriptionExpired = true
		require.NoError(t, s.Save(ctx, rec))

		loaded, err := s.Load(ctx, id)
		require.NoError(t, err)
		assert.True(t, loaded.SubscriptionExpired)
		assert.False(t, loaded.IsBlocked)

		loaded.SubscriptionExpired = false
		require.NoError(t, s.Save(ctx, loaded))

		again, err := s.Load(ctx, id)
		require.NoError(t, err)
		assert.False(t, again.SubscriptionExpired)
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		id := accountPrefix + "stale"
		rec := domain.NewQuotaRecord(id, catalog.Resolve(domain.PlanFree), conformanceNow)
		require.NoError(t, s.Save(ctx, rec))

		a, err := s.Load(ctx, id)
		require.NoError(t, err)
		b, err := s.Load(ctx, id)
		require.NoError(t, err)

		a.CallsUsedThisMonth = 1
		require.NoError(t, s.Save(ctx, a))

		b.CallsUsedThisMonth = 1
		err = s.Save(ctx, b)
		require.Error(t, err)
		assert.True(t, domain.IsConflict(err))
		assert.Equal(t, int64(1), b.Version, "a rejected save leaves the version untouched")
	})

	t.Run("duplicate create conflicts", func(t *testing.T) {
		id := accountPrefix + "dup"
		first := domain.NewQuotaRecord(id, catalog.Resolve(domain.PlanFree), conformanceNow)
		second := domain.NewQuotaRecord(id, catalog.Resolve(domain.PlanFree), conformanceNow)

		require.NoError(t, s.Save(ctx, first))
		err := s.Save(ctx, second)
		require.Error(t, err)
		assert.True(t, domain.IsConflict(err))
	})

	t.Run("list", func(t *testing.T) {
		ids, err := s.ListAccountIDs(ctx)
		require.NoError(t, err)
		assert.Subset(t, ids, []string{accountPrefix + "roundtrip", accountPrefix + "stale", accountPrefix + "dup"})
		assert.NotContains(t, ids, accountPrefix+"missing")
	})
}
