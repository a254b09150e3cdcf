package store

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/quotagate/internal/domain"
	"github.com/DukeRupert/quotagate/internal/storage"
)

func TestMemoryStore_Conformance(t *testing.T) {
	runQuotaStoreConformance(t, NewMemoryStore(), "")
}

func TestObjectStore_Conformance(t *testing.T) {
	objects, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	runQuotaStoreConformance(t, NewObjectStore(objects), "")
}

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := domain.NewQuotaRecord("a", domain.DefaultPlanCatalog().Resolve(domain.PlanFree), conformanceNow)
	require.NoError(t, s.Save(ctx, rec))
	rec.TokensUsedToday = 500

	loaded, err := s.Load(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, loaded.TokensUsedToday, "mutating the saved value must not leak into the store")
}

func TestMemoryDirectory(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()

	_, err := d.GetSubscription(ctx, "acct")
	assert.True(t, domain.IsNotFound(err))

	d.LinkCustomer("acct", "cus_123")
	sub, err := d.GetSubscription(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionAbsent, sub.Kind)

	accountID, err := d.UpdateSubscriptionByCustomer(ctx, "cus_123", "sub_1", domain.LegacySubscription(domain.PlanPremium))
	require.NoError(t, err)
	assert.Equal(t, "acct", accountID)

	sub, err = d.GetSubscription(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanPremium, sub.Resolve().Plan)

	_, err = d.UpdateSubscriptionByCustomer(ctx, "cus_unknown", "", domain.Subscription{})
	assert.True(t, domain.IsNotFound(err))
}

func TestMemoryDirectory_SubscriptionID(t *testing.T) {
	d := NewMemoryDirectory()
	ctx := context.Background()
	d.LinkCustomer("acct", "cus_1")

	_, err := d.SubscriptionID(ctx, "nobody")
	assert.True(t, domain.IsNotFound(err))

	id, err := d.SubscriptionID(ctx, "acct")
	require.NoError(t, err)
	assert.Empty(t, id)

	_, err = d.UpdateSubscriptionByCustomer(ctx, "cus_1", "sub_9", domain.LegacySubscription(domain.PlanBasic))
	require.NoError(t, err)

	id, err = d.SubscriptionID(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, "sub_9", id)
}
