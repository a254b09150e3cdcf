// Package store provides persistence adapters for quota records and the
// account directory: in-memory for development and tests, PostgreSQL,
// Redis, and object storage for deployments.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/DukeRupert/quotagate/internal/domain"
)

// =============================================================================
// MemoryStore
// =============================================================================

// MemoryStore is a versioned in-memory QuotaStore.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*domain.QuotaRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*domain.QuotaRecord)}
}

// Load returns a copy of the stored record.
func (s *MemoryStore) Load(_ context.Context, accountID string) (*domain.QuotaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[accountID]
	if !ok {
		return nil, domain.NotFound("memory_store.load", "quota record", accountID)
	}
	return rec.Clone(), nil
}

// Save stores a copy of rec if its version matches the stored one.
func (s *MemoryStore) Save(_ context.Context, rec *domain.QuotaRecord) error {
	const op = "memory_store.save"

	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if existing, ok := s.records[rec.AccountID]; ok {
		current = existing.Version
	}
	if current != rec.Version {
		return domain.Conflict(op, "quota record version mismatch")
	}

	rec.Version++
	s.records[rec.AccountID] = rec.Clone()
	return nil
}

// ListAccountIDs returns the ids of all stored records in sorted order.
func (s *MemoryStore) ListAccountIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// =============================================================================
// MemoryDirectory
// =============================================================================

// MemoryDirectory is an in-memory AccountDirectory.
// Accounts must be registered with Set before they can be found.
type MemoryDirectory struct {
	mu        sync.RWMutex
	subs      map[string]domain.Subscription
	customers map[string]string // billing customer id -> account id
	subIDs    map[string]string // account id -> billing subscription id
}

// NewMemoryDirectory creates an empty MemoryDirectory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		subs:      make(map[string]domain.Subscription),
		customers: make(map[string]string),
		subIDs:    make(map[string]string),
	}
}

// Set registers accountID with sub.
func (d *MemoryDirectory) Set(accountID string, sub domain.Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs[accountID] = sub
}

// LinkCustomer associates a billing customer id with an account.
func (d *MemoryDirectory) LinkCustomer(accountID, customerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.customers[customerID] = accountID
	if _, ok := d.subs[accountID]; !ok {
		d.subs[accountID] = domain.Subscription{}
	}
}

// GetSubscription returns the registered subscription.
func (d *MemoryDirectory) GetSubscription(_ context.Context, accountID string) (domain.Subscription, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sub, ok := d.subs[accountID]
	if !ok {
		return domain.Subscription{}, domain.NotFound("memory_directory.get_subscription", "account", accountID)
	}
	return sub, nil
}

// UpdateSubscriptionByCustomer replaces the subscription of the account
// linked to customerID and returns that account's id.
func (d *MemoryDirectory) UpdateSubscriptionByCustomer(_ context.Context, customerID, subscriptionID string, sub domain.Subscription) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	accountID, ok := d.customers[customerID]
	if !ok {
		return "", domain.NotFound("memory_directory.update_subscription", "customer", customerID)
	}
	d.subs[accountID] = sub
	if subscriptionID != "" {
		d.subIDs[accountID] = subscriptionID
	}
	return accountID, nil
}

// SubscriptionID returns the billing subscription id recorded for accountID,
// or "" when the account has none.
func (d *MemoryDirectory) SubscriptionID(_ context.Context, accountID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, ok := d.subs[accountID]; !ok {
		return "", domain.NotFound("memory_directory.subscription_id", "account", accountID)
	}
	return d.subIDs[accountID], nil
}
