package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/DukeRupert/quotagate/internal/domain"
	"github.com/DukeRupert/quotagate/internal/storage"
)

// maxRecordSize bounds a serialized quota record; 30 history entries fit
// comfortably.
const maxRecordSize = 64 << 10

// ObjectStore is a QuotaStore over object storage. Each record is one JSON
// object; saves are ETag-conditional writes.
type ObjectStore struct {
	objects storage.Storage
}

// NewObjectStore creates an ObjectStore on top of objects.
func NewObjectStore(objects storage.Storage) *ObjectStore {
	return &ObjectStore{objects: objects}
}

// Load reads the record for accountID.
func (s *ObjectStore) Load(ctx context.Context, accountID string) (*domain.QuotaRecord, error) {
	rec, _, err := s.read(ctx, accountID)
	return rec, err
}

// Save writes rec if the stored record's version still equals rec.Version.
//
// The current object is read first to compare versions, then replaced with
// If-Match on the ETag that was read, so a write by another instance in
// between fails the precondition.
func (s *ObjectStore) Save(ctx context.Context, rec *domain.QuotaRecord) error {
	const op = "object_store.save"

	opts := storage.PutOptions{ContentType: "application/json", MaxSize: maxRecordSize}
	if rec.Version == 0 {
		opts.IfNoneMatch = true
	} else {
		current, etag, err := s.read(ctx, rec.AccountID)
		if domain.IsNotFound(err) {
			return domain.Conflict(op, fmt.Sprintf("quota record %q was deleted", rec.AccountID))
		}
		if err != nil {
			return err
		}
		if current.Version != rec.Version {
			return domain.Conflict(op, fmt.Sprintf("quota record %q changed since version %d", rec.AccountID, rec.Version))
		}
		opts.IfMatch = etag
	}

	expected := rec.Version
	rec.Version = expected + 1
	data, err := json.Marshal(rec)
	if err != nil {
		rec.Version = expected
		return fmt.Errorf("object store: encode %q: %w", rec.AccountID, err)
	}

	_, err = s.objects.Put(ctx, storage.QuotaRecordKey(rec.AccountID), bytes.NewReader(data), opts)
	if err != nil {
		rec.Version = expected
		if storage.IsPreconditionFailed(err) {
			return domain.Conflict(op, fmt.Sprintf("quota record %q changed since version %d", rec.AccountID, expected))
		}
		return fmt.Errorf("object store: save %q: %w", rec.AccountID, err)
	}
	return nil
}

// ListAccountIDs returns every account with a stored record.
func (s *ObjectStore) ListAccountIDs(ctx context.Context) ([]string, error) {
	keys, err := s.objects.List(ctx, storage.QuotaRecordPrefix)
	if err != nil {
		return nil, fmt.Errorf("object store: list accounts: %w", err)
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if id, ok := storage.AccountIDFromKey(key); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *ObjectStore) read(ctx context.Context, accountID string) (*domain.QuotaRecord, string, error) {
	body, info, err := s.objects.Get(ctx, storage.QuotaRecordKey(accountID))
	if storage.IsNotFound(err) {
		return nil, "", domain.NotFound("object_store.load", "quota record", accountID)
	}
	if err != nil {
		return nil, "", fmt.Errorf("object store: load %q: %w", accountID, err)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxRecordSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("object store: read %q: %w", accountID, err)
	}
	var rec domain.QuotaRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, "", fmt.Errorf("object store: decode %q: %w", accountID, err)
	}
	return &rec, info.ETag, nil
}
