// Package storage provides object storage abstraction for quota records.
//
// This package defines a Storage interface with implementations for:
// - LocalStorage: File system storage for development
// - R2Storage: Cloudflare R2 (S3-compatible) storage for production
//
// Both implementations support ETag-conditional writes so that callers can
// build optimistic concurrency on top of them.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Storage defines the interface for object storage operations.
//
// All methods are context-aware for timeout and cancellation support.
type Storage interface {
	// Put stores data at the specified key and returns the new ETag.
	// Returns ErrPreconditionFailed if opts.IfMatch or opts.IfNoneMatch
	// does not hold for the current object.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) (string, error)

	// Get retrieves the data at the specified key.
	// Returns the data as an io.ReadCloser (caller must close), object metadata,
	// and an error. Returns ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Delete removes the object at the specified key.
	// This operation is idempotent - no error is returned if the key doesn't exist.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists at the specified key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns the keys that start with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// =============================================================================
// Data Types
// =============================================================================

// PutOptions configures how an object is stored.
type PutOptions struct {
	// ContentType specifies the MIME type of the object.
	// Defaults to application/octet-stream.
	ContentType string

	// MaxSize specifies the maximum allowed size in bytes.
	// If the data exceeds this size, ErrTooLarge is returned.
	// A value of 0 means no limit.
	MaxSize int64

	// IfMatch makes the write conditional on the current ETag.
	IfMatch string

	// IfNoneMatch makes the write succeed only if no object exists yet.
	IfNoneMatch bool
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string    // Object key/path
	Size         int64     // Size in bytes
	ContentType  string    // MIME type
	LastModified time.Time // Last modification time
	ETag         string    // Entity tag, unquoted
}

// =============================================================================
// Configuration Types
// =============================================================================

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory where objects are stored.
	// Example: "./data" or "/var/lib/quotagate"
	BasePath string
}

// R2Config holds configuration for Cloudflare R2 storage.
type R2Config struct {
	// AccountID is your Cloudflare account ID.
	AccountID string

	// AccessKeyID is the R2 API access key ID.
	AccessKeyID string

	// SecretAccessKey is the R2 API secret key.
	SecretAccessKey string

	// BucketName is the name of the R2 bucket to use.
	BucketName string

	// Endpoint overrides the R2 endpoint, e.g. for an S3-compatible test server.
	Endpoint string

	// Region is the AWS region to use (required by AWS SDK).
	// Default: "auto"
	Region string
}

// =============================================================================
// Provider Constants
// =============================================================================

const (
	// ProviderLocal identifies the local filesystem storage provider.
	ProviderLocal = "local"

	// ProviderR2 identifies the Cloudflare R2 storage provider.
	ProviderR2 = "r2"
)

const defaultContentType = "application/octet-stream"

// =============================================================================
// Key Generation Helpers
// =============================================================================

// QuotaRecordPrefix is the key prefix under which quota records are stored.
const QuotaRecordPrefix = "quota-records/"

// QuotaRecordKey generates the storage key for an account's quota record.
// Format: quota-records/{escaped accountID}.json
func QuotaRecordKey(accountID string) string {
	return fmt.Sprintf("%s%s.json", QuotaRecordPrefix, url.PathEscape(accountID))
}

// AccountIDFromKey reverses QuotaRecordKey. It reports false for keys that
// are not quota record keys.
func AccountIDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, QuotaRecordPrefix) || !strings.HasSuffix(key, ".json") {
		return "", false
	}
	escaped := strings.TrimSuffix(strings.TrimPrefix(key, QuotaRecordPrefix), ".json")
	id, err := url.PathUnescape(escaped)
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

// normalizeETag strips the quotes S3-compatible servers put around ETags.
func normalizeETag(etag string) string {
	return strings.Trim(etag, `"`)
}
