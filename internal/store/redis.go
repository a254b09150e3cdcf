package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/DukeRupert/quotagate/internal/domain"
)

// =============================================================================
// RedisStore
// =============================================================================

// RedisStore is a Redis-backed QuotaStore.
//
// Each record lives in a hash with a "version" and a "data" (JSON) field.
// Saves run as a Lua compare-and-set on the version field, so they are
// atomic across instances.
type RedisStore struct {
	client    goredis.Cmdable
	keyPrefix string
}

// RedisOption configures RedisStore and RedisLocker.
type RedisOption func(*redisConfig)

type redisConfig struct {
	keyPrefix     string
	lockTTL       time.Duration
	retryInterval time.Duration
}

// WithKeyPrefix sets the Redis key prefix (default "quotagate:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *redisConfig) { c.keyPrefix = prefix }
}

// WithLockTTL sets how long a held lock survives a crashed holder (default 10s).
func WithLockTTL(ttl time.Duration) RedisOption {
	return func(c *redisConfig) { c.lockTTL = ttl }
}

// WithRetryInterval sets how often a waiting Lock retries (default 25ms).
func WithRetryInterval(d time.Duration) RedisOption {
	return func(c *redisConfig) { c.retryInterval = d }
}

func newRedisConfig(opts []RedisOption) redisConfig {
	c := redisConfig{
		keyPrefix:     "quotagate:",
		lockTTL:       10 * time.Second,
		retryInterval: 25 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// NewRedisStore creates a Redis-backed QuotaStore.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func NewRedisStore(client goredis.Cmdable, opts ...RedisOption) *RedisStore {
	c := newRedisConfig(opts)
	return &RedisStore{client: client, keyPrefix: c.keyPrefix}
}

func (s *RedisStore) recordKey(accountID string) string {
	return s.keyPrefix + "record:" + accountID
}

func (s *RedisStore) accountsKey() string {
	return s.keyPrefix + "accounts"
}

// saveScript is a Lua script for a version-checked write.
// KEYS[1] = record hash key
// KEYS[2] = account id set key
// ARGV[1] = expected version ("0" when the record must not exist)
// ARGV[2] = new version
// ARGV[3] = record JSON
// ARGV[4] = account id
//
// Returns:
//
//	1 = saved
//	0 = version mismatch
var saveScript = goredis.NewScript(`
local current = redis.call("HGET", KEYS[1], "version")
if not current then
    current = "0"
end
if current ~= ARGV[1] then
    return 0
end
redis.call("HSET", KEYS[1], "version", ARGV[2], "data", ARGV[3])
redis.call("SADD", KEYS[2], ARGV[4])
return 1
`)

// Load reads the record for accountID.
func (s *RedisStore) Load(ctx context.Context, accountID string) (*domain.QuotaRecord, error) {
	vals, err := s.client.HMGet(ctx, s.recordKey(accountID), "version", "data").Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: load %q: %w", accountID, err)
	}
	if len(vals) != 2 || vals[1] == nil {
		return nil, domain.NotFound("redis_store.load", "quota record", accountID)
	}

	data, ok := vals[1].(string)
	if !ok {
		return nil, fmt.Errorf("redis store: load %q: unexpected data type %T", accountID, vals[1])
	}
	var rec domain.QuotaRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("redis store: decode %q: %w", accountID, err)
	}

	if v, ok := vals[0].(string); ok {
		version, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis store: decode version of %q: %w", accountID, err)
		}
		rec.Version = version
	}
	return &rec, nil
}

// Save writes rec if the stored version still equals rec.Version.
func (s *RedisStore) Save(ctx context.Context, rec *domain.QuotaRecord) error {
	const op = "redis_store.save"

	expected := rec.Version
	next := expected + 1

	// The stored JSON carries the version it is stored under.
	rec.Version = next
	data, err := json.Marshal(rec)
	rec.Version = expected
	if err != nil {
		return fmt.Errorf("redis store: encode %q: %w", rec.AccountID, err)
	}

	res, err := saveScript.Run(ctx, s.client,
		[]string{s.recordKey(rec.AccountID), s.accountsKey()},
		strconv.FormatInt(expected, 10),
		strconv.FormatInt(next, 10),
		string(data),
		rec.AccountID,
	).Int()
	if err != nil {
		return fmt.Errorf("redis store: save %q: %w", rec.AccountID, err)
	}
	if res == 0 {
		return domain.Conflict(op, fmt.Sprintf("quota record %q changed since version %d", rec.AccountID, expected))
	}

	rec.Version = next
	return nil
}

// ListAccountIDs returns every account with a stored record.
func (s *RedisStore) ListAccountIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.accountsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: list accounts: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// =============================================================================
// RedisLocker
// =============================================================================

// RedisLocker serializes quota operations per account across instances.
//
// A lock is a key set with SET NX PX holding a random token; release deletes
// the key only while it still holds that token. A holder that outlives the
// TTL loses exclusivity, which the stores' version checks still detect.
type RedisLocker struct {
	client        goredis.Cmdable
	keyPrefix     string
	ttl           time.Duration
	retryInterval time.Duration
}

// NewRedisLocker creates a RedisLocker.
func NewRedisLocker(client goredis.Cmdable, opts ...RedisOption) *RedisLocker {
	c := newRedisConfig(opts)
	return &RedisLocker{
		client:        client,
		keyPrefix:     c.keyPrefix,
		ttl:           c.lockTTL,
		retryInterval: c.retryInterval,
	}
}

// releaseScript deletes the lock only if it is still held by the caller.
// KEYS[1] = lock key
// ARGV[1] = token
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock blocks until the account's lock is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, accountID string) (func(), error) {
	key := l.keyPrefix + "lock:" + accountID
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis locker: acquire %q: %w", accountID, err)
		}
		if ok {
			return l.unlockFunc(key, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) unlockFunc(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// Release even when the caller's context is already cancelled.
			// If this fails the TTL frees the key.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
		})
	}
}
