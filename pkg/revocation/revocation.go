// Package revocation keeps the ids of session tokens that were signed out
// before they expired.
package revocation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store records revoked token ids until their expiry
type Store interface {
	Revoke(ctx context.Context, id string, until time.Time) error
	IsRevoked(ctx context.Context, id string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// MemoryStore is a process-local Store
type MemoryStore struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{revoked: make(map[string]time.Time), now: time.Now}
}

// Revoke marks id as revoked until the given time
func (s *MemoryStore) Revoke(ctx context.Context, id string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !until.After(now) {
		return nil
	}
	s.revoked[id] = until
	s.sweep(now)
	return nil
}

// IsRevoked reports whether id is currently revoked
func (s *MemoryStore) IsRevoked(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.revoked[id]
	if !ok {
		return false, nil
	}
	if !until.After(s.now()) {
		delete(s.revoked, id)
		return false, nil
	}
	return true, nil
}

// Len returns the number of tracked ids
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.revoked)
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

// sweep drops expired entries; callers hold mu
func (s *MemoryStore) sweep(now time.Time) {
	for id, until := range s.revoked {
		if !until.After(now) {
			delete(s.revoked, id)
		}
	}
}

const redisKeyPrefix = "accounts:revoked:"

// RedisStore shares revocations between instances through Redis
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// RedisOptions configures a RedisStore
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore connects to Redis
func NewRedisStore(opts RedisOptions) *RedisStore {
	return NewRedisStoreWithClient(redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}))
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// Revoke stores id with a TTL matching the remaining token lifetime
func (s *RedisStore) Revoke(ctx context.Context, id string, until time.Time) error {
	ttl := until.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, redisKeyPrefix+id, 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether id is present
func (s *RedisStore) IsRevoked(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, redisKeyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}
	return n > 0, nil
}

// Ping checks the Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*RedisStore)(nil)
