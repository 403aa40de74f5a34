// Package dedupe remembers inbound message ids so re-delivered webhook events
// are answered once.
package dedupe

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ccp-pamplona/ccpbot/internal/logger"
)

// DefaultTTL is how long a claimed id is remembered.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "ccpbot:msg:"

// Store claims message ids.
type Store interface {
	// Claim records id and reports whether this is its first claim within the TTL.
	Claim(ctx context.Context, id string) (bool, error)
	// Release forgets a claim so a later delivery of id is processed.
	Release(ctx context.Context, id string) error
	Close() error
}

// New returns a Redis store when redisURL is set and an in-memory one otherwise.
func New(ctx context.Context, redisURL string, ttl time.Duration) (Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		logger.Info("Message de-duplication in memory (ttl %s)", ttl)
		return NewMemoryStore(ttl), nil
	}
	return NewRedisStore(ctx, redisURL, ttl)
}

// ShouldProcess claims id and fails open: a store error lets the message through.
// Messages without an id are always processed.
func ShouldProcess(ctx context.Context, s Store, id string) bool {
	if s == nil || id == "" {
		return true
	}
	ok, err := s.Claim(ctx, id)
	if err != nil {
		logger.Warn("De-duplication check failed for %s, processing anyway: %v", id, err)
		return true
	}
	if !ok {
		logger.Info("Skipping re-delivered message %s", id)
	}
	return ok
}

// MemoryStore keeps claimed ids in process memory.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	seen      map[string]time.Time
	lastSweep time.Time
}

// NewMemoryStore creates an in-memory store. A non-positive ttl uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

// Claim implements Store.
func (s *MemoryStore) Claim(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) > s.ttl/4 {
		for k, exp := range s.seen {
			if !now.Before(exp) {
				delete(s.seen, k)
			}
		}
		s.lastSweep = now
	}

	if exp, ok := s.seen[id]; ok && now.Before(exp) {
		return false, nil
	}
	s.seen[id] = now.Add(s.ttl)
	return true, nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, id)
	return nil
}

// Len returns the number of remembered ids.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// RedisStore claims ids with SET NX EX so several bot replicas share them.
type RedisStore struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewRedisStore connects to the Redis server at redisURL and pings it.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second

	rdb := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("Message de-duplication in Redis at %s (ttl %s)", opts.Addr, ttl)
	return NewRedisStoreWithClient(rdb, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(rdb *goredis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// Claim implements Store.
func (s *RedisStore) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, keyPrefix+id, 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error { return s.rdb.Close() }
