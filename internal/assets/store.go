package assets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LocatorStore persists the last known locator per job id.
type LocatorStore interface {
	Save(ctx context.Context, jobID, locator string) error
	Load(ctx context.Context, jobID string) (string, bool, error)
}

type memoryRecord struct {
	locator string
	expires time.Time
}

// MemoryLocatorStore keeps locators in process. A zero ttl keeps them forever.
type MemoryLocatorStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryLocatorStore(ttl time.Duration) *MemoryLocatorStore {
	return &MemoryLocatorStore{records: make(map[string]memoryRecord), ttl: ttl, now: time.Now}
}

func (s *MemoryLocatorStore) Save(_ context.Context, jobID, locator string) error {
	rec := memoryRecord{locator: locator}
	if s.ttl > 0 {
		rec.expires = s.now().Add(s.ttl)
	}
	s.mu.Lock()
	s.records[jobID] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryLocatorStore) Load(_ context.Context, jobID string) (string, bool, error) {
	s.mu.RLock()
	rec, ok := s.records[jobID]
	s.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !rec.expires.IsZero() && !s.now().Before(rec.expires) {
		s.mu.Lock()
		delete(s.records, jobID)
		s.mu.Unlock()
		return "", false, nil
	}
	return rec.locator, true, nil
}

const redisKeyPrefix = "vidgen:locator:"

// RedisLocatorStore keeps locators in Redis so they outlive the process.
// The caller owns the client lifecycle.
type RedisLocatorStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisLocatorStore(client redis.Cmdable, ttl time.Duration) *RedisLocatorStore {
	return &RedisLocatorStore{client: client, ttl: ttl}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisLocatorStore) Save(ctx context.Context, jobID, locator string) error {
	if err := s.client.Set(ctx, redisKeyPrefix+jobID, locator, s.ttl).Err(); err != nil {
		return fmt.Errorf("assets/redis: save locator: %w", err)
	}
	return nil
}

func (s *RedisLocatorStore) Load(ctx context.Context, jobID string) (string, bool, error) {
	val, err := s.client.Get(ctx, redisKeyPrefix+jobID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("assets/redis: load locator: %w", err)
	}
	return val, true, nil
}
