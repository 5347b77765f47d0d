package kv

import (
	"context"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore is an in-process Store backed by go-cache. It is used when no Redis
// address is configured (single-instance dev) and in tests.
type MemoryStore struct {
	// mu serialises read-modify-write sequences that go-cache does not offer atomically.
	mu sync.Mutex
	c  *gocache.Cache
}

// NewMemoryStore returns a MemoryStore whose janitor purges expired keys every cleanup interval.
func NewMemoryStore(cleanup time.Duration) *MemoryStore {
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &MemoryStore{c: gocache.New(gocache.NoExpiration, cleanup)}
}

func (s *MemoryStore) SetWithExpiry(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b := make([]byte, len(value))
	copy(b, value)
	s.mu.Lock()
	s.c.Set(key, b, ttl)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	switch b := v.(type) {
	case []byte:
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	case int64:
		// Counters read back the way Redis returns them.
		return []byte(strconv.FormatInt(b, 10)), nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.c.Get(key); !ok {
		return false, nil
	}
	s.c.Delete(key)
	return true, nil
}

func (s *MemoryStore) IncrWithExpiry(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Add fails when a live item exists; an expired item counts as absent.
	if err := s.c.Add(key, int64(1), ttl); err == nil {
		return 1, nil
	}
	n, err := s.c.IncrementInt64(key, 1)
	if err != nil {
		s.c.Set(key, int64(1), ttl)
		return 1, nil
	}
	return n, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	_, exp, ok := s.c.GetWithExpiration(key)
	if !ok {
		return 0, ErrNotFound
	}
	if exp.IsZero() {
		return NoExpiry, nil
	}
	d := time.Until(exp)
	if d <= 0 {
		return 0, ErrNotFound
	}
	return d, nil
}

// Close is a no-op; the go-cache janitor stops when the cache is collected.
func (s *MemoryStore) Close() error { return nil }
