package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// incrScript increments KEYS[1] and sets its expiry when the counter is new or has
// lost its expiry, so no caller can observe a counter that never expires.
var incrScript = rdb.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 or redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every key (e.g. "phoneauth:").
	Prefix string
}

// RedisStore implements Store on Redis.
type RedisStore struct {
	c      rdb.UniversalClient
	prefix string
}

// NewRedisStore connects to Redis and pings it. Caller must Close the store.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	c := rdb.NewClient(&rdb.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("kv: redis ping: %w", err)
	}
	return &RedisStore{c: c, prefix: opts.Prefix}, nil
}

// NewRedisStoreFromClient wraps an existing client; Close closes the client.
func NewRedisStoreFromClient(c rdb.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{c: c, prefix: prefix}
}

func (s *RedisStore) k(key string) string { return s.prefix + key }

func (s *RedisStore) SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.c.Set(ctx, s.k(key), value, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.c.Get(ctx, s.k(key)).Bytes()
	if err != nil {
		if errors.Is(err, rdb.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.c.Del(ctx, s.k(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ms := ttl.Milliseconds()
	if ms <= 0 {
		return 0, fmt.Errorf("kv: ttl must be positive, got %v", ttl)
	}
	return incrScript.Run(ctx, s.c, []string{s.k(key)}, ms).Int64()
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.c.PTTL(ctx, s.k(key)).Result()
	if err != nil {
		return 0, err
	}
	// go-redis reports the raw -2 (missing) and -1 (no expiry) replies unscaled.
	switch d {
	case -2:
		return 0, ErrNotFound
	case -1:
		return NoExpiry, nil
	}
	return d, nil
}

// Ping checks connectivity; used by readiness checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.c.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.c.Close()
}
