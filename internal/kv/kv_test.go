package kv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewRedisStoreFromClient(rdb.NewClient(&rdb.Options{Addr: mr.Addr()}), "test:")
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func stores(t *testing.T) map[string]Store {
	redisStore, _ := newRedisTestStore(t)
	return map[string]Store{
		"memory": NewMemoryStore(time.Minute),
		"redis":  redisStore,
	}
}

func TestStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.SetWithExpiry(ctx, "k", []byte("v1"), time.Minute))
			got, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v1"), got)

			require.NoError(t, s.SetWithExpiry(ctx, "k", []byte("v2"), time.Minute))
			got, err = s.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), got)

			deleted, err := s.Delete(ctx, "k")
			require.NoError(t, err)
			assert.True(t, deleted)

			deleted, err = s.Delete(ctx, "k")
			require.NoError(t, err)
			assert.False(t, deleted, "second delete must report nothing removed")
		})
	}
}

func TestStore_IncrWithExpiry(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for want := int64(1); want <= 4; want++ {
				n, err := s.IncrWithExpiry(ctx, "ctr", time.Minute)
				require.NoError(t, err)
				assert.Equal(t, want, n)
			}
			ttl, err := s.TTL(ctx, "ctr")
			require.NoError(t, err)
			assert.Greater(t, ttl, time.Duration(0))
			assert.LessOrEqual(t, ttl, time.Minute)
		})
	}
}

func TestStore_IncrConcurrentSingleFirst(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			const workers = 20
			var wg sync.WaitGroup
			results := make(chan int64, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					n, err := s.IncrWithExpiry(ctx, "race", time.Minute)
					assert.NoError(t, err)
					results <- n
				}()
			}
			wg.Wait()
			close(results)
			seen := map[int64]bool{}
			for n := range results {
				assert.False(t, seen[n], "value %d observed twice", n)
				seen[n] = true
			}
			assert.Len(t, seen, workers)
		})
	}
}

func TestStore_TTLMissing(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.TTL(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRedisStore_WindowExpires(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisTestStore(t)

	n, err := s.IncrWithExpiry(ctx, "w", 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	_, err = s.IncrWithExpiry(ctx, "w", 10*time.Second)
	require.NoError(t, err)

	mr.FastForward(11 * time.Second)

	n, err = s.IncrWithExpiry(ctx, "w", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "new window restarts at 1")
}

func TestRedisStore_IncrRepairsMissingExpiry(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisTestStore(t)
	require.NoError(t, mr.Set("test:stuck", "5"))

	n, err := s.IncrWithExpiry(ctx, "stuck", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
	ttl, err := s.TTL(ctx, "stuck")
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRedisStore_TTLNoExpiry(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisTestStore(t)
	require.NoError(t, mr.Set("test:plain", "x"))
	ttl, err := s.TTL(ctx, "plain")
	require.NoError(t, err)
	assert.Equal(t, NoExpiry, ttl)
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)
	require.NoError(t, s.SetWithExpiry(ctx, "short", []byte("x"), 20*time.Millisecond))
	n, err := s.IncrWithExpiry(ctx, "ctr", 20*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	time.Sleep(40 * time.Millisecond)

	_, err = s.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)
	n, err = s.IncrWithExpiry(ctx, "ctr", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStore_CounterReadableViaGet(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.IncrWithExpiry(ctx, "n", time.Minute)
			require.NoError(t, err)
			_, err = s.IncrWithExpiry(ctx, "n", time.Minute)
			require.NoError(t, err)
			b, err := s.Get(ctx, "n")
			require.NoError(t, err)
			assert.Equal(t, "2", string(b))
		})
	}
}
