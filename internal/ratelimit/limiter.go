// Package ratelimit implements fixed-window request counters on a kv.Store.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"phone-auth/backend/internal/kv"
)

// Result is the outcome of one Check.
type Result struct {
	Allowed bool
	// RetryAfter is the time until the window resets; zero when Allowed.
	RetryAfter   time.Duration
	CurrentCount int64
	Limit        int64
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds (0 when allowed).
func (r Result) RetryAfterSeconds() int64 {
	if r.Allowed {
		return 0
	}
	s := int64((r.RetryAfter + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// Limiter is a fixed-window counter: the first hit opens a window of Window length,
// hits beyond Max inside the window are denied, and the counter restarts at 1 when
// the store expires it.
type Limiter struct {
	store  kv.Store
	prefix string
	max    int64
	window time.Duration
}

// New returns a Limiter. max must be positive and window at least one second.
func New(store kv.Store, prefix string, max int, window time.Duration) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: store is required")
	}
	if max <= 0 {
		return nil, fmt.Errorf("ratelimit: max must be positive, got %d", max)
	}
	if window < time.Second {
		return nil, fmt.Errorf("ratelimit: window must be at least 1s, got %v", window)
	}
	if prefix == "" {
		prefix = "rl:"
	}
	return &Limiter{store: store, prefix: prefix, max: int64(max), window: window}, nil
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Check counts one request for key and reports whether it is within the limit.
func (l *Limiter) Check(ctx context.Context, key string) (Result, error) {
	k := l.prefix + strings.ReplaceAll(key, " ", "_")
	n, err := l.store.IncrWithExpiry(ctx, k, l.window)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: incr: %w", err)
	}
	res := Result{Allowed: n <= l.max, CurrentCount: n, Limit: l.max}
	if res.Allowed {
		return res, nil
	}
	ttl, err := l.store.TTL(ctx, k)
	if err != nil || ttl <= 0 {
		// Unreadable TTL: report the full window rather than zero.
		ttl = l.window
	}
	res.RetryAfter = ttl
	return res, nil
}
