// Package kv defines the ephemeral key-value store used for OTP challenges and
// rate-limit counters. Expiry is enforced by the store, never by callers.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and TTL when the key is absent or expired.
var ErrNotFound = errors.New("kv: key not found")

// NoExpiry is returned by TTL for a key that exists without an expiry.
const NoExpiry time.Duration = -1

// Store is an ephemeral key-value store with provider-enforced TTL.
// Implementations must make IncrWithExpiry and Delete atomic per key.
type Store interface {
	// SetWithExpiry stores value under key, replacing any previous value and expiry.
	SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key and reports whether this call removed it.
	Delete(ctx context.Context, key string) (bool, error)
	// IncrWithExpiry increments the counter at key and returns the new value. When the
	// counter is created (value 1) its expiry is set to ttl in the same atomic step.
	IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// TTL returns the remaining lifetime of key, NoExpiry, or ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Close releases the underlying connection.
	Close() error
}
