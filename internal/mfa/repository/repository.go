package repository

import (
	"context"
	"time"

	"phone-auth/backend/internal/mfa/domain"
)

// Repository defines ephemeral persistence for OTP challenges keyed by phone.
type Repository interface {
	// Save stores c for phone for ttl, replacing any previous challenge and resetting its attempts.
	Save(ctx context.Context, c *domain.Challenge, ttl time.Duration) error
	// Get returns the challenge for phone, or nil if none is stored.
	Get(ctx context.Context, phone string) (*domain.Challenge, error)
	// Delete removes the challenge for phone and reports whether this call removed it.
	Delete(ctx context.Context, phone string) (bool, error)
	// IncrementAttempts records one failed verification; ttl bounds the counter's lifetime.
	IncrementAttempts(ctx context.Context, phone string, ttl time.Duration) (int64, error)
}
