package repository

import (
	"context"
	"errors"
	"time"

	"phone-auth/backend/internal/session/domain"
)

var (
	// ErrStaleSession is returned by Rotate when the session is no longer active or its
	// refresh hash changed since it was read (a concurrent refresh won).
	ErrStaleSession = errors.New("session changed or revoked")
	// ErrDuplicateSession is returned by Create on an id or refresh hash collision.
	ErrDuplicateSession = errors.New("duplicate session")
)

// Repository defines persistence for sessions. Lookups return nil, nil when nothing matches.
type Repository interface {
	// Create persists s. s.ID, s.RefreshTokenHash and s.ExpiresAt must be set.
	Create(ctx context.Context, s *domain.Session) error
	// FindByHash returns the session with this refresh hash in any state.
	FindByHash(ctx context.Context, refreshHash string) (*domain.Session, error)
	// FindActiveByHash returns the session only while active and unexpired at now.
	FindActiveByHash(ctx context.Context, refreshHash string, now time.Time) (*domain.Session, error)
	// Rotate swaps oldHash for newHash only while the session is active and still holds oldHash.
	Rotate(ctx context.Context, sessionID, oldHash, newHash string, newExpiresAt, at time.Time) error
	// Revoke marks the session inactive with reason. Revoking an inactive or unknown session is a
	// no-op; revoked reports whether this call changed anything.
	Revoke(ctx context.Context, sessionID, reason string, at time.Time) (revoked bool, err error)
	// RevokeAllForUser revokes every active session of the user and returns how many changed.
	RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error)
	// ListActiveForUser returns usable sessions, newest first.
	ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error)
}
