// Package session tracks signed-in devices. Each session holds the hash of exactly one live
// refresh token; rotation replaces it atomically so a refresh token is usable once.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"phone-auth/backend/internal/session/domain"
	"phone-auth/backend/internal/session/repository"
)

// ErrStaleSession is returned by Rotate when another rotation or a revocation won.
var ErrStaleSession = repository.ErrStaleSession

// NewSession describes a session to create. ID may be preset so it can be embedded in the
// tokens before the row exists; an empty ID gets a fresh UUID.
type NewSession struct {
	ID               string
	UserID           string
	OrgID            string
	RefreshTokenHash string
	DeviceID         string
	Platform         string
	IPAddress        string
	ExpiresAt        time.Time
}

// Store is the session lifecycle API used by the orchestrator.
type Store struct {
	repo repository.Repository
	nowF func() time.Time
}

// NewStore returns a Store over repo.
func NewStore(repo repository.Repository) *Store {
	return &Store{repo: repo, nowF: time.Now}
}

// Create persists an active session.
func (s *Store) Create(ctx context.Context, n NewSession) (*domain.Session, error) {
	if n.UserID == "" || n.OrgID == "" {
		return nil, errors.New("session user and org are required")
	}
	if n.RefreshTokenHash == "" {
		return nil, errors.New("session refresh hash is required")
	}
	now := s.nowF().UTC()
	if !n.ExpiresAt.After(now) {
		return nil, errors.New("session expiry must be in the future")
	}
	id := n.ID
	if id == "" {
		id = uuid.New().String()
	}
	sess := &domain.Session{
		ID:               id,
		UserID:           n.UserID,
		OrgID:            n.OrgID,
		RefreshTokenHash: n.RefreshTokenHash,
		DeviceID:         n.DeviceID,
		Platform:         n.Platform,
		IPAddress:        n.IPAddress,
		IsActive:         true,
		ExpiresAt:        n.ExpiresAt.UTC(),
		LastSeenAt:       &now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// FindByHash returns the session owning refreshHash in any state, or nil.
func (s *Store) FindByHash(ctx context.Context, refreshHash string) (*domain.Session, error) {
	return s.repo.FindByHash(ctx, refreshHash)
}

// FindActiveByHash returns the session owning refreshHash only while it is active and unexpired.
func (s *Store) FindActiveByHash(ctx context.Context, refreshHash string) (*domain.Session, error) {
	return s.repo.FindActiveByHash(ctx, refreshHash, s.nowF().UTC())
}

// Rotate replaces oldHash with newHash and extends the session to newExpiresAt.
func (s *Store) Rotate(ctx context.Context, sessionID, oldHash, newHash string, newExpiresAt time.Time) error {
	if oldHash == newHash {
		return errors.New("rotation requires a new refresh hash")
	}
	return s.repo.Rotate(ctx, sessionID, oldHash, newHash, newExpiresAt, s.nowF().UTC())
}

// Revoke deactivates one session. Repeating it is harmless.
func (s *Store) Revoke(ctx context.Context, sessionID, reason string) (bool, error) {
	return s.repo.Revoke(ctx, sessionID, reason, s.nowF().UTC())
}

// RevokeAllForUser deactivates every active session of userID.
func (s *Store) RevokeAllForUser(ctx context.Context, userID, reason string) (int64, error) {
	return s.repo.RevokeAllForUser(ctx, userID, reason, s.nowF().UTC())
}

// ListActiveForUser returns the user's usable sessions, newest first.
func (s *Store) ListActiveForUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	return s.repo.ListActiveForUser(ctx, userID, s.nowF().UTC())
}
