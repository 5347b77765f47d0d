package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"phone-auth/backend/internal/session/domain"
)

// MemoryRepository is a mutex-guarded Repository with the same compare-and-swap semantics as the
// Postgres one. It backs tests and single-process development runs.
type MemoryRepository struct {
	mu     sync.Mutex
	byID   map[string]*domain.Session
	byHash map[string]string
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: map[string]*domain.Session{}, byHash: map[string]string{}}
}

func (m *MemoryRepository) Create(_ context.Context, s *domain.Session) error {
	if s.ID == "" || s.RefreshTokenHash == "" || s.ExpiresAt.IsZero() {
		return errors.New("session id, refresh hash and expiry are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[s.ID]; ok {
		return ErrDuplicateSession
	}
	if _, ok := m.byHash[s.RefreshTokenHash]; ok {
		return ErrDuplicateSession
	}
	s.IsActive = true
	s.UpdatedAt = s.CreatedAt
	cp := *s
	m.byID[s.ID] = &cp
	m.byHash[s.RefreshTokenHash] = s.ID
	return nil
}

func (m *MemoryRepository) FindByHash(_ context.Context, refreshHash string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyOf(m.byID[m.byHash[refreshHash]]), nil
}

func (m *MemoryRepository) FindActiveByHash(_ context.Context, refreshHash string, now time.Time) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.byID[m.byHash[refreshHash]]
	if s == nil || !s.IsUsable(now) {
		return nil, nil
	}
	return m.copyOf(s), nil
}

func (m *MemoryRepository) Rotate(_ context.Context, sessionID, oldHash, newHash string, newExpiresAt, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.byID[sessionID]
	if s == nil || !s.IsActive || s.RefreshTokenHash != oldHash {
		return ErrStaleSession
	}
	if other, ok := m.byHash[newHash]; ok && other != sessionID {
		return ErrDuplicateSession
	}
	delete(m.byHash, oldHash)
	m.byHash[newHash] = sessionID
	s.RefreshTokenHash = newHash
	s.ExpiresAt = newExpiresAt
	seen := at
	s.LastSeenAt = &seen
	s.UpdatedAt = at
	return nil
}

func (m *MemoryRepository) Revoke(_ context.Context, sessionID, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.byID[sessionID]
	if s == nil || !s.IsActive {
		return false, nil
	}
	revoke(s, reason, at)
	return true, nil
}

func (m *MemoryRepository) RevokeAllForUser(_ context.Context, userID, reason string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.byID {
		if s.UserID == userID && s.IsActive {
			revoke(s, reason, at)
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) ListActiveForUser(_ context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Session
	for _, s := range m.byID {
		if s.UserID == userID && s.IsUsable(now) {
			out = append(out, m.copyOf(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func revoke(s *domain.Session, reason string, at time.Time) {
	t := at
	s.IsActive = false
	s.RevokedAt = &t
	s.RevokedReason = reason
	s.UpdatedAt = at
}

func (m *MemoryRepository) copyOf(s *domain.Session) *domain.Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
