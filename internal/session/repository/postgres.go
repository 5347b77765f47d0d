package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"phone-auth/backend/internal/db"
	"phone-auth/backend/internal/session/domain"
)

const sessionColumns = `id, user_id, org_id, refresh_token_hash, COALESCE(device_id, ''), COALESCE(platform, ''),
	COALESCE(ip_address, ''), is_active, expires_at, revoked_at, COALESCE(revoked_reason, ''),
	last_seen_at, created_at, updated_at`

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a session repository over conn.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	if s.ID == "" || s.RefreshTokenHash == "" || s.ExpiresAt.IsZero() {
		return errors.New("session id, refresh hash and expiry are required")
	}
	_, err := r.db.Exec(ctx, `INSERT INTO sessions (id, user_id, org_id, refresh_token_hash, device_id, platform,
		ip_address, is_active, expires_at, last_seen_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), TRUE, $8, $9, $10, $10)`,
		s.ID, s.UserID, s.OrgID, s.RefreshTokenHash, s.DeviceID, s.Platform, s.IPAddress,
		s.ExpiresAt.UTC(), s.LastSeenAt, s.CreatedAt.UTC())
	if db.IsUniqueViolation(err) {
		return ErrDuplicateSession
	}
	if err != nil {
		return err
	}
	s.IsActive = true
	s.UpdatedAt = s.CreatedAt
	return nil
}

func (r *PostgresRepository) FindByHash(ctx context.Context, refreshHash string) (*domain.Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_token_hash = $1`, refreshHash)
}

func (r *PostgresRepository) FindActiveByHash(ctx context.Context, refreshHash string, now time.Time) (*domain.Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE refresh_token_hash = $1 AND is_active AND expires_at > $2`, refreshHash, now.UTC())
}

func (r *PostgresRepository) getOne(ctx context.Context, q string, args ...any) (*domain.Session, error) {
	s, err := scanSession(r.db.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Rotate is a compare-and-swap on refresh_token_hash; exactly one of several concurrent
// rotations of the same hash can match.
func (r *PostgresRepository) Rotate(ctx context.Context, sessionID, oldHash, newHash string, newExpiresAt, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE sessions
		SET refresh_token_hash = $3, expires_at = $4, last_seen_at = $5, updated_at = $5
		WHERE id = $1 AND refresh_token_hash = $2 AND is_active`,
		sessionID, oldHash, newHash, newExpiresAt.UTC(), at.UTC())
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("rotate session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleSession
	}
	return nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, sessionID, reason string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE sessions SET is_active = FALSE, revoked_at = $3, revoked_reason = $2, updated_at = $3
		WHERE id = $1 AND is_active`, sessionID, reason, at.UTC())
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE sessions SET is_active = FALSE, revoked_at = $3, revoked_reason = $2, updated_at = $3
		WHERE user_id = $1 AND is_active`, userID, reason, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	rows, err := r.db.Query(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND is_active AND expires_at > $2 ORDER BY created_at DESC`, userID, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	if err := row.Scan(&s.ID, &s.UserID, &s.OrgID, &s.RefreshTokenHash, &s.DeviceID, &s.Platform,
		&s.IPAddress, &s.IsActive, &s.ExpiresAt, &s.RevokedAt, &s.RevokedReason,
		&s.LastSeenAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}
