package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"phone-auth/backend/internal/db"
	"phone-auth/backend/internal/user/domain"
)

// ErrUserNotFound is returned by mutations that matched no row.
var ErrUserNotFound = errors.New("user not found")

const userColumns = `id, phone_number, COALESCE(name, ''), is_active, failed_login_attempts,
	locked_until, last_login_at, COALESCE(last_login_ip, ''), created_at, updated_at`

type PostgresRepository struct {
	db   db.DBTX
	nowF func() time.Time
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository returns a user repository over conn (a pool or a transaction).
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn, nowF: func() time.Time { return time.Now().UTC() }}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByPhone returns the user with the given phone number, or nil if not found.
func (r *PostgresRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE phone_number = $1`, phone)
}

func (r *PostgresRepository) getOne(ctx context.Context, q string, arg any) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, q, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Create persists the user. The user must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx, `INSERT INTO users (id, phone_number, name, is_active, failed_login_attempts, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)`,
		u.ID, u.PhoneNumber, u.Name, u.IsActive, u.FailedLoginAttempts, u.CreatedAt, u.UpdatedAt)
	return err
}

// IncrementFailedAttempts adds one in a single UPDATE so concurrent failures are all counted.
func (r *PostgresRepository) IncrementFailedAttempts(ctx context.Context, id string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `UPDATE users SET failed_login_attempts = failed_login_attempts + 1, updated_at = $2
		WHERE id = $1 RETURNING failed_login_attempts`, id, r.nowF()).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	return n, err
}

func (r *PostgresRepository) SetFailedAttempts(ctx context.Context, id string, n int) error {
	return r.execOne(ctx, `UPDATE users SET failed_login_attempts = $2, updated_at = $3 WHERE id = $1`, id, n, r.nowF())
}

func (r *PostgresRepository) Lock(ctx context.Context, id string, until time.Time) error {
	return r.execOne(ctx, `UPDATE users SET locked_until = $2, updated_at = $3 WHERE id = $1`, id, until.UTC(), r.nowF())
}

// TouchLogin records the time and address of a successful login.
func (r *PostgresRepository) TouchLogin(ctx context.Context, id, ip string, at time.Time) error {
	return r.execOne(ctx, `UPDATE users SET last_login_at = $2, last_login_ip = NULLIF($3, ''), updated_at = $2 WHERE id = $1`, id, at.UTC(), ip)
}

func (r *PostgresRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.execOne(ctx, `UPDATE users SET is_active = $2, updated_at = $3 WHERE id = $1`, id, active, r.nowF())
}

func (r *PostgresRepository) execOne(ctx context.Context, q string, args ...any) error {
	tag, err := r.db.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.PhoneNumber, &u.Name, &u.IsActive, &u.FailedLoginAttempts,
		&u.LockedUntil, &u.LastLoginAt, &u.LastLoginIP, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
