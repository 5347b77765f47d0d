package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"phone-auth/backend/internal/db"
	"phone-auth/backend/internal/membership/domain"
)

const membershipColumns = `id, user_id, org_id, role, created_at`

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a membership repository over conn (a pool or a transaction).
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

func (r *PostgresRepository) GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error) {
	return r.getOne(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE user_id = $1 AND org_id = $2`, userID, orgID)
}

func (r *PostgresRepository) GetPrimaryMembership(ctx context.Context, userID string) (*domain.Membership, error) {
	return r.getOne(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE user_id = $1 ORDER BY created_at, id LIMIT 1`, userID)
}

func (r *PostgresRepository) getOne(ctx context.Context, q string, args ...any) (*domain.Membership, error) {
	var m domain.Membership
	err := r.db.QueryRow(ctx, q, args...).Scan(&m.ID, &m.UserID, &m.OrgID, &m.Role, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMembership persists m. The membership must have ID set.
func (r *PostgresRepository) CreateMembership(ctx context.Context, m *domain.Membership) error {
	if !m.Role.Valid() {
		return fmt.Errorf("invalid role %q", m.Role)
	}
	_, err := r.db.Exec(ctx, `INSERT INTO memberships (id, user_id, org_id, role, created_at) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.UserID, m.OrgID, string(m.Role), m.CreatedAt)
	return err
}
