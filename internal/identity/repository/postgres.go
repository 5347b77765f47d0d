package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"phone-auth/backend/internal/db"
	"phone-auth/backend/internal/identity/domain"
	membershipdomain "phone-auth/backend/internal/membership/domain"
	membershiprepo "phone-auth/backend/internal/membership/repository"
	orgdomain "phone-auth/backend/internal/organization/domain"
	orgrepo "phone-auth/backend/internal/organization/repository"
	userdomain "phone-auth/backend/internal/user/domain"
	userrepo "phone-auth/backend/internal/user/repository"
)

// Pool is the subset of *pgxpool.Pool the repository uses.
type Pool interface {
	db.DBTX
	db.TxBeginner
}

var _ Pool = (*pgxpool.Pool)(nil)

// PostgresRepository composes the user, organization and membership repositories.
type PostgresRepository struct {
	pool        Pool
	users       *userrepo.PostgresRepository
	orgs        *orgrepo.PostgresRepository
	memberships *membershiprepo.PostgresRepository
	nowF        func() time.Time
}

// NewPostgresRepository returns an account repository over pool.
func NewPostgresRepository(pool Pool) *PostgresRepository {
	return &PostgresRepository{
		pool:        pool,
		users:       userrepo.NewPostgresRepository(pool),
		orgs:        orgrepo.NewPostgresRepository(pool),
		memberships: membershiprepo.NewPostgresRepository(pool),
		nowF:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *PostgresRepository) FindUserByPhone(ctx context.Context, phone string) (*userdomain.User, error) {
	return r.users.GetByPhone(ctx, phone)
}

func (r *PostgresRepository) GetPrimaryMembership(ctx context.Context, userID string) (*membershipdomain.Membership, error) {
	return r.memberships.GetPrimaryMembership(ctx, userID)
}

func (r *PostgresRepository) GetUserOrgContext(ctx context.Context, userID, orgID string) (*domain.OrgContext, error) {
	u, err := r.users.GetByID(ctx, userID)
	if err != nil || u == nil {
		return nil, err
	}
	o, err := r.orgs.GetOrganizationByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	oc := &domain.OrgContext{User: u, Org: o}
	if o == nil {
		return oc, nil
	}
	m, err := r.memberships.GetMembershipByUserAndOrg(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	oc.Membership = m
	return oc, nil
}

func (r *PostgresRepository) CreateUserWithDefaultOrg(ctx context.Context, phone, name string) (*domain.OrgContext, bool, error) {
	now := r.nowF()
	u := &userdomain.User{
		ID:          uuid.New().String(),
		PhoneNumber: phone,
		Name:        name,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	o := &orgdomain.Org{
		ID:        uuid.New().String(),
		Name:      orgdomain.DefaultName(name),
		Status:    orgdomain.OrgStatusActive,
		CreatedAt: now,
	}
	m := &membershipdomain.Membership{
		ID:        uuid.New().String(),
		UserID:    u.ID,
		OrgID:     o.ID,
		Role:      membershipdomain.RoleOwner,
		CreatedAt: now,
	}

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := userrepo.NewPostgresRepository(tx).Create(ctx, u); err != nil {
			return err
		}
		if err := orgrepo.NewPostgresRepository(tx).CreateOrganization(ctx, o); err != nil {
			return err
		}
		return membershiprepo.NewPostgresRepository(tx).CreateMembership(ctx, m)
	})
	if err == nil {
		return &domain.OrgContext{User: u, Org: o, Membership: m}, true, nil
	}
	if !db.IsUniqueViolation(err) {
		return nil, false, fmt.Errorf("create account: %w", err)
	}

	// Lost the race to a concurrent signup for the same phone.
	existing, ferr := r.users.GetByPhone(ctx, phone)
	if ferr != nil {
		return nil, false, ferr
	}
	if existing == nil {
		return nil, false, errors.New("create account: conflicting user vanished")
	}
	pm, ferr := r.memberships.GetPrimaryMembership(ctx, existing.ID)
	if ferr != nil {
		return nil, false, ferr
	}
	if pm == nil {
		return &domain.OrgContext{User: existing}, false, nil
	}
	oc, ferr := r.GetUserOrgContext(ctx, existing.ID, pm.OrgID)
	if ferr != nil {
		return nil, false, ferr
	}
	return oc, false, nil
}
