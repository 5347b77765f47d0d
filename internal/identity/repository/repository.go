package repository

import (
	"context"

	"phone-auth/backend/internal/identity/domain"
	membershipdomain "phone-auth/backend/internal/membership/domain"
	userdomain "phone-auth/backend/internal/user/domain"
)

// Repository is the account store the authentication flows read and bootstrap through.
type Repository interface {
	FindUserByPhone(ctx context.Context, phone string) (*userdomain.User, error)
	// CreateUserWithDefaultOrg creates the user, a personal organization and an owner membership
	// atomically. When another request created the same phone first, the existing account is
	// returned with created false.
	CreateUserWithDefaultOrg(ctx context.Context, phone, name string) (oc *domain.OrgContext, created bool, err error)
	// GetUserOrgContext loads the user and org; Membership is nil if the user is not a member.
	// Returns nil, nil when the user does not exist.
	GetUserOrgContext(ctx context.Context, userID, orgID string) (*domain.OrgContext, error)
	GetPrimaryMembership(ctx context.Context, userID string) (*membershipdomain.Membership, error)
}
