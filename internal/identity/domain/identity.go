package domain

import (
	membershipdomain "phone-auth/backend/internal/membership/domain"
	orgdomain "phone-auth/backend/internal/organization/domain"
	userdomain "phone-auth/backend/internal/user/domain"
)

// OrgContext is a user together with the organization a session is bound to.
// Membership is nil when the user no longer belongs to Org.
type OrgContext struct {
	User       *userdomain.User
	Org        *orgdomain.Org
	Membership *membershipdomain.Membership
}

// Role returns the membership role, or "" when there is no membership.
func (c *OrgContext) Role() string {
	if c == nil || c.Membership == nil {
		return ""
	}
	return string(c.Membership.Role)
}

// Device describes the client that is logging in. All fields are optional.
type Device struct {
	DeviceID string
	Platform string
}
