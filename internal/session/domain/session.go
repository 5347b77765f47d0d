package domain

import "time"

// Revocation reasons stored in revoked_reason.
const (
	ReasonUserLogout           = "user_logout"
	ReasonUserLogoutAllDevices = "user_logout_all_devices"
	ReasonTokenExpired         = "token_expired"
	ReasonAccountLocked        = "account_locked"
	ReasonAccountDeactivated   = "account_deactivated"
	ReasonRemovedFromOrg       = "removed_from_org"
)

// Session is one signed-in device. It holds only the hash of its current refresh token.
type Session struct {
	ID               string
	UserID           string
	OrgID            string
	RefreshTokenHash string
	DeviceID         string
	Platform         string
	IPAddress        string
	IsActive         bool
	ExpiresAt        time.Time
	RevokedAt        *time.Time // nil when not revoked
	RevokedReason    string
	LastSeenAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsUsable reports whether the session is active and unexpired at now.
func (s *Session) IsUsable(now time.Time) bool {
	return s.IsActive && s.ExpiresAt.After(now)
}
