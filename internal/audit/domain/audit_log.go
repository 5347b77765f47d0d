package domain

import "time"

// AuditLog represents an audit event.
type AuditLog struct {
	ID        string
	OrgID     string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Actions recorded by the authentication flows.
const (
	ActionOtpSent          = "otp_sent"
	ActionLoginSuccess     = "login_success"
	ActionLoginFailure     = "login_failure"
	ActionAccountLocked    = "account_locked"
	ActionTokenRefreshed   = "token_refreshed"
	ActionLogout           = "logout"
	ActionLogoutAllDevices = "logout_all_devices"
	ActionSessionRevoked   = "session_revoked"
)

// Resources events are recorded against.
const (
	ResourceAuth    = "authentication"
	ResourceUser    = "user"
	ResourceSession = "session"
)
