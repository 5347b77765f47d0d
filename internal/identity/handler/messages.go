package handler

import "time"

type SendChallengeRequest struct {
	Phone string `json:"phone"`
}

type SendChallengeResponse struct {
	MaskedPhone string `json:"masked_phone"`
	ExpiresIn   int64  `json:"expires_in"`
	Message     string `json:"message"`
}

type VerifyAndLoginRequest struct {
	Phone    string `json:"phone"`
	Code     string `json:"code"`
	DeviceID string `json:"device_id,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// AuthResponse is returned by VerifyAndLogin and Refresh.
type AuthResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	IsNewUser        bool      `json:"is_new_user"`
	UserID           string    `json:"user_id"`
	OrgID            string    `json:"org_id"`
	Role             string    `json:"role"`
	SessionID        string    `json:"session_id"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
	AllDevices   bool   `json:"all_devices,omitempty"`
}

type LogoutResponse struct {
	DevicesLoggedOut int64 `json:"devices_logged_out"`
}

type ListSessionsRequest struct{}

// SessionInfo describes one live session. Current marks the session of the calling access token.
type SessionInfo struct {
	ID         string     `json:"id"`
	DeviceID   string     `json:"device_id,omitempty"`
	Platform   string     `json:"platform,omitempty"`
	IPAddress  string     `json:"ip_address,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Current    bool       `json:"current"`
}

type ListSessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}
