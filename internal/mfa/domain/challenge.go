package domain

import "time"

// Challenge is a one-time code bound to a phone number. Only the code hash is stored.
type Challenge struct {
	Phone     string    `json:"phone"`
	CodeHash  string    `json:"code_hash"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	// Attempts counts failed verifications against this code. Informational only;
	// account lockout is tracked on the user.
	Attempts int64 `json:"-"`
}

// IsExpired reports whether the challenge is past its expiry at now.
func (c *Challenge) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}
