package domain

import (
	"errors"
	"time"
)

// User is an account identified by its phone number.
type User struct {
	ID                  string
	PhoneNumber         string // E.164, unique
	Name                string
	IsActive            bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLoginAt         *time.Time
	LastLoginIP         string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsLocked reports whether the account is locked at now. A lock whose time has passed is not a lock.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("id is required")
	}
	if u.PhoneNumber == "" {
		return errors.New("phone number is required")
	}
	return nil
}
