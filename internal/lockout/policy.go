// Package lockout locks an account for a fixed time after too many consecutive failed
// verifications. Lock expiry is purely time based; nothing unlocks an account early.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"phone-auth/backend/internal/audit"
	auditdomain "phone-auth/backend/internal/audit/domain"
	"phone-auth/backend/internal/autherr"
	userdomain "phone-auth/backend/internal/user/domain"
)

const (
	DefaultThreshold = 5
	DefaultDuration  = 30 * time.Minute
)

// Store is the persistence the policy needs. IncrementFailedAttempts must be atomic.
type Store interface {
	IncrementFailedAttempts(ctx context.Context, userID string) (int, error)
	SetFailedAttempts(ctx context.Context, userID string, n int) error
	Lock(ctx context.Context, userID string, until time.Time) error
}

// Outcome is the result of RecordFailure.
type Outcome struct {
	Locked      bool
	LockedUntil time.Time
	// Attempts is the failure count after this failure.
	Attempts int
	// Remaining is how many more failures are allowed before the lock; 0 when Locked.
	Remaining int
}

// Policy applies the lockout rules.
type Policy struct {
	store     Store
	threshold int
	duration  time.Duration
	audit     audit.AuditLogger
	log       *zap.Logger
	nowF      func() time.Time
}

// New returns a Policy. Non-positive threshold or duration select the defaults.
// auditLogger and log may be nil.
func New(store Store, threshold int, duration time.Duration, auditLogger audit.AuditLogger, log *zap.Logger) (*Policy, error) {
	if store == nil {
		return nil, errors.New("lockout: store is required")
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Policy{store: store, threshold: threshold, duration: duration, audit: auditLogger, log: log, nowF: time.Now}, nil
}

// Threshold returns the number of failures that triggers a lock.
func (p *Policy) Threshold() int { return p.threshold }

// Check returns an AccountLocked error when u is locked at now. It changes nothing.
func (p *Policy) Check(u *userdomain.User, now time.Time) error {
	if u != nil && u.IsLocked(now) {
		return autherr.AccountLocked(*u.LockedUntil)
	}
	return nil
}

// RecordFailure counts one failed verification for u. Reaching the threshold locks the account.
// When an earlier lock has already expired the count restarts at one.
func (p *Policy) RecordFailure(ctx context.Context, u *userdomain.User) (Outcome, error) {
	now := p.nowF().UTC()
	var n int
	if u.LockedUntil != nil && !u.LockedUntil.After(now) {
		if err := p.store.SetFailedAttempts(ctx, u.ID, 1); err != nil {
			return Outcome{}, fmt.Errorf("reset failed attempts: %w", err)
		}
		n = 1
	} else {
		var err error
		if n, err = p.store.IncrementFailedAttempts(ctx, u.ID); err != nil {
			return Outcome{}, fmt.Errorf("increment failed attempts: %w", err)
		}
	}
	u.FailedLoginAttempts = n

	if n < p.threshold {
		return Outcome{Attempts: n, Remaining: p.threshold - n}, nil
	}

	until := now.Add(p.duration)
	if err := p.store.Lock(ctx, u.ID, until); err != nil {
		return Outcome{}, fmt.Errorf("lock account: %w", err)
	}
	u.LockedUntil = &until
	p.log.Warn("account locked",
		zap.String("user_id", u.ID),
		zap.Int("failed_attempts", n),
		zap.Time("locked_until", until))
	p.audit.LogEvent(ctx, audit.Event{
		UserID:   u.ID,
		Action:   auditdomain.ActionAccountLocked,
		Resource: auditdomain.ResourceUser,
		Metadata: map[string]string{
			"failed_attempts": strconv.Itoa(n),
			"locked_until":    until.Format(time.RFC3339),
		},
	})
	return Outcome{Locked: true, LockedUntil: until, Attempts: n}, nil
}

// RecordSuccess clears the failure count. An active lock is left to expire on its own.
func (p *Policy) RecordSuccess(ctx context.Context, u *userdomain.User) error {
	if err := p.store.SetFailedAttempts(ctx, u.ID, 0); err != nil {
		return fmt.Errorf("reset failed attempts: %w", err)
	}
	u.FailedLoginAttempts = 0
	return nil
}
