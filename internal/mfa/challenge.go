// Package mfa issues and verifies short-lived phone OTP challenges.
package mfa

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"phone-auth/backend/internal/mfa/domain"
	"phone-auth/backend/internal/mfa/repository"
)

// DefaultChallengeTTL is the lifetime of an issued code.
const DefaultChallengeTTL = 300 * time.Second

// ChallengeManager generates, stores, and verifies OTP challenges.
type ChallengeManager struct {
	repo repository.Repository
	ttl  time.Duration
	log  *zap.Logger
	nowF func() time.Time
}

// NewChallengeManager returns a manager storing challenges in repo for ttl
// (DefaultChallengeTTL when ttl <= 0). log may be nil.
func NewChallengeManager(repo repository.Repository, ttl time.Duration, log *zap.Logger) *ChallengeManager {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ChallengeManager{repo: repo, ttl: ttl, log: log, nowF: func() time.Time { return time.Now().UTC() }}
}

// TTL returns the challenge lifetime.
func (m *ChallengeManager) TTL() time.Duration { return m.ttl }

// Issue creates a new challenge for phone, overwriting any previous one, and returns
// the plain code for delivery. The code is not logged.
func (m *ChallengeManager) Issue(ctx context.Context, phone string) (string, error) {
	if err := ValidatePhone(phone); err != nil {
		return "", err
	}
	code, err := GenerateOTP()
	if err != nil {
		return "", fmt.Errorf("mfa: generate otp: %w", err)
	}
	now := m.nowF()
	c := &domain.Challenge{
		Phone:     phone,
		CodeHash:  HashOTP(code),
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	}
	if err := m.repo.Save(ctx, c, m.ttl); err != nil {
		return "", fmt.Errorf("mfa: save challenge: %w", err)
	}
	m.log.Debug("otp challenge issued", zap.String("phone", MaskPhone(phone)), zap.Time("expires_at", c.ExpiresAt))
	return code, nil
}

// Verify checks code against the stored challenge for phone. A match consumes the
// challenge; only the call that actually removes it gets true, so concurrent or
// repeated verifications of the same code succeed at most once. A mismatch records
// an attempt and leaves the challenge in place until it expires.
func (m *ChallengeManager) Verify(ctx context.Context, phone, code string) (bool, error) {
	if err := ValidatePhone(phone); err != nil {
		return false, err
	}
	c, err := m.repo.Get(ctx, phone)
	if err != nil {
		return false, fmt.Errorf("mfa: get challenge: %w", err)
	}
	if c == nil {
		return false, nil
	}
	now := m.nowF()
	if c.IsExpired(now) {
		if _, err := m.repo.Delete(ctx, phone); err != nil {
			return false, fmt.Errorf("mfa: delete expired challenge: %w", err)
		}
		return false, nil
	}
	if len(code) != otpDigits || !OTPEqual(code, c.CodeHash) {
		n, err := m.repo.IncrementAttempts(ctx, phone, c.ExpiresAt.Sub(now))
		if err != nil {
			m.log.Warn("otp attempt not recorded", zap.String("phone", MaskPhone(phone)), zap.Error(err))
		} else {
			m.log.Debug("otp mismatch", zap.String("phone", MaskPhone(phone)), zap.Int64("attempts", n))
		}
		return false, nil
	}
	removed, err := m.repo.Delete(ctx, phone)
	if err != nil {
		return false, fmt.Errorf("mfa: consume challenge: %w", err)
	}
	return removed, nil
}
