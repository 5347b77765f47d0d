package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"phone-auth/backend/internal/kv"
	"phone-auth/backend/internal/mfa/domain"
)

const (
	challengePrefix = "otp:"
	attemptsPrefix  = "otp_attempts:"
)

// KVRepository stores challenges as JSON in a kv.Store. The attempts counter lives
// under its own key so a failed verification never rewrites the challenge record.
type KVRepository struct {
	store kv.Store
}

// NewKVRepository returns a challenge repository on store.
func NewKVRepository(store kv.Store) *KVRepository {
	return &KVRepository{store: store}
}

// Save stores c for ttl.
func (r *KVRepository) Save(ctx context.Context, c *domain.Challenge, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("mfa: challenge ttl must be positive")
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if _, err := r.store.Delete(ctx, attemptsPrefix+c.Phone); err != nil {
		return err
	}
	return r.store.SetWithExpiry(ctx, challengePrefix+c.Phone, raw, ttl)
}

// Get returns the stored challenge or nil when absent.
func (r *KVRepository) Get(ctx context.Context, phone string) (*domain.Challenge, error) {
	raw, err := r.store.Get(ctx, challengePrefix+phone)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var c domain.Challenge
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	if b, err := r.store.Get(ctx, attemptsPrefix+phone); err == nil {
		c.Attempts, _ = strconv.ParseInt(string(b), 10, 64)
	}
	return &c, nil
}

// Delete removes the challenge and its attempts counter.
func (r *KVRepository) Delete(ctx context.Context, phone string) (bool, error) {
	removed, err := r.store.Delete(ctx, challengePrefix+phone)
	if err != nil {
		return false, err
	}
	_, _ = r.store.Delete(ctx, attemptsPrefix+phone)
	return removed, nil
}

// IncrementAttempts bumps the attempts counter for phone.
func (r *KVRepository) IncrementAttempts(ctx context.Context, phone string, ttl time.Duration) (int64, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	return r.store.IncrWithExpiry(ctx, attemptsPrefix+phone, ttl)
}
