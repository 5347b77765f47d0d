package mfa

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phone-auth/backend/internal/kv"
	"phone-auth/backend/internal/mfa/repository"
)

const testPhone = "+919876543210"

func newTestManager(t *testing.T) (*ChallengeManager, *repository.KVRepository) {
	t.Helper()
	repo := repository.NewKVRepository(kv.NewMemoryStore(time.Minute))
	return NewChallengeManager(repo, 0, nil), repo
}

func wrongCode(code string) string {
	if code == "111111" {
		return "222222"
	}
	return "111111"
}

func TestChallengeManager_IssueStoresHashOnly(t *testing.T) {
	ctx := context.Background()
	m, repo := newTestManager(t)
	assert.Equal(t, DefaultChallengeTTL, m.TTL())

	code, err := m.Issue(ctx, testPhone)
	require.NoError(t, err)
	require.Len(t, code, 6)

	c, err := repo.Get(ctx, testPhone)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.NotEqual(t, code, c.CodeHash)
	assert.Equal(t, HashOTP(code), c.CodeHash)
	assert.WithinDuration(t, c.CreatedAt.Add(300*time.Second), c.ExpiresAt, time.Millisecond)
}

func TestChallengeManager_VerifySingleUse(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	code, err := m.Issue(ctx, testPhone)
	require.NoError(t, err)

	ok, err := m.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	assert.False(t, ok, "second verify with the same code must fail")
}

func TestChallengeManager_MismatchKeepsChallenge(t *testing.T) {
	ctx := context.Background()
	m, repo := newTestManager(t)
	code, err := m.Issue(ctx, testPhone)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		ok, err := m.Verify(ctx, testPhone, wrongCode(code))
		require.NoError(t, err)
		assert.False(t, ok)
		c, err := repo.Get(ctx, testPhone)
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, int64(i), c.Attempts)
	}

	ok, err := m.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	assert.True(t, ok, "correct code still accepted within TTL")
}

func TestChallengeManager_ReissueOverwrites(t *testing.T) {
	ctx := context.Background()
	m, repo := newTestManager(t)
	first, err := m.Issue(ctx, testPhone)
	require.NoError(t, err)
	_, err = m.Verify(ctx, testPhone, wrongCode(first))
	require.NoError(t, err)

	second, err := m.Issue(ctx, testPhone)
	require.NoError(t, err)
	c, err := repo.Get(ctx, testPhone)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Zero(t, c.Attempts, "attempts reset with a new challenge")

	if first != second {
		ok, err := m.Verify(ctx, testPhone, first)
		require.NoError(t, err)
		assert.False(t, ok, "old code no longer valid")
	}
	ok, err := m.Verify(ctx, testPhone, second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChallengeManager_ExpiredRecordDeleted(t *testing.T) {
	ctx := context.Background()
	m, repo := newTestManager(t)
	code, err := m.Issue(ctx, testPhone)
	require.NoError(t, err)

	m.nowF = func() time.Time { return time.Now().UTC().Add(301 * time.Second) }

	ok, err := m.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	assert.False(t, ok)
	c, err := repo.Get(ctx, testPhone)
	require.NoError(t, err)
	assert.Nil(t, c, "expired challenge must be deleted on verify")
}

func TestChallengeManager_VerifyWithoutChallenge(t *testing.T) {
	m, _ := newTestManager(t)
	ok, err := m.Verify(context.Background(), testPhone, "123456")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChallengeManager_RejectsUnnormalisedPhone(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	_, err := m.Issue(ctx, "9876543210")
	assert.ErrorIs(t, err, ErrInvalidPhone)
	_, err = m.Verify(ctx, "9876543210", "123456")
	assert.ErrorIs(t, err, ErrInvalidPhone)
}

func TestChallengeManager_ConcurrentVerifySucceedsOnce(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	code, err := m.Issue(ctx, testPhone)
	require.NoError(t, err)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.Verify(ctx, testPhone, code)
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestChallengeManager_IssueUsesInjectedClock(t *testing.T) {
	ctx := context.Background()
	m, repo := newTestManager(t)
	issuedAt := time.Now().Add(-time.Hour).UTC()
	m.nowF = func() time.Time { return issuedAt }

	code, err := m.Issue(ctx, testPhone)
	require.NoError(t, err, "a manager clock behind the wall clock must still store the challenge")
	c, err := repo.Get(ctx, testPhone)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.WithinDuration(t, issuedAt.Add(DefaultChallengeTTL), c.ExpiresAt, time.Millisecond)

	ok, err := m.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	assert.True(t, ok)
}
