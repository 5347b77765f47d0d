package lockout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phone-auth/backend/internal/audit"
	"phone-auth/backend/internal/autherr"
	userdomain "phone-auth/backend/internal/user/domain"
)

type memStore struct {
	mu       sync.Mutex
	attempts map[string]int
	locks    map[string]time.Time
	err      error
}

func newMemStore() *memStore {
	return &memStore{attempts: map[string]int{}, locks: map[string]time.Time{}}
}

func (m *memStore) IncrementFailedAttempts(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.attempts[id]++
	return m.attempts[id], nil
}

func (m *memStore) SetFailedAttempts(_ context.Context, id string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.attempts[id] = n
	return nil
}

func (m *memStore) Lock(_ context.Context, id string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[id] = until
	return nil
}

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAudit) LogEvent(_ context.Context, ev audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func newPolicy(t *testing.T, store Store, a audit.AuditLogger, now time.Time) *Policy {
	t.Helper()
	p, err := New(store, 5, 30*time.Minute, a, nil)
	require.NoError(t, err)
	p.nowF = func() time.Time { return now }
	return p
}

func TestRecordFailure_CountsDownThenLocks(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	rec := &recordingAudit{}
	p := newPolicy(t, store, rec, now)
	u := &userdomain.User{ID: "u1"}

	for i := 1; i <= 4; i++ {
		out, err := p.RecordFailure(context.Background(), u)
		require.NoError(t, err)
		assert.False(t, out.Locked)
		assert.Equal(t, i, out.Attempts)
		assert.Equal(t, 5-i, out.Remaining)
	}
	assert.Empty(t, rec.events)

	out, err := p.RecordFailure(context.Background(), u)
	require.NoError(t, err)
	assert.True(t, out.Locked)
	assert.Equal(t, now.Add(30*time.Minute), out.LockedUntil)
	assert.Equal(t, now.Add(30*time.Minute), store.locks["u1"])
	require.Len(t, rec.events, 1)
	assert.Equal(t, "account_locked", rec.events[0].Action)
	assert.Equal(t, "u1", rec.events[0].UserID)

	err = p.Check(u, now.Add(time.Minute))
	require.Error(t, err)
	assert.ErrorIs(t, err, autherr.ErrAccountLocked)
	var ae *autherr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, now.Add(30*time.Minute), ae.LockedUntil)
}

func TestCheck_ExpiredLockIsUnlocked(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	p := newPolicy(t, newMemStore(), nil, now)

	assert.NoError(t, p.Check(&userdomain.User{ID: "u1", LockedUntil: &past}, now))
	assert.NoError(t, p.Check(&userdomain.User{ID: "u1"}, now))
	assert.NoError(t, p.Check(nil, now))
}

func TestCheck_LockedUntilExactlyNowIsUnlocked(t *testing.T) {
	now := time.Now()
	p := newPolicy(t, newMemStore(), nil, now)
	assert.NoError(t, p.Check(&userdomain.User{ID: "u1", LockedUntil: &now}, now))
}

func TestRecordFailure_AfterLockExpiryRestartsCount(t *testing.T) {
	now := time.Now().UTC()
	expired := now.Add(-time.Minute)
	store := newMemStore()
	store.attempts["u1"] = 5
	p := newPolicy(t, store, nil, now)
	u := &userdomain.User{ID: "u1", FailedLoginAttempts: 5, LockedUntil: &expired}

	out, err := p.RecordFailure(context.Background(), u)
	require.NoError(t, err)
	assert.False(t, out.Locked)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 4, out.Remaining)
	assert.Equal(t, 1, store.attempts["u1"])
}

func TestRecordSuccess_ResetsCounter(t *testing.T) {
	store := newMemStore()
	store.attempts["u1"] = 3
	p := newPolicy(t, store, nil, time.Now())
	u := &userdomain.User{ID: "u1", FailedLoginAttempts: 3}

	require.NoError(t, p.RecordSuccess(context.Background(), u))
	assert.Equal(t, 0, store.attempts["u1"])
	assert.Equal(t, 0, u.FailedLoginAttempts)
}

func TestRecordFailure_ConcurrentFailuresLockExactlyOnce(t *testing.T) {
	store := newMemStore()
	rec := &recordingAudit{}
	p := newPolicy(t, store, rec, time.Now())

	var wg sync.WaitGroup
	var mu sync.Mutex
	locked := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := p.RecordFailure(context.Background(), &userdomain.User{ID: "u1"})
			assert.NoError(t, err)
			if out.Locked {
				mu.Lock()
				locked++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, locked)
	assert.Equal(t, 5, store.attempts["u1"])
	assert.Len(t, rec.events, 1)
}

func TestRecordFailure_StoreError(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")
	p := newPolicy(t, store, nil, time.Now())

	_, err := p.RecordFailure(context.Background(), &userdomain.User{ID: "u1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.err)
}

func TestNew_Defaults(t *testing.T) {
	p, err := New(newMemStore(), 0, 0, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultThreshold, p.Threshold())
	assert.Equal(t, DefaultDuration, p.duration)

	_, err = New(nil, 5, time.Minute, nil, nil)
	assert.Error(t, err)
}
