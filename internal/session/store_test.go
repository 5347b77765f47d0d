package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"phone-auth/backend/internal/session/domain"
	"phone-auth/backend/internal/session/repository"
)

func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(repository.NewMemoryRepository())
	s.nowF = func() time.Time { return now }
	return s, &now
}

func createSession(t *testing.T, s *Store, userID, hash string) *domain.Session {
	t.Helper()
	sess, err := s.Create(context.Background(), NewSession{
		UserID:           userID,
		OrgID:            "org-1",
		RefreshTokenHash: hash,
		DeviceID:         "dev-" + hash,
		Platform:         "android",
		IPAddress:        "10.0.0.1",
		ExpiresAt:        s.nowF().Add(7 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return sess
}

func TestStore_Create(t *testing.T) {
	s, _ := newTestStore(t)
	sess := createSession(t, s, "user-1", "h1")
	if sess.ID == "" {
		t.Fatal("Create should assign an id")
	}
	if !sess.IsActive {
		t.Error("new session should be active")
	}
	got, err := s.FindActiveByHash(context.Background(), "h1")
	if err != nil {
		t.Fatalf("FindActiveByHash: %v", err)
	}
	if got == nil || got.ID != sess.ID {
		t.Fatalf("FindActiveByHash = %+v, want id %s", got, sess.ID)
	}
	if got.DeviceID != "dev-h1" || got.Platform != "android" {
		t.Errorf("device = %q/%q", got.DeviceID, got.Platform)
	}
}

func TestStore_Create_KeepsPresetID(t *testing.T) {
	s, _ := newTestStore(t)
	sess, err := s.Create(context.Background(), NewSession{
		ID: "fixed-id", UserID: "u", OrgID: "o", RefreshTokenHash: "h", ExpiresAt: s.nowF().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.ID != "fixed-id" {
		t.Errorf("ID = %q", sess.ID)
	}
}

func TestStore_Create_Validation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	future := s.nowF().Add(time.Hour)
	cases := []NewSession{
		{OrgID: "o", RefreshTokenHash: "h", ExpiresAt: future},
		{UserID: "u", RefreshTokenHash: "h", ExpiresAt: future},
		{UserID: "u", OrgID: "o", ExpiresAt: future},
		{UserID: "u", OrgID: "o", RefreshTokenHash: "h", ExpiresAt: s.nowF()},
	}
	for i, c := range cases {
		if _, err := s.Create(ctx, c); err == nil {
			t.Errorf("case %d: Create should fail", i)
		}
	}
}

func TestStore_Create_DuplicateHash(t *testing.T) {
	s, _ := newTestStore(t)
	createSession(t, s, "user-1", "same")
	_, err := s.Create(context.Background(), NewSession{
		UserID: "user-2", OrgID: "o", RefreshTokenHash: "same", ExpiresAt: s.nowF().Add(time.Hour),
	})
	if !errors.Is(err, repository.ErrDuplicateSession) {
		t.Errorf("err = %v, want ErrDuplicateSession", err)
	}
}

func TestStore_FindActiveByHash_Expired(t *testing.T) {
	s, now := newTestStore(t)
	createSession(t, s, "user-1", "h1")
	*now = now.Add(8 * 24 * time.Hour)

	got, err := s.FindActiveByHash(context.Background(), "h1")
	if err != nil {
		t.Fatalf("FindActiveByHash: %v", err)
	}
	if got != nil {
		t.Error("expired session should not be returned as active")
	}
	stored, _ := s.FindByHash(context.Background(), "h1")
	if stored == nil {
		t.Error("FindByHash should still return the expired session")
	}
}

func TestStore_Rotate(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()
	sess := createSession(t, s, "user-1", "old")
	*now = now.Add(time.Hour)
	newExp := now.Add(7 * 24 * time.Hour)

	if err := s.Rotate(ctx, sess.ID, "old", "new", newExp); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if got, _ := s.FindActiveByHash(ctx, "old"); got != nil {
		t.Error("old hash should no longer resolve")
	}
	got, _ := s.FindActiveByHash(ctx, "new")
	if got == nil || got.ID != sess.ID {
		t.Fatalf("new hash should resolve to the same session, got %+v", got)
	}
	if !got.ExpiresAt.Equal(newExp) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, newExp)
	}
	if got.LastSeenAt == nil || !got.LastSeenAt.Equal(*now) {
		t.Errorf("LastSeenAt = %v", got.LastSeenAt)
	}
}

func TestStore_Rotate_StaleHash(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	sess := createSession(t, s, "user-1", "old")
	exp := s.nowF().Add(time.Hour)
	if err := s.Rotate(ctx, sess.ID, "old", "new", exp); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if err := s.Rotate(ctx, sess.ID, "old", "newer", exp); !errors.Is(err, ErrStaleSession) {
		t.Errorf("replayed rotation err = %v, want ErrStaleSession", err)
	}
}

func TestStore_Rotate_RevokedSession(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	sess := createSession(t, s, "user-1", "old")
	if _, err := s.Revoke(ctx, sess.ID, domain.ReasonUserLogout); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := s.Rotate(ctx, sess.ID, "old", "new", s.nowF().Add(time.Hour)); !errors.Is(err, ErrStaleSession) {
		t.Errorf("err = %v, want ErrStaleSession", err)
	}
}

func TestStore_Rotate_SameHashRejected(t *testing.T) {
	s, _ := newTestStore(t)
	sess := createSession(t, s, "user-1", "h")
	if err := s.Rotate(context.Background(), sess.ID, "h", "h", s.nowF().Add(time.Hour)); err == nil {
		t.Error("Rotate with identical hashes should fail")
	}
}

func TestStore_Rotate_ConcurrentOnlyOneWins(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	sess := createSession(t, s, "user-1", "old")
	exp := s.nowF().Add(time.Hour)

	var wins, stale int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Rotate(ctx, sess.ID, "old", "new-"+string(rune('a'+i)), exp)
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, ErrStaleSession):
				atomic.AddInt32(&stale, 1)
			default:
				t.Errorf("unexpected err: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 || stale != 19 {
		t.Errorf("wins=%d stale=%d, want 1/19", wins, stale)
	}
}

func TestStore_Revoke_Idempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	sess := createSession(t, s, "user-1", "h1")

	revoked, err := s.Revoke(ctx, sess.ID, domain.ReasonUserLogout)
	if err != nil || !revoked {
		t.Fatalf("first Revoke = %v, %v", revoked, err)
	}
	revoked, err = s.Revoke(ctx, sess.ID, domain.ReasonAccountLocked)
	if err != nil || revoked {
		t.Fatalf("second Revoke = %v, %v; want false, nil", revoked, err)
	}
	got, _ := s.FindByHash(ctx, "h1")
	if got.IsActive {
		t.Error("session should be inactive")
	}
	if got.RevokedReason != domain.ReasonUserLogout {
		t.Errorf("RevokedReason = %q, first reason should stick", got.RevokedReason)
	}
	if got.RevokedAt == nil {
		t.Error("RevokedAt should be set")
	}
	if revoked, err := s.Revoke(ctx, "missing", domain.ReasonUserLogout); err != nil || revoked {
		t.Errorf("unknown id Revoke = %v, %v", revoked, err)
	}
}

func TestStore_RevokeAllForUser(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	createSession(t, s, "user-1", "a")
	createSession(t, s, "user-1", "b")
	other := createSession(t, s, "user-2", "c")

	n, err := s.RevokeAllForUser(ctx, "user-1", domain.ReasonUserLogoutAllDevices)
	if err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
	if n != 2 {
		t.Errorf("revoked = %d, want 2", n)
	}
	if list, _ := s.ListActiveForUser(ctx, "user-1"); len(list) != 0 {
		t.Errorf("user-1 still has %d active sessions", len(list))
	}
	if got, _ := s.FindActiveByHash(ctx, "c"); got == nil || got.ID != other.ID {
		t.Error("other users' sessions must be untouched")
	}
	n, _ = s.RevokeAllForUser(ctx, "user-1", domain.ReasonUserLogoutAllDevices)
	if n != 0 {
		t.Errorf("second RevokeAllForUser = %d, want 0", n)
	}
}

func TestStore_ListActiveForUser_NewestFirst(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()
	first := createSession(t, s, "user-1", "a")
	*now = now.Add(time.Minute)
	second := createSession(t, s, "user-1", "b")
	*now = now.Add(time.Minute)
	third := createSession(t, s, "user-1", "c")
	if _, err := s.Revoke(ctx, third.ID, domain.ReasonUserLogout); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListActiveForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListActiveForUser: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("order = %s,%s; want %s,%s", list[0].ID, list[1].ID, second.ID, first.ID)
	}
}
