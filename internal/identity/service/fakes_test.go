package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"phone-auth/backend/internal/audit"
	identitydomain "phone-auth/backend/internal/identity/domain"
	membershipdomain "phone-auth/backend/internal/membership/domain"
	orgdomain "phone-auth/backend/internal/organization/domain"
	"phone-auth/backend/internal/session"
	sessiondomain "phone-auth/backend/internal/session/domain"
	userdomain "phone-auth/backend/internal/user/domain"
)

// fakeAccounts is an in-memory account store. It also serves as the lockout store and the
// login recorder so the three stay consistent, as they do over one users table.
type fakeAccounts struct {
	mu          sync.Mutex
	users       map[string]*userdomain.User
	byPhone     map[string]string
	orgs        map[string]*orgdomain.Org
	memberships map[string][]*membershipdomain.Membership
	bootstraps  int
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		users:       map[string]*userdomain.User{},
		byPhone:     map[string]string{},
		orgs:        map[string]*orgdomain.Org{},
		memberships: map[string][]*membershipdomain.Membership{},
	}
}

func cloneUser(u *userdomain.User) *userdomain.User {
	if u == nil {
		return nil
	}
	cp := *u
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		cp.LockedUntil = &t
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		cp.LastLoginAt = &t
	}
	return &cp
}

func (f *fakeAccounts) FindUserByPhone(_ context.Context, phone string) (*userdomain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneUser(f.users[f.byPhone[phone]]), nil
}

func (f *fakeAccounts) CreateUserWithDefaultOrg(_ context.Context, phone, name string) (*identitydomain.OrgContext, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byPhone[phone]; ok {
		m := f.memberships[id][0]
		return &identitydomain.OrgContext{User: cloneUser(f.users[id]), Org: f.orgs[m.OrgID], Membership: m}, false, nil
	}
	f.bootstraps++
	u, o, m := f.addLocked(phone, name)
	return &identitydomain.OrgContext{User: cloneUser(u), Org: o, Membership: m}, true, nil
}

func (f *fakeAccounts) GetUserOrgContext(_ context.Context, userID, orgID string) (*identitydomain.OrgContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	if u == nil {
		return nil, nil
	}
	oc := &identitydomain.OrgContext{User: cloneUser(u), Org: f.orgs[orgID]}
	for _, m := range f.memberships[userID] {
		if m.OrgID == orgID {
			oc.Membership = m
		}
	}
	return oc, nil
}

func (f *fakeAccounts) GetPrimaryMembership(_ context.Context, userID string) (*membershipdomain.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ms := f.memberships[userID]; len(ms) > 0 {
		return ms[0], nil
	}
	return nil, nil
}

func (f *fakeAccounts) IncrementFailedAttempts(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	if u == nil {
		return 0, errors.New("user not found")
	}
	u.FailedLoginAttempts++
	return u.FailedLoginAttempts, nil
}

func (f *fakeAccounts) SetFailedAttempts(_ context.Context, userID string, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u := f.users[userID]; u != nil {
		u.FailedLoginAttempts = n
	}
	return nil
}

func (f *fakeAccounts) Lock(_ context.Context, userID string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u := f.users[userID]; u != nil {
		t := until
		u.LockedUntil = &t
	}
	return nil
}

func (f *fakeAccounts) TouchLogin(_ context.Context, id, ip string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u := f.users[id]; u != nil {
		t := at
		u.LastLoginAt = &t
		u.LastLoginIP = ip
	}
	return nil
}

// add creates an active account with a personal org and returns the stored user.
func (f *fakeAccounts) add(phone string) *userdomain.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, _, _ := f.addLocked(phone, "")
	return u
}

func (f *fakeAccounts) addLocked(phone, name string) (*userdomain.User, *orgdomain.Org, *membershipdomain.Membership) {
	now := time.Now().UTC()
	u := &userdomain.User{ID: uuid.New().String(), PhoneNumber: phone, Name: name, IsActive: true, CreatedAt: now, UpdatedAt: now}
	o := &orgdomain.Org{ID: uuid.New().String(), Name: orgdomain.DefaultName(name), Status: orgdomain.OrgStatusActive, CreatedAt: now}
	m := &membershipdomain.Membership{ID: uuid.New().String(), UserID: u.ID, OrgID: o.ID, Role: membershipdomain.RoleOwner, CreatedAt: now}
	f.users[u.ID] = u
	f.byPhone[phone] = u.ID
	f.orgs[o.ID] = o
	f.memberships[u.ID] = append(f.memberships[u.ID], m)
	return u, o, m
}

func (f *fakeAccounts) user(id string) *userdomain.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneUser(f.users[id])
}

func (f *fakeAccounts) update(id string, fn func(*userdomain.User)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.users[id])
}

func (f *fakeAccounts) removeMemberships(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.memberships, userID)
}

func (f *fakeAccounts) counts() (users, orgs, memberships int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ms := range f.memberships {
		memberships += len(ms)
	}
	return len(f.users), len(f.orgs), memberships
}

// recordingAudit captures audit events.
type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAudit) LogEvent(_ context.Context, ev audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Action
	}
	return out
}

func (r *recordingAudit) has(action string) bool {
	for _, a := range r.actions() {
		if a == action {
			return true
		}
	}
	return false
}

// faultySessions wraps a SessionStore and fails selected writes.
type faultySessions struct {
	SessionStore
	createErr error
	rotateErr error
}

func (f *faultySessions) Create(ctx context.Context, n session.NewSession) (*sessiondomain.Session, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.SessionStore.Create(ctx, n)
}

func (f *faultySessions) Rotate(ctx context.Context, sessionID, oldHash, newHash string, newExpiresAt time.Time) error {
	if f.rotateErr != nil {
		return f.rotateErr
	}
	return f.SessionStore.Rotate(ctx, sessionID, oldHash, newHash, newExpiresAt)
}

// staleHashSessions returns active sessions whose stored hash no longer matches the lookup key.
type staleHashSessions struct {
	SessionStore
}

func (f *staleHashSessions) FindActiveByHash(ctx context.Context, refreshHash string) (*sessiondomain.Session, error) {
	sess, err := f.SessionStore.FindActiveByHash(ctx, refreshHash)
	if sess != nil {
		sess.RefreshTokenHash = "stale-" + sess.RefreshTokenHash
	}
	return sess, err
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
