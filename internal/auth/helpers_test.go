package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var testEpoch = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: testEpoch} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCodec(t *testing.T, clock *testClock) *Codec {
	t.Helper()
	codec, err := NewCodec(CodecConfig{
		Secret:    []byte("test-secret-0123456789abcdef"),
		Algorithm: "HS256",
		Issuer:    "eduportal",
		Audience:  "eduportal-api",
		Leeway:    5 * time.Second,
		Clock:     clock.Now,
	})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return codec
}

type fakeStore struct {
	mu       sync.Mutex
	users    map[string]*User
	roles    map[string]*Role
	touched  map[string]time.Time
	err      error
	touchErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   map[string]*User{},
		roles:   map[string]*Role{},
		touched: map[string]time.Time{},
	}
}

func (s *fakeStore) addRole(r Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[r.ID] = &r
}

func (s *fakeStore) addUser(t *testing.T, u User, password string) *User {
	t.Helper()
	if password != "" {
		hash, err := HashPassword(password)
		if err != nil {
			t.Fatalf("HashPassword: %v", err)
		}
		u.PasswordHash = hash
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
	return &u
}

func (s *fakeStore) setActive(id string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id].Active = active
}

func (s *fakeStore) setPermissions(roleID string, perms []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[roleID].Permissions = perms
}

func (s *fakeStore) FindUserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *fakeStore) FindUserByID(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *fakeStore) FindRoleByID(_ context.Context, id string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	r, ok := s.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	cp.Permissions = append([]string(nil), r.Permissions...)
	return &cp, nil
}

func (s *fakeStore) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.touchErr != nil {
		return s.touchErr
	}
	s.touched[userID] = at
	return nil
}

type fakeRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
	seq      int
	err      error
}

func newFakeRegistry(now func() time.Time) *fakeRegistry {
	return &fakeRegistry{sessions: map[string]*Session{}, now: now}
}

func (r *fakeRegistry) Create(_ context.Context, userID string, expiresAt time.Time) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return Session{}, r.err
	}
	r.seq++
	s := &Session{
		ID:        fmt.Sprintf("sess-%d", r.seq),
		UserID:    userID,
		IssuedAt:  r.now(),
		ExpiresAt: expiresAt,
	}
	r.sessions[s.ID] = s
	return *s, nil
}

func (r *fakeRegistry) Revoke(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if s, ok := r.sessions[id]; ok && !s.Revoked {
		now := r.now()
		s.Revoked = true
		s.RevokedAt = &now
	}
	return nil
}

func (r *fakeRegistry) RevokeUser(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	var n int64
	for _, s := range r.sessions {
		if s.UserID == userID && !s.Revoked {
			s.Revoked = true
			n++
		}
	}
	return n, nil
}

func (r *fakeRegistry) IsActive(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	s, ok := r.sessions[id]
	if !ok {
		return false, nil
	}
	return s.Active(r.now()), nil
}

func (r *fakeRegistry) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.ExpiresAt.Before(before) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

var errStoreDown = errors.New("connection refused")

// fixture is a populated store with one active teacher and one admin.
type fixture struct {
	clock    *testClock
	codec    *Codec
	store    *fakeStore
	sessions *fakeRegistry
	auth     *Authenticator
	guard    *Guard
}

const (
	teacherEmail    = "teacher@example.com"
	teacherPassword = "correct horse"
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newTestClock()
	f := &fixture{
		clock:    clock,
		codec:    newTestCodec(t, clock),
		store:    newFakeStore(),
		sessions: newFakeRegistry(clock.Now),
	}
	f.store.addRole(Role{ID: "role-teacher", Name: RoleTeacher, Permissions: []string{PermGroupsRead, PermBooksRead}})
	f.store.addRole(Role{ID: "role-admin", Name: RoleSystemAdmin})
	f.store.addUser(t, User{ID: "u-teacher", Email: teacherEmail, RoleID: "role-teacher", Active: true, InstitutionID: "inst-1"}, teacherPassword)

	a, err := NewAuthenticator(f.store, f.sessions, f.codec, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	g, err := NewGuard(f.codec, f.store, f.sessions)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	f.auth = a
	f.guard = g
	return f
}

func (f *fixture) login(t *testing.T) LoginResult {
	t.Helper()
	res, err := f.auth.Login(context.Background(), teacherEmail, teacherPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return res
}

func requireKind(t *testing.T, err error, want ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("expected %s, got %s (%v)", want, got, err)
	}
}
