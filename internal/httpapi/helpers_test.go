package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"eduportal.org/internal/auth"
	"eduportal.org/internal/sessions"
)

var testEpoch = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

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

// memStore is an in-memory credential store.
type memStore struct {
	mu    sync.Mutex
	users map[string]*auth.User
	roles map[string]*auth.Role
}

func (s *memStore) FindUserByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *memStore) FindUserByID(_ context.Context, id string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) FindRoleByID(_ context.Context, id string) (*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *r
	cp.Permissions = append([]string(nil), r.Permissions...)
	return &cp, nil
}

func (s *memStore) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

func (s *memStore) setActive(id string, active bool) {
	s.mu.Lock()
	s.users[id].Active = active
	s.mu.Unlock()
}

func (s *memStore) setPermissions(roleID string, perms ...string) {
	s.mu.Lock()
	s.roles[roleID].Permissions = perms
	s.mu.Unlock()
}

const (
	teacherEmail    = "teacher@example.com"
	teacherPassword = "correct horse"
	adminEmail      = "admin@example.com"
	adminPassword   = "battery staple"
)

type testEnv struct {
	t        *testing.T
	clock    *testClock
	store    *memStore
	sessions *sessions.Memory
	authn    *auth.Authenticator
	guard    *auth.Guard
	api      *API
	srv      *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &testClock{now: testEpoch}

	hash := func(pw string) string {
		h, err := auth.HashPassword(pw)
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		return h
	}
	store := &memStore{
		users: map[string]*auth.User{
			"u-teacher": {ID: "u-teacher", Email: teacherEmail, PasswordHash: hash(teacherPassword), RoleID: "role_teacher", Active: true, InstitutionID: "inst-1"},
			"u-admin":   {ID: "u-admin", Email: adminEmail, PasswordHash: hash(adminPassword), RoleID: "role_admin", Active: true},
		},
		roles: map[string]*auth.Role{
			"role_teacher": {ID: "role_teacher", Name: auth.RoleTeacher, Permissions: []string{auth.PermBooksRead, auth.PermGroupsRead}},
			"role_admin":   {ID: "role_admin", Name: auth.RoleSystemAdmin, Permissions: []string{}},
		},
	}

	codec, err := auth.NewCodec(auth.CodecConfig{
		Secret:   []byte("test-secret-0123456789abcdef"),
		Issuer:   "eduportal",
		Audience: "eduportal-api",
		Leeway:   5 * time.Second,
		Clock:    clock.Now,
	})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	registry := sessions.NewMemory(sessions.WithClock(clock.Now))
	authn, err := auth.NewAuthenticator(store, registry, codec, auth.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	guard, err := auth.NewGuard(codec, store, registry)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	api, err := New(authn, guard, ReadyProbe{}, Options{Version: "test", RateLimitBurst: 100, RateLimitRPS: 100})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	env := &testEnv{t: t, clock: clock, store: store, sessions: registry, authn: authn, guard: guard, api: api}
	env.srv = httptest.NewServer(api.Handler())
	t.Cleanup(env.srv.Close)
	return env
}

type apiResponse struct {
	Status int
	Header http.Header
	Body   map[string]any
}

func (r apiResponse) data() map[string]any {
	d, _ := r.Body["data"].(map[string]any)
	return d
}

func (r apiResponse) code() string {
	c, _ := r.Body["code"].(string)
	return c
}

func (e *testEnv) do(method, path string, body any, headers map[string]string) apiResponse {
	e.t.Helper()
	var payload io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		payload = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, payload)
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		e.t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	out := apiResponse{Status: resp.StatusCode, Header: resp.Header}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		e.t.Fatalf("read body: %v", err)
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out.Body); err != nil {
			e.t.Fatalf("decode body %q: %v", raw, err)
		}
	}
	return out
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// login returns the access and refresh tokens for a successful login.
func (e *testEnv) login(email, password string) (string, string) {
	e.t.Helper()
	resp := e.do(http.MethodPost, "/auth/login", map[string]string{"email": email, "password": password}, nil)
	if resp.Status != http.StatusOK {
		e.t.Fatalf("login status %d: %v", resp.Status, resp.Body)
	}
	d := resp.data()
	access, _ := d["accessToken"].(string)
	refresh, _ := d["refreshToken"].(string)
	if access == "" || refresh == "" {
		e.t.Fatalf("login returned no tokens: %v", resp.Body)
	}
	return access, refresh
}
