package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestLoginIssuesTokenPair(t *testing.T) {
	f := newFixture(t)

	res := f.login(t)

	access, err := f.codec.Decode(res.AccessToken)
	if err != nil {
		t.Fatalf("decode access: %v", err)
	}
	if access.Type != TokenTypeAccess {
		t.Fatalf("expected access token, got %s", access.Type)
	}
	if !access.ExpiresAt.Time.After(access.IssuedAt.Time) {
		t.Fatalf("exp must be after iat")
	}
	if access.Subject != "u-teacher" || access.Role != RoleTeacher || access.Email != teacherEmail {
		t.Fatalf("unexpected access claims: %+v", access)
	}
	if len(access.Permissions) != 2 {
		t.Fatalf("unexpected permissions: %v", access.Permissions)
	}

	refresh, err := f.codec.Decode(res.RefreshToken)
	if err != nil {
		t.Fatalf("decode refresh: %v", err)
	}
	if refresh.Type != TokenTypeRefresh || refresh.SessionID != access.SessionID {
		t.Fatalf("refresh token not bound to session: %+v", refresh)
	}
	if !res.AccessTokenExpiresAt.Equal(testEpoch.Add(defaultAccessTTL)) {
		t.Fatalf("unexpected access expiry: %v", res.AccessTokenExpiresAt)
	}
	if !res.RefreshTokenExpiresAt.Equal(testEpoch.Add(defaultRefreshTTL)) {
		t.Fatalf("unexpected refresh expiry: %v", res.RefreshTokenExpiresAt)
	}

	active, _ := f.sessions.IsActive(context.Background(), res.SessionID)
	if !active {
		t.Fatal("expected session to be active")
	}
	sess := f.sessions.sessions[res.SessionID]
	if !sess.ExpiresAt.Equal(testEpoch.Add(defaultRefreshTTL)) {
		t.Fatalf("session should live as long as the refresh token, got %v", sess.ExpiresAt)
	}

	if _, ok := f.store.touched["u-teacher"]; !ok {
		t.Fatal("expected last login to be recorded")
	}
	if res.User.LastLoginAt == nil || res.User.InstitutionID != "inst-1" {
		t.Fatalf("unexpected user view: %+v", res.User)
	}
	body, _ := json.Marshal(res)
	if strings.Contains(strings.ToLower(string(body)), "password") || strings.Contains(string(body), "sess-") {
		t.Fatalf("login result leaks internals: %s", body)
	}
}

func TestLoginFailuresShareKind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, errUnknown := f.auth.Login(ctx, "nobody@example.com", teacherPassword)
	_, errWrong := f.auth.Login(ctx, teacherEmail, "wrong")
	_, errCase := f.auth.Login(ctx, strings.ToUpper(teacherEmail), teacherPassword)

	requireKind(t, errUnknown, KindInvalidCredentials)
	requireKind(t, errWrong, KindInvalidCredentials)
	requireKind(t, errCase, KindInvalidCredentials)
	if len(f.sessions.sessions) != 0 {
		t.Fatal("failed logins must not create sessions")
	}
}

func TestLoginTrimsSurroundingWhitespace(t *testing.T) {
	f := newFixture(t)
	if _, err := f.auth.Login(context.Background(), "  "+teacherEmail+"\n", teacherPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}
}

func TestLoginDisabledAccount(t *testing.T) {
	f := newFixture(t)
	f.store.setActive("u-teacher", false)

	_, err := f.auth.Login(context.Background(), teacherEmail, teacherPassword)
	requireKind(t, err, KindAccountDisabled)

	// wrong password on a disabled account reveals nothing about its state
	_, err = f.auth.Login(context.Background(), teacherEmail, "wrong")
	requireKind(t, err, KindInvalidCredentials)
}

func TestLoginFailsClosedWithoutRole(t *testing.T) {
	f := newFixture(t)
	f.store.addUser(t, User{ID: "u-orphan", Email: "orphan@example.com", RoleID: "role-missing", Active: true}, "pw")

	_, err := f.auth.Login(context.Background(), "orphan@example.com", "pw")
	requireKind(t, err, KindInvalidCredentials)
}

func TestLoginStoreFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.store.err = errStoreDown

	_, err := f.auth.Login(context.Background(), teacherEmail, teacherPassword)
	requireKind(t, err, KindInternal)
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestLoginSessionFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.sessions.err = errors.New("registry unavailable")

	_, err := f.auth.Login(context.Background(), teacherEmail, teacherPassword)
	requireKind(t, err, KindInternal)
}

func TestLoginSurvivesTouchFailure(t *testing.T) {
	f := newFixture(t)
	f.store.touchErr = errors.New("read-only transaction")

	res := f.login(t)
	if res.User.LastLoginAt != nil {
		t.Fatalf("last login should stay unset when the touch failed")
	}
}

func TestLoginAcceptsLegacyArgon2Hash(t *testing.T) {
	f := newFixture(t)
	f.store.addUser(t, User{
		ID: "u-legacy", Email: "legacy@example.com", RoleID: "role-teacher", Active: true,
		PasswordHash: argon2idHash("legacy-pass"),
	}, "")

	if _, err := f.auth.Login(context.Background(), "legacy@example.com", "legacy-pass"); err != nil {
		t.Fatalf("Login with argon2id hash: %v", err)
	}
}

func TestLoginCorruptStoredHashIsInternal(t *testing.T) {
	f := newFixture(t)
	for i, hash := range []string{
		"$argon2id$v=19$m=65536,t=2,p=1$c2FsdHNhbHQ$",
		"$argon2id$v=19$m=65536,t=2,p=0$c2FsdHNhbHQ$aGFzaGhhc2g",
		"$2a$10$short",
	} {
		email := fmt.Sprintf("broken%d@example.com", i)
		f.store.addUser(t, User{
			ID: fmt.Sprintf("u-broken-%d", i), Email: email, RoleID: "role-teacher", Active: true,
			PasswordHash: hash,
		}, "")

		_, err := f.auth.Login(context.Background(), email, "anything-at-all")
		requireKind(t, err, KindInternal)
	}
}

func TestRefreshReflectsCurrentPermissions(t *testing.T) {
	f := newFixture(t)
	res := f.login(t)

	f.store.setPermissions("role-teacher", []string{PermGroupsRead, PermGroupsWrite, PermCertificatesIssue})
	f.clock.Advance(time.Minute)

	out, err := f.auth.Refresh(context.Background(), res.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	claims, err := f.codec.Decode(out.AccessToken)
	if err != nil {
		t.Fatalf("decode refreshed token: %v", err)
	}
	want := []string{PermGroupsRead, PermGroupsWrite, PermCertificatesIssue}
	if strings.Join(claims.Permissions, ",") != strings.Join(want, ",") {
		t.Fatalf("expected refreshed permissions %v, got %v", want, claims.Permissions)
	}
	if claims.SessionID != res.SessionID {
		t.Fatalf("refreshed token must keep the session id")
	}
	if !out.AccessTokenExpiresAt.Equal(testEpoch.Add(time.Minute + defaultAccessTTL)) {
		t.Fatalf("unexpected expiry: %v", out.AccessTokenExpiresAt)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newFixture(t)
	res := f.login(t)

	_, err := f.auth.Refresh(context.Background(), res.AccessToken)
	requireKind(t, err, KindWrongTokenType)
}

func TestRefreshAfterLogout(t *testing.T) {
	f := newFixture(t)
	res := f.login(t)

	if err := f.auth.Logout(context.Background(), res.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	_, err := f.auth.Refresh(context.Background(), res.RefreshToken)
	requireKind(t, err, KindSessionRevoked)
}

func TestRefreshDisabledUser(t *testing.T) {
	f := newFixture(t)
	res := f.login(t)
	f.store.setActive("u-teacher", false)

	_, err := f.auth.Refresh(context.Background(), res.RefreshToken)
	requireKind(t, err, KindUserInactiveOrMissing)
}

func TestRefreshExpiredToken(t *testing.T) {
	f := newFixture(t)
	res := f.login(t)
	f.clock.Advance(defaultRefreshTTL + time.Minute)

	_, err := f.auth.Refresh(context.Background(), res.RefreshToken)
	requireKind(t, err, KindTokenExpired)
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.login(t)

	inputs := []string{res.AccessToken, res.AccessToken, res.RefreshToken, "", "garbage.token.value", "unknown-session"}
	for _, in := range inputs {
		if err := f.auth.Logout(ctx, in); err != nil {
			t.Fatalf("Logout(%q): %v", in, err)
		}
	}
	if active, _ := f.sessions.IsActive(ctx, res.SessionID); active {
		t.Fatal("expected session revoked")
	}
}

func TestLogoutAcceptsExpiredToken(t *testing.T) {
	f := newFixture(t)
	res := f.login(t)
	f.clock.Advance(defaultAccessTTL + time.Hour)

	if err := f.auth.Logout(context.Background(), res.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if !f.sessions.sessions[res.SessionID].Revoked {
		t.Fatal("expected expired access token to still revoke its session")
	}
}

func TestLogoutBySessionID(t *testing.T) {
	f := newFixture(t)
	res := f.login(t)

	if err := f.auth.Logout(context.Background(), res.SessionID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if !f.sessions.sessions[res.SessionID].Revoked {
		t.Fatal("expected session revoked")
	}
}

func TestLogoutRegistryFailure(t *testing.T) {
	f := newFixture(t)
	res := f.login(t)
	f.sessions.err = errors.New("registry unavailable")

	err := f.auth.Logout(context.Background(), res.AccessToken)
	requireKind(t, err, KindInternal)
}

func TestRevokeUser(t *testing.T) {
	f := newFixture(t)
	first := f.login(t)
	second := f.login(t)

	n, err := f.auth.RevokeUser(context.Background(), "u-teacher")
	if err != nil {
		t.Fatalf("RevokeUser: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 sessions revoked, got %d", n)
	}
	for _, res := range []LoginResult{first, second} {
		_, err := f.guard.Authenticate(context.Background(), "Bearer "+res.AccessToken)
		requireKind(t, err, KindSessionRevoked)
	}
	if _, err := f.auth.RevokeUser(context.Background(), " "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSessionFromToken(t *testing.T) {
	f := newFixture(t)
	res := f.login(t)

	sid, ok := f.auth.SessionFromToken(res.RefreshToken)
	if !ok || sid != res.SessionID {
		t.Fatalf("unexpected session %q ok=%v", sid, ok)
	}
	if _, ok := f.auth.SessionFromToken("nope"); ok {
		t.Fatal("expected failure for garbage")
	}
}

func TestNewAuthenticatorValidation(t *testing.T) {
	f := newFixture(t)
	if _, err := NewAuthenticator(nil, f.sessions, f.codec); err == nil {
		t.Fatal("expected error for nil store")
	}
	_, err := NewAuthenticator(f.store, f.sessions, f.codec, WithAccessTTL(time.Hour), WithRefreshTTL(time.Minute))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for inverted ttls, got %v", err)
	}
}
