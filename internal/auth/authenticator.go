package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"eduportal.org/internal/obs"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// LoginResult is returned by a successful Login.
type LoginResult struct {
	AccessToken           string    `json:"accessToken"`
	RefreshToken          string    `json:"refreshToken"`
	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
	User                  UserView  `json:"user"`
	SessionID             string    `json:"-"`
}

// RefreshResult is returned by a successful Refresh.
type RefreshResult struct {
	AccessToken          string    `json:"accessToken"`
	AccessTokenExpiresAt time.Time `json:"accessTokenExpiresAt"`
}

// Authenticator validates credentials and owns token minting.
type Authenticator struct {
	store    CredentialStore
	sessions SessionRegistry
	codec    *Codec
	log      *zap.Logger
	now      func() time.Time

	accessTTL  time.Duration
	refreshTTL time.Duration
}

// AuthenticatorOption configures Authenticator behavior.
type AuthenticatorOption func(*Authenticator) error

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) AuthenticatorOption {
	return func(a *Authenticator) error {
		if ttl > 0 {
			a.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token and session lifetime.
func WithRefreshTTL(ttl time.Duration) AuthenticatorOption {
	return func(a *Authenticator) error {
		if ttl > 0 {
			a.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) error {
		if fn != nil {
			a.now = fn
		}
		return nil
	}
}

// WithLogger sets the logger used for server-side failure detail.
func WithLogger(l *zap.Logger) AuthenticatorOption {
	return func(a *Authenticator) error {
		if l != nil {
			a.log = l
		}
		return nil
	}
}

// NewAuthenticator wires the credential store, session registry and codec.
func NewAuthenticator(store CredentialStore, sessions SessionRegistry, codec *Codec, opts ...AuthenticatorOption) (*Authenticator, error) {
	if store == nil || sessions == nil || codec == nil {
		return nil, errors.New("auth: store, sessions and codec are required")
	}
	a := &Authenticator{
		store:      store,
		sessions:   sessions,
		codec:      codec,
		log:        obs.Logger(),
		now:        time.Now,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.accessTTL >= a.refreshTTL {
		return nil, fmt.Errorf("%w: access ttl must be shorter than refresh ttl", ErrInvalidInput)
	}
	return a, nil
}

// Login verifies email and password and starts a new session. Unknown email
// and wrong password are indistinguishable to the caller.
func (a *Authenticator) Login(ctx context.Context, email, password string) (res LoginResult, err error) {
	ctx, span := obs.Tracer().Start(ctx, "auth.Login")
	defer func() {
		endSpan(span, err)
		obs.ObserveLogin(outcome(err))
	}()

	email = strings.TrimSpace(email)
	user, err := a.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = VerifyPassword(dummyHash, password)
			return LoginResult{}, newErrorf(KindInvalidCredentials, "unknown email")
		}
		return LoginResult{}, a.internal("find user by email", err)
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrPasswordMismatch) {
			return LoginResult{}, newError(KindInvalidCredentials, err)
		}
		return LoginResult{}, a.internal("verify password of "+user.ID, err)
	}
	if !user.Active {
		return LoginResult{}, newErrorf(KindAccountDisabled, "account disabled")
	}
	span.SetAttributes(attribute.String("user.id", user.ID))

	role, err := a.store.FindRoleByID(ctx, user.RoleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			a.log.Error("user has no resolvable role", zap.String("user_id", user.ID), zap.String("role_id", user.RoleID))
			return LoginResult{}, newErrorf(KindInvalidCredentials, "role not resolvable")
		}
		return LoginResult{}, a.internal("find role", err)
	}

	now := a.now()
	sess, err := a.sessions.Create(ctx, user.ID, now.Add(a.refreshTTL))
	if err != nil {
		return LoginResult{}, a.internal("create session", err)
	}

	access, accessExp, err := a.codec.EncodeAccess(accessClaimsFor(user, role, sess.ID), a.accessTTL)
	if err != nil {
		a.abandon(ctx, sess.ID)
		return LoginResult{}, a.internal("encode access token", err)
	}
	refresh, refreshExp, err := a.codec.EncodeRefresh(user.ID, sess.ID, a.refreshTTL)
	if err != nil {
		a.abandon(ctx, sess.ID)
		return LoginResult{}, a.internal("encode refresh token", err)
	}

	if err := a.store.TouchLastLogin(ctx, user.ID, now); err != nil {
		a.log.Warn("touch last login failed", zap.String("user_id", user.ID), zap.Error(err))
	} else {
		at := now.UTC()
		user.LastLoginAt = &at
	}

	return LoginResult{
		AccessToken:           access,
		RefreshToken:          refresh,
		AccessTokenExpiresAt:  accessExp,
		RefreshTokenExpiresAt: refreshExp,
		User:                  newUserView(user, role),
		SessionID:             sess.ID,
	}, nil
}

// Refresh mints a new access token from a refresh token. User and role are
// reloaded so the new token carries the current permission set.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (res RefreshResult, err error) {
	ctx, span := obs.Tracer().Start(ctx, "auth.Refresh")
	defer func() {
		endSpan(span, err)
		obs.ObserveRefresh(outcome(err))
	}()

	claims, err := a.codec.Decode(refreshToken)
	if err != nil {
		return RefreshResult{}, err
	}
	if claims.Type != TokenTypeRefresh {
		return RefreshResult{}, newErrorf(KindWrongTokenType, "refresh token required")
	}

	active, err := a.sessions.IsActive(ctx, claims.SessionID)
	if err != nil {
		return RefreshResult{}, a.internal("check session", err)
	}
	if !active {
		return RefreshResult{}, newErrorf(KindSessionRevoked, "session is not active")
	}

	user, err := a.store.FindUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return RefreshResult{}, newErrorf(KindUserInactiveOrMissing, "user not found")
		}
		return RefreshResult{}, a.internal("find user by id", err)
	}
	if !user.Active {
		return RefreshResult{}, newErrorf(KindUserInactiveOrMissing, "user disabled")
	}
	role, err := a.store.FindRoleByID(ctx, user.RoleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			a.log.Error("user has no resolvable role", zap.String("user_id", user.ID), zap.String("role_id", user.RoleID))
			return RefreshResult{}, newErrorf(KindUserInactiveOrMissing, "role not resolvable")
		}
		return RefreshResult{}, a.internal("find role", err)
	}

	access, exp, err := a.codec.EncodeAccess(accessClaimsFor(user, role, claims.SessionID), a.accessTTL)
	if err != nil {
		return RefreshResult{}, a.internal("encode access token", err)
	}
	return RefreshResult{AccessToken: access, AccessTokenExpiresAt: exp}, nil
}

// Logout revokes the session referenced by an access token, a refresh token
// or a bare session id. Tokens must carry a valid signature but may be
// expired. Unknown, already revoked and unparseable input all succeed; only
// registry failures are reported.
func (a *Authenticator) Logout(ctx context.Context, tokenOrSessionID string) (err error) {
	ctx, span := obs.Tracer().Start(ctx, "auth.Logout")
	defer func() { endSpan(span, err) }()

	input := strings.TrimSpace(tokenOrSessionID)
	if input == "" {
		return nil
	}
	sessionID := input
	if looksLikeJWT(input) {
		claims, err := a.codec.decodeIgnoringExpiry(input)
		if err != nil {
			a.log.Debug("logout with unverifiable token", zap.Error(err))
			return nil
		}
		sessionID = claims.SessionID
	}
	if err := a.sessions.Revoke(ctx, sessionID); err != nil {
		return a.internal("revoke session", err)
	}
	obs.ObserveSessionsRevoked(1)
	return nil
}

// RevokeUser invalidates every live session of userID, e.g. after a password
// reset or when an administrator disables the account.
func (a *Authenticator) RevokeUser(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	n, err := a.sessions.RevokeUser(ctx, userID)
	if err != nil {
		return 0, a.internal("revoke user sessions", err)
	}
	obs.ObserveSessionsRevoked(n)
	return n, nil
}

// SessionFromToken returns the session id carried by a signed token without
// checking expiry. Used by callers that need to correlate a logout.
func (a *Authenticator) SessionFromToken(token string) (string, bool) {
	claims, err := a.codec.decodeIgnoringExpiry(token)
	if err != nil {
		return "", false
	}
	return claims.SessionID, true
}

func (a *Authenticator) abandon(ctx context.Context, sessionID string) {
	if err := a.sessions.Revoke(ctx, sessionID); err != nil {
		a.log.Warn("revoke abandoned session failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (a *Authenticator) internal(op string, err error) *Error {
	a.log.Error("auth: "+op, zap.Error(err))
	return newError(KindInternal, fmt.Errorf("%s: %w", op, err))
}

func accessClaimsFor(user *User, role *Role, sessionID string) AccessClaims {
	return AccessClaims{
		UserID:      user.ID,
		Email:       user.Email,
		Role:        role.Name,
		Permissions: permissionList(role.Permissions),
		SessionID:   sessionID,
	}
}

func looksLikeJWT(s string) bool {
	return strings.Count(s, ".") == 2
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return KindOf(err).String()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, KindOf(err).String())
		if KindOf(err) == KindInternal {
			span.RecordError(err)
		}
	}
	span.End()
}
