package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"eduportal.org/internal/obs"
)

// Guard is the single gate in front of every protected endpoint.
type Guard struct {
	codec        *Codec
	store        CredentialStore
	sessions     SessionRegistry
	sessionCheck bool
	log          *zap.Logger
}

// GuardOption configures Guard behavior.
type GuardOption func(*Guard)

// WithSessionCheck toggles the session registry lookup on every request.
func WithSessionCheck(enabled bool) GuardOption {
	return func(g *Guard) { g.sessionCheck = enabled }
}

// WithGuardLogger sets the logger used for store failures.
func WithGuardLogger(l *zap.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.log = l
		}
	}
}

// NewGuard builds a Guard. Session checking is on unless disabled.
func NewGuard(codec *Codec, store CredentialStore, sessions SessionRegistry, opts ...GuardOption) (*Guard, error) {
	if codec == nil || store == nil {
		return nil, errors.New("auth: codec and store are required")
	}
	g := &Guard{
		codec:        codec,
		store:        store,
		sessions:     sessions,
		sessionCheck: true,
		log:          obs.Logger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.sessionCheck && g.sessions == nil {
		return nil, errors.New("auth: session check requires a session registry")
	}
	return g, nil
}

// Authenticate runs extract, decode, type check, liveness and session check
// against the Authorization header value and returns the caller identity.
func (g *Guard) Authenticate(ctx context.Context, authorization string) (id Identity, err error) {
	ctx, span := obs.Tracer().Start(ctx, "auth.Guard")
	defer func() {
		endSpan(span, err)
		obs.ObserveGuard(outcome(err))
	}()

	token, ok := BearerToken(authorization)
	if !ok {
		return Identity{}, newErrorf(KindNoToken, "bearer token required")
	}
	return g.authenticateToken(ctx, token, span.SetAttributes)
}

// AuthenticateToken is Authenticate for callers that already hold the raw token.
func (g *Guard) AuthenticateToken(ctx context.Context, token string) (id Identity, err error) {
	ctx, span := obs.Tracer().Start(ctx, "auth.Guard")
	defer func() {
		endSpan(span, err)
		obs.ObserveGuard(outcome(err))
	}()

	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, newErrorf(KindNoToken, "bearer token required")
	}
	return g.authenticateToken(ctx, token, span.SetAttributes)
}

func (g *Guard) authenticateToken(ctx context.Context, token string, annotate func(...attribute.KeyValue)) (Identity, error) {
	claims, err := g.codec.Decode(token)
	if err != nil {
		return Identity{}, err
	}
	if claims.Type != TokenTypeAccess {
		return Identity{}, newErrorf(KindWrongTokenType, "access token required")
	}
	annotate(attribute.String("user.id", claims.Subject))

	user, err := g.store.FindUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, newErrorf(KindUserInactiveOrMissing, "user not found")
		}
		g.log.Error("guard: find user", zap.String("user_id", claims.Subject), zap.Error(err))
		return Identity{}, newError(KindInternal, fmt.Errorf("find user: %w", err))
	}
	if !user.Active {
		return Identity{}, newErrorf(KindUserInactiveOrMissing, "user disabled")
	}

	if g.sessionCheck {
		active, err := g.sessions.IsActive(ctx, claims.SessionID)
		if err != nil {
			g.log.Error("guard: check session", zap.String("session_id", claims.SessionID), zap.Error(err))
			return Identity{}, newError(KindInternal, fmt.Errorf("check session: %w", err))
		}
		if !active {
			return Identity{}, newErrorf(KindSessionRevoked, "session is not active")
		}
	}

	return Identity{
		UserID:        user.ID,
		Email:         user.Email,
		Role:          claims.Role,
		Permissions:   permissionList(claims.Permissions),
		SessionID:     claims.SessionID,
		InstitutionID: user.InstitutionID,
	}, nil
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}
