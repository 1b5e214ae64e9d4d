package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType discriminates access tokens from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// AccessClaims is the identity embedded into an access token.
type AccessClaims struct {
	UserID      string
	Email       string
	Role        string
	Permissions []string
	SessionID   string
}

// Claims represents JWT claims used across the service.
type Claims struct {
	Email       string    `json:"email,omitempty"`
	Role        string    `json:"role,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	SessionID   string    `json:"sid"`
	Type        TokenType `json:"type"`
	jwt.RegisteredClaims
}

// Access returns the identity part of the claims.
func (c *Claims) Access() AccessClaims {
	return AccessClaims{
		UserID:      c.Subject,
		Email:       c.Email,
		Role:        c.Role,
		Permissions: permissionList(c.Permissions),
		SessionID:   c.SessionID,
	}
}

// CodecConfig configures token signing and verification.
type CodecConfig struct {
	Secret    []byte
	Algorithm string
	Issuer    string
	Audience  string
	// Leeway is the accepted clock skew when checking exp and iat.
	Leeway time.Duration
	Clock  func() time.Time
}

// Codec signs and verifies access and refresh tokens with a symmetric key.
type Codec struct {
	secret   []byte
	method   jwt.SigningMethod
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// NewCodec validates cfg and builds a Codec.
func NewCodec(cfg CodecConfig) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("%w: token secret is required", ErrInvalidInput)
	}
	alg := strings.ToUpper(strings.TrimSpace(cfg.Algorithm))
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	method, err := signingMethod(alg)
	if err != nil {
		return nil, err
	}
	if cfg.Leeway < 0 {
		return nil, fmt.Errorf("%w: leeway must not be negative", ErrInvalidInput)
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Codec{
		secret:   cfg.Secret,
		method:   method,
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		leeway:   cfg.Leeway,
		now:      now,
	}, nil
}

func signingMethod(alg string) (jwt.SigningMethod, error) {
	switch alg {
	case jwt.SigningMethodHS256.Alg():
		return jwt.SigningMethodHS256, nil
	case jwt.SigningMethodHS384.Alg():
		return jwt.SigningMethodHS384, nil
	case jwt.SigningMethodHS512.Alg():
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("%w: unsupported signing algorithm %q", ErrInvalidInput, alg)
	}
}

// EncodeAccess signs an access token valid for ttl.
func (c *Codec) EncodeAccess(claims AccessClaims, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(claims.UserID) == "" {
		return "", time.Time{}, errors.New("userID is required")
	}
	if strings.TrimSpace(claims.SessionID) == "" {
		return "", time.Time{}, errors.New("sessionID is required")
	}
	return c.sign(Claims{
		Email:       claims.Email,
		Role:        claims.Role,
		Permissions: claims.Permissions,
		SessionID:   claims.SessionID,
		Type:        TokenTypeAccess,
	}, claims.UserID, ttl)
}

// EncodeRefresh signs a refresh token bound to sessionID.
func (c *Codec) EncodeRefresh(userID, sessionID string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, errors.New("userID is required")
	}
	if strings.TrimSpace(sessionID) == "" {
		return "", time.Time{}, errors.New("sessionID is required")
	}
	return c.sign(Claims{SessionID: sessionID, Type: TokenTypeRefresh}, userID, ttl)
}

func (c *Codec) sign(claims Claims, subject string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be greater than zero")
	}
	now := c.now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	if c.audience != "" {
		claims.Audience = jwt.ClaimStrings{c.audience}
	}
	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Decode verifies signature, issuer, audience and expiry. It does not check
// the token type; callers must.
func (c *Codec) Decode(token string) (*Claims, error) {
	claims, err := c.parse(token, true)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, newError(KindTokenExpired, err)
		}
		return nil, newError(KindTokenMalformed, err)
	}
	return claims, nil
}

// decodeIgnoringExpiry verifies the signature and the token's origin but
// accepts expired tokens. Used by logout only.
func (c *Codec) decodeIgnoringExpiry(token string) (*Claims, error) {
	claims, err := c.parse(token, false)
	if err != nil {
		return nil, newError(KindTokenMalformed, err)
	}
	return claims, nil
}

func (c *Codec) parse(token string, validateTime bool) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("token is empty")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithLeeway(c.leeway),
	}
	if validateTime {
		opts = append(opts, jwt.WithExpirationRequired(), jwt.WithIssuedAt())
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	if c.audience != "" {
		opts = append(opts, jwt.WithAudience(c.audience))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	if !validateTime {
		if err := c.checkOrigin(claims); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("subject missing")
	}
	if strings.TrimSpace(claims.SessionID) == "" {
		return nil, errors.New("session id missing")
	}
	return claims, nil
}

// checkOrigin repeats the issuer and audience checks that
// WithoutClaimsValidation skips.
func (c *Codec) checkOrigin(claims *Claims) error {
	if c.issuer != "" && claims.Issuer != c.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if c.audience == "" {
		return nil
	}
	for _, aud := range claims.Audience {
		if aud == c.audience {
			return nil
		}
	}
	return errors.New("unexpected audience")
}
