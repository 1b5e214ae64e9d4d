// Package sessions provides auth.SessionRegistry implementations: an
// in-process map, a Postgres table and Redis hashes.
package sessions

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"eduportal.org/internal/auth"
)

var (
	_ auth.SessionRegistry = (*Memory)(nil)
	_ auth.SessionRegistry = (*Postgres)(nil)
	_ auth.SessionRegistry = (*Redis)(nil)
)

var errBadExpiry = errors.New("sessions: expiry must be in the future")

type options struct {
	now    func() time.Time
	prefix string
}

// Option configures a registry.
type Option func(*options)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(o *options) {
		if fn != nil {
			o.now = fn
		}
	}
}

// WithKeyPrefix namespaces Redis keys. Ignored by the other registries.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func newSession(userID string, now, expiresAt time.Time) (auth.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return auth.Session{}, errors.New("sessions: user id is required")
	}
	if !expiresAt.After(now) {
		return auth.Session{}, errBadExpiry
	}
	return auth.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		IssuedAt:  now.UTC(),
		ExpiresAt: expiresAt.UTC(),
	}, nil
}

// validID reports whether id can name a session at all. Anything else is
// unknown and therefore inactive without a round trip.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
