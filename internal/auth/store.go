package auth

import (
	"context"
	"time"
)

// CredentialStore is the read side of the user/role tables. Lookups return
// ErrNotFound when the row does not exist.
type CredentialStore interface {
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id string) (*User, error)
	FindRoleByID(ctx context.Context, id string) (*Role, error)
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
}

// SessionRegistry is the source of truth for session revocation.
type SessionRegistry interface {
	Create(ctx context.Context, userID string, expiresAt time.Time) (Session, error)
	// Revoke is idempotent; unknown ids are not an error.
	Revoke(ctx context.Context, sessionID string) error
	RevokeUser(ctx context.Context, userID string) (int64, error)
	// IsActive fails closed: unknown, revoked and expired sessions are inactive.
	IsActive(ctx context.Context, sessionID string) (bool, error)
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}
