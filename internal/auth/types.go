package auth

import "time"

// User is a credential store row. The auth core only ever writes LastLoginAt.
type User struct {
	ID            string
	Email         string
	PasswordHash  string
	RoleID        string
	Active        bool
	InstitutionID string
	LastLoginAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Role groups permission keys.
type Role struct {
	ID          string
	Name        string
	Description string
	Permissions []string
}

// Permission is a fine-grained capability.
type Permission struct {
	ID          string
	Key         string
	Description string
}

// Session is a login session tracked for revocation.
type Session struct {
	ID        string     `db:"id"`
	UserID    string     `db:"user_id"`
	IssuedAt  time.Time  `db:"issued_at"`
	ExpiresAt time.Time  `db:"expires_at"`
	Revoked   bool       `db:"revoked"`
	RevokedAt *time.Time `db:"revoked_at"`
}

// Active reports whether the session can still authorize requests at now.
func (s Session) Active(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// Identity is the canonical caller representation attached by the guard.
type Identity struct {
	UserID        string   `json:"id"`
	Email         string   `json:"email"`
	Role          string   `json:"role"`
	Permissions   []string `json:"permissions"`
	SessionID     string   `json:"sessionId"`
	InstitutionID string   `json:"institutionId,omitempty"`
}

// UserView is the sanitized user returned to clients after login.
type UserView struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Role          string     `json:"role"`
	Permissions   []string   `json:"permissions"`
	InstitutionID string     `json:"institutionId,omitempty"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
}

// permissionList copies p and never returns nil, so an empty grant encodes
// as [] rather than null.
func permissionList(p []string) []string {
	return append(make([]string, 0, len(p)), p...)
}

func newUserView(u *User, role *Role) UserView {
	return UserView{
		ID:            u.ID,
		Email:         u.Email,
		Role:          role.Name,
		Permissions:   permissionList(role.Permissions),
		InstitutionID: u.InstitutionID,
		LastLoginAt:   u.LastLoginAt,
	}
}
