package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"eduportal.org/internal/auth"
)

const userColumns = `id, email, password_hash, coalesce(role_id, ''), active,
	coalesce(institution_id, ''), last_login_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*auth.User, error) {
	var (
		u         auth.User
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.RoleID, &u.Active,
		&u.InstitutionID, &lastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

// FindUserByEmail matches the stored email exactly.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, email)
	return scanUser(row)
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

// FindRoleByID loads the role with its permission keys sorted by key.
func (s *Store) FindRoleByID(ctx context.Context, id string) (*auth.Role, error) {
	if id == "" {
		return nil, auth.ErrNotFound
	}
	var role auth.Role
	err := s.db.QueryRowContext(ctx, `
		select id, name, description
		from roles
		where id = $1
	`, id).Scan(&role.ID, &role.Name, &role.Description)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select p.key
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.key
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	role.Permissions = []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		role.Permissions = append(role.Permissions, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *Store) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update users set last_login_at = $2
		where id = $1
	`, userID, at.UTC())
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}
