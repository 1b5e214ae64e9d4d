package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"eduportal.org/internal/auth"
	"eduportal.org/internal/ids"
)

// NewUser is the input for CreateUser.
type NewUser struct {
	Email         string
	PasswordHash  string
	RoleName      string
	InstitutionID string
}

// CreateUser provisions an account bound to an existing role by name.
func (s *Store) CreateUser(ctx context.Context, in NewUser) (*auth.User, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" || in.PasswordHash == "" {
		return nil, fmt.Errorf("%w: email and password hash are required", auth.ErrInvalidInput)
	}

	var roleID string
	err := s.db.QueryRowContext(ctx, `select id from roles where name = $1`, strings.ToUpper(in.RoleName)).Scan(&roleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: role %s", auth.ErrNotFound, in.RoleName)
		}
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		insert into users (id, email, password_hash, role_id, institution_id)
		values ($1, $2, $3, $4, $5)
		returning `+userColumns,
		ids.New(), email, in.PasswordHash, roleID, nullIfEmpty(in.InstitutionID))
	u, err := scanUser(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return nil, ErrConflict
			case pgErrForeignKeyViolation:
				return nil, auth.ErrNotFound
			}
		}
		return nil, err
	}
	return u, nil
}

// SetUserActive enables or disables an account. Disabling takes effect on
// the next guarded request.
func (s *Store) SetUserActive(ctx context.Context, userID string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		update users set active = $2, updated_at = now()
		where id = $1
	`, userID, active)
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

// EnsurePermissions upserts the permission catalog.
func (s *Store) EnsurePermissions(ctx context.Context, perms []auth.Permission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range perms {
		id := p.ID
		if id == "" {
			id = "perm_" + strings.ReplaceAll(p.Key, ".", "_")
		}
		if _, err := tx.ExecContext(ctx, `
			insert into permissions (id, key, description)
			values ($1, $2, $3)
			on conflict (key) do update set description = excluded.description
		`, id, p.Key, p.Description); err != nil {
			return fmt.Errorf("upsert permission %s: %w", p.Key, err)
		}
	}
	return tx.Commit()
}

// SetRolePermissions replaces the permission set of a role.
func (s *Store) SetRolePermissions(ctx context.Context, roleID string, permissionKeys []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrNotFound
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, key := range permissionKeys {
		var permID string
		err := tx.QueryRowContext(ctx, `select id from permissions where key = $1`, key).Scan(&permID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: permission %s not found", auth.ErrNotFound, key)
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
		`, roleID, permID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
