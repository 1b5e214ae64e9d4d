package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"eduportal.org/internal/auth"
)

// Postgres stores sessions in the sessions table.
type Postgres struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewPostgres(db *sqlx.DB, opts ...Option) *Postgres {
	o := buildOptions(opts)
	return &Postgres{db: db, now: o.now}
}

func (p *Postgres) Create(ctx context.Context, userID string, expiresAt time.Time) (auth.Session, error) {
	s, err := newSession(userID, p.now(), expiresAt)
	if err != nil {
		return auth.Session{}, err
	}
	query := `
		insert into sessions (id, user_id, issued_at, expires_at, revoked)
		values (:id, :user_id, :issued_at, :expires_at, :revoked)`
	if _, err := p.db.NamedExecContext(ctx, query, s); err != nil {
		return auth.Session{}, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

func (p *Postgres) Revoke(ctx context.Context, sessionID string) error {
	if !validID(sessionID) {
		return nil
	}
	query := `
		update sessions
		set revoked = true, revoked_at = coalesce(revoked_at, $2)
		where id = $1`
	if _, err := p.db.ExecContext(ctx, query, sessionID, p.now().UTC()); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (p *Postgres) RevokeUser(ctx context.Context, userID string) (int64, error) {
	query := `
		update sessions
		set revoked = true, revoked_at = $2
		where user_id = $1 and not revoked and expires_at > $2`
	res, err := p.db.ExecContext(ctx, query, userID, p.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: rows affected: %w", err)
	}
	return n, nil
}

func (p *Postgres) IsActive(ctx context.Context, sessionID string) (bool, error) {
	if !validID(sessionID) {
		return false, nil
	}
	query := `
		select id, user_id, issued_at, expires_at, revoked, revoked_at
		from sessions
		where id = $1`
	var s auth.Session
	if err := p.db.GetContext(ctx, &s, query, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("get session: %w", err)
	}
	return s.Active(p.now()), nil
}

func (p *Postgres) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `delete from sessions where expires_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks the database connection for readiness probes.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
