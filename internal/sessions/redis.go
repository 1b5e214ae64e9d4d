package sessions

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"eduportal.org/internal/auth"
)

// revokeScript marks a session revoked without resurrecting an expired key.
// Returns 1 when it flipped the flag, 0 when already revoked, -1 when gone.
var revokeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if redis.call('HGET', KEYS[1], 'revoked') == '1' then
	return 0
end
redis.call('HSET', KEYS[1], 'revoked', '1', 'revoked_at', ARGV[1])
return 1
`)

// Redis stores each session as a hash whose key expires with the session,
// plus a per-user set of session ids for forced invalidation.
type Redis struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedis(client redis.UniversalClient, opts ...Option) *Redis {
	o := buildOptions(opts)
	return &Redis{client: client, prefix: o.prefix, now: o.now}
}

func (r *Redis) key(id string) string      { return r.prefix + "session:" + id }
func (r *Redis) userKey(uid string) string { return r.prefix + "session:user:" + uid }

func (r *Redis) Create(ctx context.Context, userID string, expiresAt time.Time) (auth.Session, error) {
	now := r.now()
	s, err := newSession(userID, now, expiresAt)
	if err != nil {
		return auth.Session{}, err
	}
	ttl := s.ExpiresAt.Sub(now)
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, r.key(s.ID), map[string]any{
			"user_id":    s.UserID,
			"issued_at":  s.IssuedAt.Unix(),
			"expires_at": s.ExpiresAt.Unix(),
			"revoked":    "0",
		})
		p.Expire(ctx, r.key(s.ID), ttl)
		p.SAdd(ctx, r.userKey(s.UserID), s.ID)
		// every session shares one lifetime, so the newest expiry wins
		p.Expire(ctx, r.userKey(s.UserID), ttl)
		return nil
	})
	if err != nil {
		return auth.Session{}, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

func (r *Redis) Revoke(ctx context.Context, sessionID string) error {
	if !validID(sessionID) {
		return nil
	}
	if _, err := r.revoke(ctx, sessionID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (r *Redis) revoke(ctx context.Context, sessionID string) (int64, error) {
	at := strconv.FormatInt(r.now().UTC().Unix(), 10)
	return revokeScript.Run(ctx, r.client, []string{r.key(sessionID)}, at).Int64()
}

func (r *Redis) RevokeUser(ctx context.Context, userID string) (int64, error) {
	ids, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("list user sessions: %w", err)
	}
	var n int64
	for _, id := range ids {
		res, err := r.revoke(ctx, id)
		if err != nil {
			return n, fmt.Errorf("revoke session %s: %w", id, err)
		}
		switch res {
		case 1:
			n++
		case -1:
			if err := r.client.SRem(ctx, r.userKey(userID), id).Err(); err != nil {
				return n, fmt.Errorf("prune user index: %w", err)
			}
		}
	}
	return n, nil
}

func (r *Redis) IsActive(ctx context.Context, sessionID string) (bool, error) {
	if !validID(sessionID) {
		return false, nil
	}
	fields, err := r.client.HGetAll(ctx, r.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("get session: %w", err)
	}
	if len(fields) == 0 || fields["revoked"] == "1" {
		return false, nil
	}
	exp, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return false, nil
	}
	return r.now().Before(time.Unix(exp, 0)), nil
}

// PurgeExpired is a no-op: Redis drops session keys when their TTL runs out.
func (r *Redis) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// Ping checks the Redis connection for readiness probes.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
