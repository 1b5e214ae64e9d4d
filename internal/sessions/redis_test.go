package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T, c *clock) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, WithClock(c.Now), WithKeyPrefix("test:")), mr
}

func TestRedisLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	r, mr := newTestRedis(t, c)

	s, err := r.Create(ctx, "user-1", c.Now().Add(time.Hour))
	require.NoError(t, err)

	assert.True(t, mr.Exists("test:session:"+s.ID))
	assert.Equal(t, time.Hour, mr.TTL("test:session:"+s.ID))
	assert.Equal(t, "user-1", mr.HGet("test:session:"+s.ID, "user_id"))
	members, err := mr.Members("test:session:user:user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{s.ID}, members)

	active, err := r.IsActive(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, r.Revoke(ctx, s.ID))
	require.NoError(t, r.Revoke(ctx, s.ID))
	assert.Equal(t, "1", mr.HGet("test:session:"+s.ID, "revoked"))

	active, err = r.IsActive(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestRedisRevokeUnknownDoesNotCreateKeys(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	r, mr := newTestRedis(t, c)

	require.NoError(t, r.Revoke(ctx, "6f1c1a4e-8f7b-4c1e-9a55-0d3c2b1a0f00"))
	require.NoError(t, r.Revoke(ctx, "not-a-uuid"))
	assert.Empty(t, mr.Keys())
}

func TestRedisExpiredKeyIsInactive(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	r, mr := newTestRedis(t, c)

	s, err := r.Create(ctx, "user-1", c.Now().Add(time.Minute))
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	active, err := r.IsActive(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestRedisHonoursStoredExpiry(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	r, _ := newTestRedis(t, c)

	s, err := r.Create(ctx, "user-1", c.Now().Add(time.Minute))
	require.NoError(t, err)

	// key still present (no fast-forward) but the clock has moved past expiry
	c.Advance(time.Minute)
	active, err := r.IsActive(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestRedisRevokeUser(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	r, mr := newTestRedis(t, c)

	a, _ := r.Create(ctx, "user-1", c.Now().Add(time.Hour))
	b, _ := r.Create(ctx, "user-1", c.Now().Add(time.Hour))
	other, _ := r.Create(ctx, "user-2", c.Now().Add(time.Hour))
	mr.Del("test:session:" + b.ID)

	n, err := r.RevokeUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	members, err := mr.Members("test:session:user:user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, members, "vanished sessions are pruned from the index")

	active, _ := r.IsActive(ctx, a.ID)
	assert.False(t, active)
	active, _ = r.IsActive(ctx, other.ID)
	assert.True(t, active)

	n, err = r.RevokeUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisPurgeIsNoop(t *testing.T) {
	c := newClock()
	r, _ := newTestRedis(t, c)
	n, err := r.PurgeExpired(context.Background(), c.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisUnavailable(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	r, mr := newTestRedis(t, c)
	mr.Close()

	_, err := r.IsActive(ctx, "6f1c1a4e-8f7b-4c1e-9a55-0d3c2b1a0f00")
	assert.Error(t, err)
	assert.Error(t, r.Ping(ctx))
}
