package session_test

import (
	"context"
	"testing"
	"time"

	"tutorbff/pkg/session"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRevoker(t *testing.T) {
	ctx := context.Background()
	r := session.NewMemoryRevoker()

	revoked, err := r.IsRevoked(ctx, "sid")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, r.Revoke(ctx, "sid", time.Now().Add(time.Hour)))
	revoked, err = r.IsRevoked(ctx, "sid")
	require.NoError(t, err)
	assert.True(t, revoked)

	require.NoError(t, r.Revoke(ctx, "past", time.Now().Add(-time.Hour)))
	revoked, err = r.IsRevoked(ctx, "past")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRedisRevoker(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r := session.NewRedisRevoker(client)

	require.NoError(t, r.Revoke(ctx, "sid", time.Now().Add(time.Minute)))
	revoked, err := r.IsRevoked(ctx, "sid")
	require.NoError(t, err)
	assert.True(t, revoked)

	mr.FastForward(2 * time.Minute)
	revoked, err = r.IsRevoked(ctx, "sid")
	require.NoError(t, err)
	assert.False(t, revoked, "entries expire with the envelope")

	require.NoError(t, r.Revoke(ctx, "past", time.Now().Add(-time.Second)))
	assert.False(t, mr.Exists("bff:revoked:past"))

	mr.Close()
	_, err = r.IsRevoked(ctx, "sid")
	assert.Error(t, err)
}

func TestNoOpRevoker(t *testing.T) {
	var r session.NoOpRevoker
	require.NoError(t, r.Revoke(context.Background(), "sid", time.Now().Add(time.Hour)))
	revoked, err := r.IsRevoked(context.Background(), "sid")
	require.NoError(t, err)
	assert.False(t, revoked)
}
