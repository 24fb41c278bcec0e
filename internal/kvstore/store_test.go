package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewFromClient(client, zap.NewNop()), mr
}

func TestGetSet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestGetMissingIsNil(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.True(t, IsNil(err))
}

func TestSetNX(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "lock:1", "tok-a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "lock:1", "tok-b", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIncr(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	v, err := s.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = s.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestReleaseIfOwner(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.SetNX(ctx, "lock:msg:1", "owner-token", time.Second*10)
	require.NoError(t, err)

	released, err := s.ReleaseIfOwner(ctx, "lock:msg:1", "wrong-token")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = s.ReleaseIfOwner(ctx, "lock:msg:1", "owner-token")
	require.NoError(t, err)
	assert.True(t, released)

	_, err = s.Get(ctx, "lock:msg:1")
	assert.True(t, IsNil(err))
}

func TestPingAndClose(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(context.Background()))
}
