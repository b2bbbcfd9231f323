package lock

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r := NewRedis(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.retryWait = 5 * time.Millisecond
	return r, mr
}

func TestRedisLockAndRelease(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	unlock, err := r.Lock(ctx, "schema:Checkin_Log")
	require.NoError(t, err)
	assert.True(t, mr.Exists("checkin:lock:schema:Checkin_Log"))

	unlock()
	assert.False(t, mr.Exists("checkin:lock:schema:Checkin_Log"))
}

func TestRedisLockBlocksSecondHolder(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	unlock, err := r.Lock(ctx, "k")
	require.NoError(t, err)

	tctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = r.Lock(tctx, "k")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	again, err := r.Lock(ctx, "k")
	require.NoError(t, err)
	again()
}

func TestRedisReleaseKeepsForeignLease(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	unlock, err := r.Lock(ctx, "k")
	require.NoError(t, err)

	// The lease expires and another process takes the lock.
	mr.FastForward(defaultLockTTL + time.Second)
	require.NoError(t, mr.Set("checkin:lock:k", "someone-else"))

	unlock()
	got, err := mr.Get("checkin:lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLockUnavailable(t *testing.T) {
	r, mr := newTestRedis(t)
	mr.Close()

	_, err := r.Lock(context.Background(), "k")
	require.Error(t, err)
}
