package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"jobpilot-workers/internal/common/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLocker(client, logger.NewTestLogger(t)), mr
}

func TestLocker_AcquireIsExclusive(t *testing.T) {
	l, mr := newTestLocker(t)
	ctx := context.Background()

	lease, ok, err := l.Acquire(ctx, "stage:extract", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "stage:extract", lease.Name())
	assert.Equal(t, time.Minute, mr.TTL(keyPrefix+"stage:extract"))

	_, ok, err = l.Acquire(ctx, "stage:extract", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lease.Release(ctx))

	_, ok, err = l.Acquire(ctx, "stage:extract", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLease_ReleaseAfterTakeoverKeepsNewOwner(t *testing.T) {
	l, mr := newTestLocker(t)
	ctx := context.Background()

	first, ok, err := l.Acquire(ctx, "pipeline:run", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	second, ok, err := l.Acquire(ctx, "pipeline:run", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, first.Release(ctx), ErrNotHeld)

	val, err := mr.Get(keyPrefix + "pipeline:run")
	require.NoError(t, err)
	assert.Equal(t, second.Token(), val)
}

func TestLease_Renew(t *testing.T) {
	l, mr := newTestLocker(t)
	ctx := context.Background()

	lease, _, err := l.Acquire(ctx, "consumer", 10*time.Second)
	require.NoError(t, err)

	mr.FastForward(8 * time.Second)
	require.NoError(t, lease.Renew(ctx))
	assert.Equal(t, 10*time.Second, mr.TTL(keyPrefix+"consumer"))

	mr.FastForward(11 * time.Second)
	assert.ErrorIs(t, lease.Renew(ctx), ErrNotHeld)
}

func TestLocker_WithLock(t *testing.T) {
	l, mr := newTestLocker(t)
	ctx := context.Background()

	calls := 0
	ran, err := l.WithLock(ctx, "stage:score", time.Minute, func(ctx context.Context) error {
		calls++
		assert.True(t, mr.Exists(keyPrefix+"stage:score"))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, calls)
	assert.False(t, mr.Exists(keyPrefix+"stage:score"))

	_, _, err = l.Acquire(ctx, "stage:score", time.Minute)
	require.NoError(t, err)

	ran, err = l.WithLock(ctx, "stage:score", time.Minute, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 1, calls)
}

func TestLocker_WithLockPropagatesError(t *testing.T) {
	l, mr := newTestLocker(t)
	boom := errors.New("stage failed")

	ran, err := l.WithLock(context.Background(), "stage:email", time.Minute, func(ctx context.Context) error {
		return boom
	})
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(keyPrefix+"stage:email"))
}

func TestLocker_AcquireRedisError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	l := NewLocker(client, logger.NewTestLogger(t))

	mock.Regexp().ExpectSetNX(keyPrefix+"stage:generate", `.+`, time.Minute).SetErr(errors.New("connection refused"))

	_, ok, err := l.Acquire(context.Background(), "stage:generate", time.Minute)
	assert.Error(t, err)
	assert.False(t, ok)
}
