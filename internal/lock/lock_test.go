package redlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (redis.UniversalClient, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()}), mr
}

func TestLockAndUnlock(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	locker := NewLocker(client, "enhancer:lock", "holder-1")
	require.NoError(t, locker.Lock(ctx, time.Minute))
	require.NoError(t, locker.Unlock(ctx))
}

func TestLockHeldByAnotherInstance(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	first := NewLocker(client, "enhancer:lock", "holder-1")
	second := NewLocker(client, "enhancer:lock", "holder-2")

	require.NoError(t, first.Lock(ctx, time.Minute))
	assert.Error(t, second.Lock(ctx, time.Minute))

	// A stale holder must not release someone else's lock.
	assert.Error(t, second.Unlock(ctx))
	assert.NoError(t, first.Unlock(ctx))
}

func TestLockReacquiredAfterExpiry(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	first := NewLocker(client, "enhancer:lock", "holder-1")
	require.NoError(t, first.Lock(ctx, time.Second))

	mr.FastForward(2 * time.Second)

	second := NewLocker(client, "enhancer:lock", "holder-2")
	assert.NoError(t, second.Lock(ctx, time.Minute))
}

func TestLockRedisErrorPropagates(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectSetNX("enhancer:lock", "holder-1", time.Minute).SetErr(errors.New("connection refused"))

	locker := NewLocker(client, "enhancer:lock", "holder-1")
	assert.Error(t, locker.Lock(context.Background(), time.Minute))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtendLock(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	locker := NewLocker(client, "enhancer:lock", "holder-1")
	require.NoError(t, locker.Lock(ctx, time.Second))
	assert.NoError(t, locker.ExtendLock(ctx, time.Minute))

	other := NewLocker(client, "enhancer:lock", "holder-2")
	assert.Error(t, other.ExtendLock(ctx, time.Minute))
}
