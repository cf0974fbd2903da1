package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/fomo/internal/testutil"
)

func TestRedisLock(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	first := NewRedisLock(client, "sweeper", time.Minute)
	second := NewRedisLock(client, "sweeper", time.Minute)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// a non-owner release leaves the lock in place
	require.NoError(t, second.Release(ctx))
	assert.True(t, mr.Exists("lock:sweeper"))

	require.NoError(t, first.Release(ctx))
	assert.False(t, mr.Exists("lock:sweeper"))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_Expires(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	crashed := NewRedisLock(client, "sweeper", time.Minute)
	ok, _ := crashed.Acquire(ctx)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = NewRedisLock(client, "sweeper", time.Minute).Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPGAdvisoryLock(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	lock := NewPGAdvisoryLock(db, "sweeper")
	ctx := context.Background()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(lock.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WithArgs(lock.lockID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// held locally: no second round trip
	ok, err = lock.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx))
	require.NoError(t, lock.Release(ctx))
}

func TestPGAdvisoryLock_Busy(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	lock := NewPGAdvisoryLock(db, "sweeper")

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNew(t *testing.T) {
	db, _ := testutil.NewMockDB(t)
	assert.IsType(t, &PGAdvisoryLock{}, New(nil, db, "k", time.Minute))
}
