package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLimiter(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisLimiter(client, 5, time.Hour)
	ctx := context.Background()
	key := Key(1, "192.0.2.1")

	for i := 0; i < 5; i++ {
		ok, err := l.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d", i+1)
	}
	ok, err := l.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	// other campaigns and IPs have their own window
	ok, err = l.Allow(ctx, Key(2, "192.0.2.1"))
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, time.Hour, mr.TTL("ratelimit:"+key))

	mr.FastForward(time.Hour + time.Second)
	ok, err = l.Allow(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	_, err = NewRedisLimiter(client, 5, time.Hour).Allow(context.Background(), "k")
	assert.Error(t, err)
}

func TestLocalLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocalLimiter(5, time.Hour)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, _ := l.Allow(ctx, "a")
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "a")
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "b")
	assert.True(t, ok)

	// one token refills every window/limit
	now = now.Add(13 * time.Minute)
	ok, _ = l.Allow(ctx, "a")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "a")
	assert.False(t, ok)
}

func TestNew(t *testing.T) {
	assert.IsType(t, &LocalLimiter{}, New(nil, 5, time.Hour))
}

func TestZeroLimitDisables(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	for _, l := range []Limiter{NewRedisLimiter(client, 0, time.Hour), NewLocalLimiter(0, time.Hour), NewLocalLimiter(-1, time.Hour)} {
		for i := 0; i < 20; i++ {
			ok, err := l.Allow(ctx, Key(1, "192.0.2.1"))
			require.NoError(t, err)
			assert.True(t, ok, "%T attempt %d", l, i+1)
		}
	}
	assert.False(t, mr.Exists("ratelimit:"+Key(1, "192.0.2.1")), "nothing is counted when disabled")
}
