// Package ratelimit caps claim attempts per IP and campaign.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether one more attempt for key is allowed. A limit of
// zero or less allows everything.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// New returns a Redis limiter when client is non-nil and an in-process one
// otherwise
func New(client *redis.Client, limit int, window time.Duration) Limiter {
	if client != nil {
		return NewRedisLimiter(client, limit, window)
	}
	return NewLocalLimiter(limit, window)
}

// Key builds the limiter key for a claim attempt
func Key(campaignID int64, ip string) string {
	return fmt.Sprintf("claim:%d:%s", campaignID, ip)
}

var incrScript = redis.NewScript(`
	local n = redis.call("INCR", KEYS[1])
	if n == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return n
`)

// RedisLimiter is a fixed-window counter shared by every replica
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisLimiter creates a Redis-backed limiter
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window}
}

// Allow counts the attempt and reports whether it is within the window's limit
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	n, err := incrScript.Run(ctx, l.client, []string{"ratelimit:" + key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}
	return n <= int64(l.limit), nil
}

// LocalLimiter keeps one token bucket per key in memory. Buckets refill at
// limit per window and idle ones are dropped after a window.
type LocalLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter creates an in-process limiter
func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	return &LocalLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow takes a token from key's bucket
func (l *LocalLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		every := l.window / time.Duration(l.limit)
		b = &bucket{limiter: rate.NewLimiter(rate.Every(every), l.limit)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.evict(now)

	return b.limiter.AllowN(now, 1), nil
}

func (l *LocalLimiter) evict(now time.Time) {
	if len(l.buckets) < 10000 {
		return
	}
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.window {
			delete(l.buckets, k)
		}
	}
}
