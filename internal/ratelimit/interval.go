package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IntervalLimiter admits at most one event per key within an interval.
// Implementations fail closed.
type IntervalLimiter interface {
	Allow(ctx context.Context, key string) bool
}

// RedisIntervalLimiter claims a key with SET NX PX, so the interval holds
// across every process sharing the Redis instance.
type RedisIntervalLimiter struct {
	interval    time.Duration
	redisClient redis.Cmdable
	redisPrefix string
}

// NewRedisIntervalLimiter creates a Redis-backed interval limiter.
func NewRedisIntervalLimiter(client redis.Cmdable, prefix string, interval time.Duration) (*RedisIntervalLimiter, error) {
	if interval <= 0 {
		return nil, errors.New("interval limiter requires a positive interval")
	}
	if client == nil {
		return nil, errors.New("interval limiter redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "myndiary:interval"
	}
	return &RedisIntervalLimiter{interval: interval, redisClient: client, redisPrefix: prefix}, nil
}

// Allow reports whether key may proceed now and, if so, starts its interval.
func (l *RedisIntervalLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ok, err := l.redisClient.SetNX(ctx, l.redisPrefix+":"+normalizeKey(key), time.Now().UTC().UnixMilli(), l.interval).Result()
	if err != nil {
		return false
	}
	return ok
}

// MemoryIntervalLimiter is the single-process variant.
type MemoryIntervalLimiter struct {
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewMemoryIntervalLimiter creates an in-process limiter. A nil clock uses time.Now.
func NewMemoryIntervalLimiter(interval time.Duration, now func() time.Time) *MemoryIntervalLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryIntervalLimiter{interval: interval, now: now, last: make(map[string]time.Time)}
}

// Allow reports whether key may proceed now and, if so, starts its interval.
func (l *MemoryIntervalLimiter) Allow(_ context.Context, key string) bool {
	if l == nil {
		return false
	}
	key = normalizeKey(key)
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.last[key]; ok && now.Sub(last) < l.interval {
		return false
	}
	l.last[key] = now
	if len(l.last) > 1024 {
		for k, t := range l.last {
			if now.Sub(t) >= l.interval {
				delete(l.last, k)
			}
		}
	}
	return true
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "unknown"
	}
	return key
}

var (
	_ IntervalLimiter = (*RedisIntervalLimiter)(nil)
	_ IntervalLimiter = (*MemoryIntervalLimiter)(nil)
)
