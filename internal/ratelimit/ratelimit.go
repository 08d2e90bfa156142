// Package ratelimit counts requests per client key.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/secure-share-hub/internal/clock"
)

// ErrInvalidLimit is returned for a non-positive limit or window.
var ErrInvalidLimit = errors.New("rate limit and window must be positive")

func checkLimit(key string, limit int, window time.Duration) error {
	if limit <= 0 || window <= 0 {
		return fmt.Errorf("rate limit %s: %w", key, ErrInvalidLimit)
	}
	return nil
}

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter admits at most limit requests per window for each key.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// RedisLimiter is a fixed-window counter shared by every server instance.
type RedisLimiter struct {
	client redis.Cmdable
	prefix string
	clock  clock.Clock
}

func NewRedisLimiter(client redis.Cmdable, prefix string, clk clock.Clock) *RedisLimiter {
	if clk == nil {
		clk = clock.System{}
	}
	return &RedisLimiter{client: client, prefix: prefix, clock: clk}
}

func (l *RedisLimiter) windowKey(key string, window time.Duration, now time.Time) (string, time.Time) {
	start := now.Truncate(window)
	return fmt.Sprintf("%s:%s:%d", l.prefix, key, start.Unix()), start.Add(window)
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if err := checkLimit(key, limit, window); err != nil {
		return Result{}, err
	}
	k, reset := l.windowKey(key, window, l.clock.Now())

	pipe := l.client.TxPipeline()
	incrCmd := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit %s: %w", key, err)
	}

	count := int(incrCmd.Val())
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   reset,
	}, nil
}

// MemoryLimiter is a per-process token bucket refilled at limit/window.
type MemoryLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	clock    clock.Clock
	lastGC   time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	window   time.Duration
}

func NewMemoryLimiter(clk clock.Clock) *MemoryLimiter {
	if clk == nil {
		clk = clock.System{}
	}
	return &MemoryLimiter{limiters: make(map[string]*entry), clock: clk, lastGC: clk.Now()}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if err := checkLimit(key, limit, window); err != nil {
		return Result{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.gc(now)

	k := fmt.Sprintf("%s:%d:%d", key, limit, window)
	e, ok := l.limiters[k]
	if !ok {
		every := window / time.Duration(limit)
		e = &entry{limiter: rate.NewLimiter(rate.Every(every), limit), window: window}
		l.limiters[k] = e
	}
	e.lastSeen = now

	allowed := e.limiter.AllowN(now, 1)
	remaining := int(e.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   now.Add(window / time.Duration(limit)),
	}, nil
}

// gc drops buckets idle for longer than their window; they are full again.
func (l *MemoryLimiter) gc(now time.Time) {
	if now.Sub(l.lastGC) < time.Minute {
		return
	}
	for k, e := range l.limiters {
		if now.Sub(e.lastSeen) > e.window {
			delete(l.limiters, k)
		}
	}
	l.lastGC = now
}
