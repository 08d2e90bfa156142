package ratelimit

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secure-share-hub/internal/clock"
)

func TestMemoryLimiter(t *testing.T) {
	clk := clock.NewMock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	l := NewMemoryLimiter(clk)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := l.Allow(ctx, "auth:1.2.3.4", 5, 15*time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i+1)
		assert.Equal(t, 4-i, res.Remaining)
	}

	res, err := l.Allow(ctx, "auth:1.2.3.4", 5, 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 5, res.Limit)

	other, err := l.Allow(ctx, "auth:5.6.7.8", 5, 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	// A token comes back every window/limit.
	clk.Advance(4 * time.Minute)
	res, err = l.Allow(ctx, "auth:1.2.3.4", 5, 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryLimiterForgetsIdleKeys(t *testing.T) {
	clk := clock.NewMock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	l := NewMemoryLimiter(clk)
	_, err := l.Allow(context.Background(), "k", 1, time.Minute)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	res, err := l.Allow(context.Background(), "other", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Len(t, l.limiters, 1)
}

func TestAllowRejectsNonPositiveLimit(t *testing.T) {
	clk := clock.NewMock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	for name, l := range map[string]Limiter{
		"memory": NewMemoryLimiter(clk),
		"redis":  NewRedisLimiter(nil, "ratelimit", clk),
	} {
		_, err := l.Allow(context.Background(), "download:1.2.3.4", 0, time.Minute)
		assert.ErrorIs(t, err, ErrInvalidLimit, name)
		_, err = l.Allow(context.Background(), "download:1.2.3.4", 5, 0)
		assert.ErrorIs(t, err, ErrInvalidLimit, name)
	}
}

func TestRedisWindowKey(t *testing.T) {
	l := NewRedisLimiter(nil, "ratelimit", nil)
	now := time.Date(2024, 1, 1, 10, 7, 30, 0, time.UTC)

	key, reset := l.windowKey("download:1.2.3.4", 15*time.Minute, now)
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "ratelimit:download:1.2.3.4:"+strconv.FormatInt(start.Unix(), 10), key)
	assert.Equal(t, start.Add(15*time.Minute), reset)
}
