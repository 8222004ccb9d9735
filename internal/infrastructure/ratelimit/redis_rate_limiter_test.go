package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/riskguard/internal/config"
	"github.com/turtacn/riskguard/internal/domain/service"
	"github.com/turtacn/riskguard/pkg/logger"
)

func TestRedisRateLimiter_Allow(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	defer client.Close()

	rl, err := NewRedisRateLimiter(client, config.RateLimitConfig{DefaultRPM: 60, BurstSize: 3}, nil, logger.NewNoopLogger())
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, remaining, _, err := rl.Allow(ctx, service.RateLimitDimensionClient, "svc-a")
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, 2-i, remaining)
	}
	allowed, remaining, resetAt, err := rl.Allow(ctx, service.RateLimitDimensionClient, "svc-a")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Zero(t, remaining)
	assert.Equal(t, now.Add(3*time.Second), resetAt)

	// Other keys have their own bucket.
	allowed, _, _, err = rl.Allow(ctx, service.RateLimitDimensionClient, "svc-b")
	require.NoError(t, err)
	assert.True(t, allowed)

	// One token per second refills.
	now = now.Add(time.Second)
	allowed, _, _, err = rl.Allow(ctx, service.RateLimitDimensionClient, "svc-a")
	require.NoError(t, err)
	assert.True(t, allowed)

	assert.True(t, s.Exists("riskguard:ratelimit:client:svc-a"))
}

func TestRedisRateLimiter_FallsBackWhenRedisDown(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer client.Close()

	rl, err := NewRedisRateLimiter(client, config.RateLimitConfig{DefaultRPM: 60, BurstSize: 1}, nil, logger.NewNoopLogger())
	require.NoError(t, err)
	s.Close()

	ctx := context.Background()
	allowed, _, _, err := rl.Allow(ctx, service.RateLimitDimensionIP, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, _, err = rl.Allow(ctx, service.RateLimitDimensionIP, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestLocalRateLimiter(t *testing.T) {
	l := NewLocalRateLimiter(config.RateLimitConfig{DefaultRPM: 120, BurstSize: 2}, nil)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	ok, remaining, _, _ := l.Allow(ctx, service.RateLimitDimensionClient, "k")
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)
	ok, _, _, _ = l.Allow(ctx, service.RateLimitDimensionClient, "k")
	assert.True(t, ok)
	ok, _, resetAt, _ := l.Allow(ctx, service.RateLimitDimensionClient, "k")
	assert.False(t, ok)
	assert.Equal(t, now.Add(time.Second), resetAt)

	now = now.Add(500 * time.Millisecond)
	ok, _, _, _ = l.Allow(ctx, service.RateLimitDimensionClient, "k")
	assert.True(t, ok)

	now = now.Add(time.Hour)
	assert.Equal(t, 1, l.Cleanup(time.Minute))
	assert.Equal(t, 2, l.Limit())
}
