// Package ratelimit provides distributed rate limiting using Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/riskguard/internal/config"
	"github.com/turtacn/riskguard/internal/domain/service"
	"github.com/turtacn/riskguard/pkg/constants"
	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
)

// RedisRateLimiter implements a token bucket shared by every replica through Redis.
// When Redis is unreachable it falls back to per-process buckets.
type RedisRateLimiter struct {
	client   redis.UniversalClient
	logger   logger.Logger
	metrics  service.Metrics
	capacity int64
	rate     float64 // tokens per second
	fallback *LocalRateLimiter
	now      func() time.Time
}

var _ service.RateLimitService = (*RedisRateLimiter)(nil)

// Lua script for atomic token bucket operations
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local requested = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(bucket[1]) or capacity
local last_refill = tonumber(bucket[2]) or now

local elapsed = math.max(0, now - last_refill)
tokens = math.min(tokens + elapsed * rate / 1000, capacity)

local allowed = 0
if tokens >= requested then
    tokens = tokens - requested
    allowed = 1
end

local reset_ms = 0
if tokens < capacity then
    reset_ms = math.ceil((capacity - tokens) / rate * 1000)
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_refill', tostring(now))
redis.call('PEXPIRE', key, tostring(reset_ms + 60000))

return {allowed, math.floor(tokens), reset_ms}
`)

// NewRedisRateLimiter creates a limiter allowing cfg.DefaultRPM requests per minute
// per key with bursts of cfg.BurstSize.
func NewRedisRateLimiter(client redis.UniversalClient, cfg config.RateLimitConfig, metrics service.Metrics, log logger.Logger) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, errors.ErrInvalidConfig("redis client is required")
	}
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	capacity, perSecond := bucketShape(cfg)
	rl := &RedisRateLimiter{
		client:   client,
		logger:   log.WithComponent("RateLimiter"),
		metrics:  metrics,
		capacity: int64(capacity),
		rate:     perSecond,
		fallback: NewLocalRateLimiter(cfg, metrics),
		now:      time.Now,
	}
	rl.logger.Info(context.Background(), "Redis rate limiter initialized",
		logger.Int("rpm", cfg.DefaultRPM),
		logger.Int("burst", capacity),
	)
	return rl, nil
}

func bucketShape(cfg config.RateLimitConfig) (int, float64) {
	rpm := cfg.DefaultRPM
	if rpm <= 0 {
		rpm = constants.DefaultRateLimitPerMinute
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = rpm
	}
	return burst, float64(rpm) / 60.0
}

// Allow consumes one token for key.
func (rl *RedisRateLimiter) Allow(ctx context.Context, dimension service.RateLimitDimension, key string) (bool, int, time.Time, error) {
	now := rl.now()
	res, err := tokenBucketScript.Run(ctx, rl.client, []string{rl.buildKey(dimension, key)},
		rl.capacity, rl.rate, 1, now.UnixMilli()).Int64Slice()
	if err != nil || len(res) < 3 {
		rl.logger.Warn(ctx, "Redis rate limiter unavailable, using local buckets",
			logger.String("dimension", string(dimension)), logger.Error(err))
		return rl.fallback.Allow(ctx, dimension, key)
	}

	allowed := res[0] == 1
	if !allowed {
		rl.metrics.RecordRateLimitHit(string(dimension))
	}
	return allowed, int(res[1]), now.Add(time.Duration(res[2]) * time.Millisecond), nil
}

// Limit returns the bucket capacity.
func (rl *RedisRateLimiter) Limit() int {
	return int(rl.capacity)
}

// buildKey builds a Redis key for rate limiting.
func (rl *RedisRateLimiter) buildKey(dimension service.RateLimitDimension, identifier string) string {
	return fmt.Sprintf("%s%s:%s", constants.RedisKeyRateLimit, dimension, identifier)
}
