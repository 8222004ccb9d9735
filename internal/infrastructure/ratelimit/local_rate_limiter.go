package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/turtacn/riskguard/internal/config"
	"github.com/turtacn/riskguard/internal/domain/service"
)

// LocalRateLimiter keeps one in-process token bucket per key. It serves deployments
// without Redis and is the fallback of RedisRateLimiter.
type LocalRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*localBucket
	limit   rate.Limit
	burst   int
	metrics service.Metrics
	now     func() time.Time
}

type localBucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

var _ service.RateLimitService = (*LocalRateLimiter)(nil)

func NewLocalRateLimiter(cfg config.RateLimitConfig, metrics service.Metrics) *LocalRateLimiter {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	burst, perSecond := bucketShape(cfg)
	return &LocalRateLimiter{
		buckets: make(map[string]*localBucket),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		metrics: metrics,
		now:     time.Now,
	}
}

func (l *LocalRateLimiter) Allow(_ context.Context, dimension service.RateLimitDimension, key string) (bool, int, time.Time, error) {
	now := l.now()
	bucketKey := string(dimension) + ":" + key

	l.mu.Lock()
	b, ok := l.buckets[bucketKey]
	if !ok {
		b = &localBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[bucketKey] = b
	}
	b.lastUsed = now
	l.mu.Unlock()

	allowed := b.limiter.AllowN(now, 1)
	tokens := b.limiter.TokensAt(now)
	if !allowed {
		l.metrics.RecordRateLimitHit(string(dimension))
	}

	remaining := int(math.Max(0, math.Floor(tokens)))
	missing := float64(l.burst) - tokens
	resetAt := now
	if missing > 0 {
		resetAt = now.Add(time.Duration(missing / float64(l.limit) * float64(time.Second)))
	}
	return allowed, remaining, resetAt, nil
}

// Limit returns the bucket capacity.
func (l *LocalRateLimiter) Limit() int {
	return l.burst
}

// Cleanup drops buckets idle for longer than maxIdle and returns how many were removed.
func (l *LocalRateLimiter) Cleanup(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	removed := 0
	for k, b := range l.buckets {
		if now.Sub(b.lastUsed) > maxIdle {
			delete(l.buckets, k)
			removed++
		}
	}
	return removed
}
