package redis

import (
	"context"
	"time"

	"github.com/turtacn/riskguard/internal/domain/models"
	"github.com/turtacn/riskguard/internal/domain/service"
	"github.com/turtacn/riskguard/pkg/constants"
	"github.com/turtacn/riskguard/pkg/logger"
)

// CachedReputationProvider caches reputation verdicts in Redis in front of a slower provider.
// Cache failures fall through to the provider.
type CachedReputationProvider struct {
	next    service.IPReputationProvider
	cache   CacheManager
	ttl     time.Duration
	metrics service.Metrics
	log     logger.Logger
}

var _ service.IPReputationProvider = (*CachedReputationProvider)(nil)

func NewCachedReputationProvider(next service.IPReputationProvider, cache CacheManager, ttl time.Duration,
	metrics service.Metrics, log logger.Logger) *CachedReputationProvider {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	if ttl <= 0 {
		ttl = constants.DefaultReputationCacheTTL
	}
	return &CachedReputationProvider{next: next, cache: cache, ttl: ttl, metrics: metrics, log: log}
}

func (c *CachedReputationProvider) Lookup(ctx context.Context, ip string) (*models.IPReputation, error) {
	key := constants.RedisKeyReputation + ip

	var cached models.IPReputation
	hit, err := c.cache.GetJSON(ctx, key, &cached)
	if err != nil {
		c.log.Warn(ctx, "Reputation cache read failed", logger.String("ip", ip), logger.Error(err))
	}
	c.metrics.RecordCacheAccess("reputation", hit)
	if hit {
		return &cached, nil
	}

	rep, err := c.next.Lookup(ctx, ip)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetJSON(ctx, key, rep, c.ttl); err != nil {
		c.log.Warn(ctx, "Reputation cache write failed", logger.String("ip", ip), logger.Error(err))
	}
	return rep, nil
}
