package redis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
)

// CacheManager stores JSON values with a TTL.
type CacheManager interface {
	// GetJSON decodes the value at key into dest. It reports false on a miss.
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type cacheManagerImpl struct {
	client redis.UniversalClient
	log    logger.Logger
}

// NewCacheManager creates a new CacheManager.
func NewCacheManager(client redis.UniversalClient, log logger.Logger) CacheManager {
	return &cacheManagerImpl{client: client, log: log}
}

func (c *cacheManagerImpl) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, errors.ErrUpstreamUnavailable("redis").WithCause(err)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		// A corrupt entry is treated as a miss and dropped.
		c.log.Warn(ctx, "Discarding undecodable cache entry", logger.String("key", key), logger.Error(err))
		_ = c.client.Del(ctx, key).Err()
		return false, nil
	}
	return true, nil
}

func (c *cacheManagerImpl) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return errors.ErrServerError("failed to encode cache value").WithCause(err)
	}
	if err := c.client.Set(ctx, key, b, ttl).Err(); err != nil {
		return errors.ErrUpstreamUnavailable("redis").WithCause(err)
	}
	return nil
}

func (c *cacheManagerImpl) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return errors.ErrUpstreamUnavailable("redis").WithCause(err)
	}
	return nil
}
