package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/riskguard/pkg/constants"
	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
)

// HeaderIdempotencyKey lets a caller retry POST /assessments without recording the operation twice.
const HeaderIdempotencyKey = "Idempotency-Key"

const maxIdempotencyKeyLength = 128

// IdempotencyMiddleware rejects a request whose Idempotency-Key has already been seen with 409 Conflict.
// Keys are scoped to the caller, so two API clients cannot collide. Requests without the header pass through.
// IdempotencyMiddleware 拒绝 Idempotency-Key 重复的请求（409 Conflict），键按调用方隔离。
func IdempotencyMiddleware(redisClient redis.UniversalClient, ttl time.Duration, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" || ttl <= 0 {
			c.Next()
			return
		}
		if len(key) > maxIdempotencyKeyLength {
			abortWithError(c, errors.ErrInvalidParameterFormat(HeaderIdempotencyKey, "at most 128 characters"))
			return
		}

		scope := c.GetString(string(constants.ContextKeyActor))
		if scope == "" {
			scope = "anonymous"
		}
		redisKey := "riskguard:idem:" + scope + ":" + key

		// SETNX makes check-and-set atomic across replicas.
		isNew, err := redisClient.SetNX(c.Request.Context(), redisKey, 1, ttl).Result()
		if err != nil {
			log.Error(c.Request.Context(), "Redis check for idempotency key failed", err, logger.String("key", key))
			c.Next() // Fail open
			return
		}
		if !isNew {
			log.Warn(c.Request.Context(), "Duplicate request rejected", logger.String("key", key))
			abortWithError(c, errors.ErrConflict("request with this Idempotency-Key was already processed"))
			return
		}

		c.Next()

		// A failed request may be retried with the same key.
		if c.Writer.Status() >= 400 {
			if err := redisClient.Del(c.Request.Context(), redisKey).Err(); err != nil {
				log.Warn(c.Request.Context(), "Failed to release idempotency key", logger.Error(err))
			}
		}
	}
}
