package middleware

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/riskguard/internal/domain/service"
	"github.com/turtacn/riskguard/pkg/constants"
	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
)

// Limiter is a rate limiter that can report its bucket capacity.
type Limiter interface {
	service.RateLimitService
	Limit() int
}

// RateLimitMiddleware limits each authenticated caller, or each client IP when the
// API runs without authentication.
// RateLimitMiddleware 按调用方限流；未启用认证时按客户端 IP 限流。
func RateLimitMiddleware(limiter Limiter, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		dimension := service.RateLimitDimensionClient
		identifier := c.GetString(string(constants.ContextKeyActor))
		if identifier == "" {
			dimension = service.RateLimitDimensionIP
			identifier = c.ClientIP()
		}

		allowed, remaining, resetAt, err := limiter.Allow(c.Request.Context(), dimension, identifier)
		if err != nil {
			log.Error(c.Request.Context(), "rate limiter failed", err)
			c.Next() // Fail open
			return
		}

		c.Header(constants.HeaderRateLimitLimit, strconv.Itoa(limiter.Limit()))
		c.Header(constants.HeaderRateLimitRemaining, strconv.Itoa(remaining))

		if !allowed {
			retryAfter := int(math.Ceil(time.Until(resetAt).Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header(constants.HeaderRetryAfter, strconv.Itoa(retryAfter))
			log.Warn(c.Request.Context(), "rate limit exceeded",
				logger.String("dimension", string(dimension)), logger.String("identifier", identifier))
			abortWithError(c, errors.ErrRateLimitExceeded(string(dimension), limiter.Limit()))
			return
		}

		c.Next()
	}
}
