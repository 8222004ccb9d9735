package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/riskguard/internal/application"
	"github.com/turtacn/riskguard/internal/infrastructure/crypto"
	"github.com/turtacn/riskguard/pkg/constants"
	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
)

// TokenVerifier validates a bearer token and returns its claims.
type TokenVerifier interface {
	VerifyJWT(tokenString string) (*crypto.Claims, error)
}

// extractBearer extracts the token from the Authorization header.
func extractBearer(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// abortWithError writes the standard error body and stops the chain.
func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errors.HTTPStatusOf(err), errors.ToErrorResponse(err))
}

// RequireJWT protects the API with bearer tokens. The token subject becomes the actor
// recorded on audit events.
// RequireJWT 使用 Bearer 令牌保护 API，令牌 subject 作为审计事件的操作者。
func RequireJWT(verifier TokenVerifier, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := extractBearer(c.GetHeader("Authorization"))
		if tokenStr == "" {
			abortWithError(c, errors.ErrUnauthorized("missing bearer token"))
			return
		}

		claims, err := verifier.VerifyJWT(tokenStr)
		if err != nil {
			log.Warn(c.Request.Context(), "JWT verification failed", logger.Error(err))
			abortWithError(c, err)
			return
		}

		c.Set(string(constants.ContextKeyClaims), claims)
		c.Set(string(constants.ContextKeyActor), claims.Subject)
		c.Request = c.Request.WithContext(application.ContextWithActor(c.Request.Context(), claims.Subject))
		c.Next()
	}
}
