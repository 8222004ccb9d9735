package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/riskguard/internal/application"
	"github.com/turtacn/riskguard/internal/config"
	"github.com/turtacn/riskguard/internal/infrastructure/crypto"
	"github.com/turtacn/riskguard/internal/infrastructure/monitoring"
	"github.com/turtacn/riskguard/internal/infrastructure/ratelimit"
	"github.com/turtacn/riskguard/pkg/constants"
	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
)

const testSecret = "test-secret-with-enough-entropy"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireJWT(t *testing.T) {
	gin.SetMode(gin.TestMode)
	verifier, err := crypto.NewJWTManager(config.AuthConfig{Enabled: true, JWTSecret: testSecret, Issuer: "gateway", Audience: "riskguard"})
	require.NoError(t, err)

	router := gin.New()
	router.Use(RequireJWT(verifier, logger.NewNoopLogger()))
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, application.ActorFromContext(c.Request.Context()))
	})

	valid := jwt.MapClaims{
		"sub": "checkout-service",
		"iss": "gateway",
		"aud": "riskguard",
		"exp": time.Now().Add(time.Hour).Unix(),
	}

	t.Run("valid token sets actor", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, []byte(testSecret), valid))
		w := serve(router, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "checkout-service", w.Body.String())
	})

	rejected := map[string]string{
		"missing header":  "",
		"not bearer":      "Basic dXNlcjpwYXNz",
		"wrong secret":    "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), valid),
		"wrong algorithm": "Bearer " + signToken(t, jwt.SigningMethodHS512, []byte(testSecret), valid),
		"expired": "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
			"sub": "checkout-service", "iss": "gateway", "aud": "riskguard", "exp": time.Now().Add(-time.Hour).Unix(),
		}),
		"wrong issuer": "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
			"sub": "checkout-service", "iss": "someone", "aud": "riskguard",
		}),
		"no subject": "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
			"iss": "gateway", "aud": "riskguard",
		}),
	}
	for name, header := range rejected {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := serve(router, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			var body errors.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "unauthorized", body.Error)
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := ratelimit.NewLocalRateLimiter(config.RateLimitConfig{Enabled: true, DefaultRPM: 60, BurstSize: 2}, nil)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		if actor := c.GetHeader("X-Test-Actor"); actor != "" {
			c.Set(string(constants.ContextKeyActor), actor)
		}
		c.Next()
	})
	router.Use(RateLimitMiddleware(limiter, logger.NewNoopLogger()))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	request := func(actor string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if actor != "" {
			req.Header.Set("X-Test-Actor", actor)
		}
		return serve(router, req)
	}

	w := request("svc-a")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get(constants.HeaderRateLimitLimit))
	assert.Equal(t, "1", w.Header().Get(constants.HeaderRateLimitRemaining))

	assert.Equal(t, http.StatusOK, request("svc-a").Code)

	w = request("svc-a")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get(constants.HeaderRetryAfter))
	var body errors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit_exceeded", body.Error)
	assert.Equal(t, "client", body.Metadata["scope"])

	// Buckets are per caller; anonymous requests fall back to the client IP.
	assert.Equal(t, http.StatusOK, request("svc-b").Code)
	assert.Equal(t, http.StatusOK, request("").Code)
}

func TestIdempotencyMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	status := http.StatusCreated
	router := gin.New()
	router.POST("/", IdempotencyMiddleware(client, time.Hour, logger.NewNoopLogger()), func(c *gin.Context) {
		c.Status(status)
	})

	post := func(key string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if key != "" {
			req.Header.Set(HeaderIdempotencyKey, key)
		}
		return serve(router, req).Code
	}

	assert.Equal(t, http.StatusCreated, post("k1"))
	assert.Equal(t, http.StatusConflict, post("k1"))
	assert.Equal(t, http.StatusCreated, post(""))
	assert.Equal(t, http.StatusCreated, post(""))

	// A failed request releases its key so the caller can retry.
	status = http.StatusServiceUnavailable
	assert.Equal(t, http.StatusServiceUnavailable, post("k2"))
	status = http.StatusCreated
	assert.Equal(t, http.StatusCreated, post("k2"))

	mr.FastForward(2 * time.Hour)
	assert.Equal(t, http.StatusCreated, post("k1"))

	// Redis outage fails open.
	down := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	outage := gin.New()
	outage.POST("/", IdempotencyMiddleware(down, time.Hour, logger.NewNoopLogger()), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderIdempotencyKey, "k3")
	assert.Equal(t, http.StatusCreated, serve(outage, req).Code)
}

func TestETagCache(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ETagCache())
	router.GET("/profile", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"user_id": "user-1"}) })
	router.GET("/missing", func(c *gin.Context) { c.JSON(http.StatusNotFound, gin.H{"error": "not_found"}) })

	w := serve(router, httptest.NewRequest(http.MethodGet, "/profile", nil))
	require.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.JSONEq(t, `{"user_id":"user-1"}`, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.Header.Set("If-None-Match", etag)
	w = serve(router, req)
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.String())

	w = serve(router, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, w.Header().Get("ETag"))
	assert.Contains(t, w.Body.String(), "not_found")
}

func TestRequestIDAndRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Recovery(logger.NewNoopLogger()), RequestID())
	router.GET("/id", func(c *gin.Context) {
		id, _ := c.Request.Context().Value(constants.ContextKeyRequestID).(string)
		c.String(http.StatusOK, id)
	})
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/id", nil)
	req.Header.Set(constants.HeaderRequestID, "req-123")
	w := serve(router, req)
	assert.Equal(t, "req-123", w.Body.String())
	assert.Equal(t, "req-123", w.Header().Get(constants.HeaderRequestID))

	w = serve(router, httptest.NewRequest(http.MethodGet, "/id", nil))
	assert.Len(t, w.Body.String(), 36)
	assert.Equal(t, w.Body.String(), w.Header().Get(constants.HeaderRequestID))

	w = serve(router, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "server_error")
}

func TestObservabilityMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := monitoring.NewMetrics()

	router := gin.New()
	router.Use(ObservabilityMiddleware(metrics))
	router.GET("/users/:user_id", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(router, httptest.NewRequest(http.MethodGet, "/users/u1", nil))
	serve(router, httptest.NewRequest(http.MethodGet, "/users/u2", nil))
	serve(router, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("/users/:user_id", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("not_found", "GET", "404")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.HTTPActiveRequests.WithLabelValues("/users/:user_id", "GET")))
}
