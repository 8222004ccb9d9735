package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/riskguard/internal/config"
	"github.com/turtacn/riskguard/internal/infrastructure/monitoring"
	"github.com/turtacn/riskguard/internal/interfaces/http/handlers"
	"github.com/turtacn/riskguard/internal/interfaces/http/middleware"
	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
)

// Router HTTP 路由器
type Router struct {
	engine        *gin.Engine
	config        *config.Config
	logger        logger.Logger
	metrics       *monitoring.Metrics
	healthHandler *handlers.HealthHandler
	riskHandler   *handlers.RiskHandler
	verifier      middleware.TokenVerifier
	limiter       middleware.Limiter
	redisClient   redis.UniversalClient
	server        *http.Server
}

// Options carries the optional collaborators of the router. Verifier is required when
// auth.enabled is set. A nil Limiter disables rate limiting and a nil RedisClient
// disables the Idempotency-Key check.
type Options struct {
	Verifier    middleware.TokenVerifier
	Limiter     middleware.Limiter
	RedisClient redis.UniversalClient
}

// NewRouter 创建路由器
func NewRouter(
	cfg *config.Config,
	log logger.Logger,
	metrics *monitoring.Metrics,
	healthHandler *handlers.HealthHandler,
	riskHandler *handlers.RiskHandler,
	opts Options,
) *Router {
	gin.SetMode(gin.ReleaseMode)

	r := &Router{
		engine:        gin.New(),
		config:        cfg,
		logger:        log.WithComponent("HTTPRouter"),
		metrics:       metrics,
		healthHandler: healthHandler,
		riskHandler:   riskHandler,
		verifier:      opts.Verifier,
		limiter:       opts.Limiter,
		redisClient:   opts.RedisClient,
	}
	r.setupRoutes()
	r.server = &http.Server{
		Addr:              cfg.Server.HTTPAddr(),
		Handler:           r.engine,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		MaxHeaderBytes:    1 << 20, // 1MB
	}
	return r
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 全局中间件
	r.engine.Use(
		middleware.Recovery(r.logger),
		middleware.RequestID(),
		middleware.ObservabilityMiddleware(r.metrics),
		middleware.Logging(r.logger),
	)

	// CORS 配置
	origins := r.config.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.engine.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", middleware.HeaderIdempotencyKey},
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: !containsWildcard(origins),
		MaxAge:           12 * time.Hour,
	}))

	// 健康检查路由（不需要认证）
	r.engine.GET("/health/live", r.healthHandler.LivenessCheck)
	r.engine.GET("/health/ready", r.healthHandler.ReadinessCheck)

	r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.metrics.Registry(), promhttp.HandlerOpts{})))

	// Pprof 性能分析（仅在非生产环境）
	if r.config.Server.EnablePprof {
		pprof.Register(r.engine)
	}

	v1 := r.engine.Group("/api/v1", r.guards()...)
	risk := v1.Group("/risk")
	{
		assess := []gin.HandlerFunc{r.riskHandler.AssessRisk}
		if r.redisClient != nil {
			assess = append([]gin.HandlerFunc{
				middleware.IdempotencyMiddleware(r.redisClient, r.config.Server.IdempotencyTTL, r.logger),
			}, assess...)
		}
		risk.POST("/assessments", assess...)

		reads := risk.Group("", middleware.ETagCache())
		reads.GET("/assessments/:assessment_id", r.riskHandler.GetAssessment)
		reads.GET("/users/:user_id/profile", r.riskHandler.GetProfile)
		reads.GET("/users/:user_id/assessments", r.riskHandler.ListAssessments)
	}

	// Feedback changes what a profile trusts, so it carries the same guards as /api/v1.
	internal := r.engine.Group("/_internal", r.guards()...)
	internal.POST("/risk/feedback", r.riskHandler.ApplyFeedback)

	// 404 处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errors.ToErrorResponse(errors.ErrNotFound("the requested resource was not found")))
	})
}

// guards returns the auth and rate-limit middleware enabled by configuration.
func (r *Router) guards() []gin.HandlerFunc {
	var hs []gin.HandlerFunc
	if r.config.Auth.Enabled {
		hs = append(hs, r.authMiddleware())
	}
	if r.limiter != nil && r.config.RateLimit.Enabled {
		hs = append(hs, middleware.RateLimitMiddleware(r.limiter, r.logger))
	}
	return hs
}

// authMiddleware fails closed when auth is enabled without a verifier.
func (r *Router) authMiddleware() gin.HandlerFunc {
	if r.verifier == nil {
		r.logger.Error(context.Background(), "Auth is enabled but no token verifier is configured", nil)
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errors.ToErrorResponse(errors.ErrUnauthorized("authentication unavailable")))
		}
	}
	return middleware.RequireJWT(r.verifier, r.logger)
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// Start 启动 HTTP 服务器，阻塞直到 Stop 被调用
func (r *Router) Start() error {
	r.logger.Info(context.Background(), "Starting HTTP server", logger.String("address", r.server.Addr))
	if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop 停止 HTTP 服务器
func (r *Router) Stop(ctx context.Context) error {
	r.logger.Info(ctx, "Stopping HTTP server...")
	return r.server.Shutdown(ctx)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
