package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/turtacn/riskguard/internal/application"
	"github.com/turtacn/riskguard/internal/config"
	"github.com/turtacn/riskguard/internal/domain/service"
	"github.com/turtacn/riskguard/internal/infrastructure/audit"
	"github.com/turtacn/riskguard/internal/infrastructure/consumers"
	"github.com/turtacn/riskguard/internal/infrastructure/crypto"
	"github.com/turtacn/riskguard/internal/infrastructure/kms"
	"github.com/turtacn/riskguard/internal/infrastructure/monitoring"
	"github.com/turtacn/riskguard/internal/infrastructure/persistence/postgres"
	"github.com/turtacn/riskguard/internal/infrastructure/persistence/redis"
	"github.com/turtacn/riskguard/internal/infrastructure/policy"
	"github.com/turtacn/riskguard/internal/infrastructure/ratelimit"
	"github.com/turtacn/riskguard/internal/infrastructure/upstream"
	grpchandlers "github.com/turtacn/riskguard/internal/interfaces/grpc"
	"github.com/turtacn/riskguard/internal/interfaces/http/handlers"
	"github.com/turtacn/riskguard/internal/interfaces/http/middleware"
	httprouter "github.com/turtacn/riskguard/internal/interfaces/http/router"
	"github.com/turtacn/riskguard/pkg/logger"
)

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:           "riskguard",
		Short:         "Risk scoring service for sensitive account operations",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Fatalf("riskguard: %v", err)
	}
}

// bucketIdleTTL is how long an unused in-process rate limit bucket is kept.
const bucketIdleTTL = 10 * time.Minute

// components holds everything main has to close on shutdown.
type components struct {
	db        *gorm.DB
	pgx       *postgres.DBConnection
	redisConn *redis.RedisConnection
	kafka     *audit.KafkaProducer
	tracing   *monitoring.TracingManager
	limiter   middleware.Limiter
	local     *ratelimit.LocalRateLimiter
	verifier  *crypto.JWTManager
	policy    *policy.StaticPolicyEngine
	health    map[string]handlers.HealthChecker
}

func run(ctx context.Context, configPath string) error {
	// Logger for startup
	startupLogger, err := monitoring.NewZapLogger(&config.LogConfig{Level: "info"})
	if err != nil {
		return err
	}

	loader := config.NewLoader(configPath, startupLogger)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	appLogger, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	metrics := monitoring.NewMetrics()
	adapter := monitoring.NewMetricsAdapter(metrics)

	c := &components{health: map[string]handlers.HealthChecker{}}
	defer c.close(appLogger)

	if cfg.Tracing.Enabled {
		c.tracing, err = monitoring.NewTracingManager(&cfg.Tracing, appLogger)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
	} else {
		c.tracing = monitoring.NewNoopTracingManager()
	}

	if err := c.openStores(ctx, cfg, appLogger); err != nil {
		return err
	}

	svc, err := c.buildService(ctx, cfg, adapter, appLogger)
	if err != nil {
		return err
	}

	loader.OnChange(func(next *config.Config) {
		svc.Reconfigure(next)
		appLogger.Info(context.Background(), "Scoring settings reloaded")
	})
	loader.Watch()

	if err := c.buildEdge(cfg, adapter, appLogger); err != nil {
		return err
	}

	router := httprouter.NewRouter(cfg, appLogger, metrics,
		handlers.NewHealthHandler(c.health, appLogger),
		handlers.NewRiskHandler(svc, appLogger),
		httprouter.Options{Verifier: c.tokenVerifier(), Limiter: c.limiter, RedisClient: c.redisClient()},
	)

	chain := grpchandlers.NewInterceptorChain(appLogger, c.grpcVerifier(), c.rateLimitService(cfg))
	grpcServer := grpchandlers.NewRiskGRPCServer(svc, appLogger, chain.Interceptors())
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr())
	if err != nil {
		return fmt.Errorf("listen for gRPC: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLogger.Info(gctx, "HTTP server listening", logger.String("addr", cfg.Server.HTTPAddr()))
		return router.Start()
	})
	g.Go(func() error {
		appLogger.Info(gctx, "gRPC server listening", logger.String("addr", cfg.Server.GRPCAddr()))
		return grpcServer.Serve(lis)
	})
	c.startBackground(gctx, g, cfg, svc, adapter, appLogger)

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info(context.Background(), "Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		err := router.Stop(shutdownCtx)
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		return err
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	appLogger.Info(context.Background(), "Server exited")
	return nil
}

// openStores connects the database and, when enabled, Redis.
func (c *components) openStores(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	db, err := postgres.OpenGorm(&cfg.Database, log)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	c.db = db
	c.health["database"] = func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}

	// The audit table is written with pgx, outside gorm.
	if cfg.Database.Driver == "postgres" {
		c.pgx, err = postgres.NewDBConnection(ctx, &cfg.Database, log)
		if err != nil {
			return fmt.Errorf("connect postgres pool: %w", err)
		}
	}

	if cfg.Redis.Enabled {
		c.redisConn = redis.NewRedisConnection(&cfg.Redis, log)
		if err := c.redisConn.Connect(ctx); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		c.health["redis"] = c.redisConn.HealthCheck
	}
	return nil
}

func (c *components) redisClient() goredis.UniversalClient {
	if c.redisConn == nil {
		return nil
	}
	return c.redisConn.GetClient()
}

// buildService wires the collaborators of the assessment service.
func (c *components) buildService(ctx context.Context, cfg *config.Config, metrics service.Metrics, log logger.Logger) (application.AssessmentService, error) {
	geo, err := upstream.NewGeoLocator(&cfg.Geo, metrics, log)
	if err != nil {
		return nil, fmt.Errorf("init geo locator: %w", err)
	}

	var reputation service.IPReputationProvider = upstream.NoReputation{}
	if cfg.Reputation.URL != "" {
		reputation = upstream.NewReputationClient(&cfg.Reputation, metrics, log)
		if client := c.redisClient(); client != nil {
			reputation = redis.NewCachedReputationProvider(reputation, redis.NewCacheManager(client, log),
				cfg.Reputation.CacheTTL, metrics, log)
		}
	}

	blocklist, err := redis.NewIPBlocklist(c.redisClient(), cfg.Reputation.Blocklist)
	if err != nil {
		return nil, fmt.Errorf("parse blocklist: %w", err)
	}

	collab := application.Collaborators{
		Geo:        geo,
		Reputation: reputation,
		Blocklist:  blocklist,
	}
	if client := c.redisClient(); client != nil {
		collab.Velocity = redis.NewVelocityTracker(client, cfg.Risk.Velocity.Window)
	}

	var accounts service.AccountDirectory = upstream.OpenDirectory{}
	if cfg.Accounts.URL != "" {
		accounts = upstream.NewAccountsClient(&cfg.Accounts, metrics, log)
		if cfg.Accounts.FailOpen {
			accounts = upstream.NewFailOpenDirectory(accounts, log)
		}
	}

	c.policy, err = policy.NewStaticPolicyEngine(cfg.Policy.File, log)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	auditSvc, err := c.buildAudit(ctx, cfg, metrics, log)
	if err != nil {
		return nil, err
	}

	return application.NewRiskAssessmentService(application.Dependencies{
		Profiles:    postgres.NewRiskProfileRepository(c.db, log, metrics),
		Assessments: postgres.NewRiskAssessmentRepository(c.db, log, metrics),
		Accounts:    accounts,
		Policy:      c.policy,
		Audit:       auditSvc,
		Collectors:  collab,
		Metrics:     metrics,
		Logger:      log,
	}, application.NewSettings(cfg)), nil
}

// buildAudit resolves the signing key and the configured sink.
func (c *components) buildAudit(ctx context.Context, cfg *config.Config, metrics service.Metrics, log logger.Logger) (service.AuditService, error) {
	key := cfg.Audit.HMACKey
	if cfg.Vault.Enabled {
		client, err := kms.NewVaultClient(cfg.Vault)
		if err != nil {
			return nil, fmt.Errorf("create vault client: %w", err)
		}
		key, err = kms.NewVaultProvider(cfg.Vault, client, log).AuditSigningKey(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch audit signing key: %w", err)
		}
	}
	var signer *audit.Signer
	if key != "" {
		signer = audit.NewSigner(key)
	} else {
		log.Warn(ctx, "Audit signing key not configured, audit events are unsigned")
	}

	var sink audit.Sink
	switch cfg.Audit.Sink {
	case "kafka":
		c.kafka = audit.NewKafkaProducer(cfg.Kafka, log)
		sink = c.kafka
	case "postgres":
		if c.pgx == nil {
			return nil, fmt.Errorf("audit.sink=postgres requires database.driver=postgres")
		}
		repo := postgres.NewAuditRepository(c.pgx.Pool(), metrics)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		sink = repo
	default:
		sink = audit.NewLogSink(log)
	}
	return audit.NewSigningAuditService(signer, sink, log), nil
}

// buildEdge creates the token verifier and the rate limiter of the API surfaces.
func (c *components) buildEdge(cfg *config.Config, metrics service.Metrics, log logger.Logger) error {
	if cfg.Auth.Enabled {
		verifier, err := crypto.NewJWTManager(cfg.Auth)
		if err != nil {
			return err
		}
		c.verifier = verifier
	}

	if !cfg.RateLimit.Enabled {
		return nil
	}
	if client := c.redisClient(); client != nil {
		limiter, err := ratelimit.NewRedisRateLimiter(client, cfg.RateLimit, metrics, log)
		if err != nil {
			return fmt.Errorf("init rate limiter: %w", err)
		}
		c.limiter = limiter
		return nil
	}
	c.local = ratelimit.NewLocalRateLimiter(cfg.RateLimit, metrics)
	c.limiter = c.local
	return nil
}

func (c *components) tokenVerifier() middleware.TokenVerifier {
	if c.verifier == nil {
		return nil
	}
	return c.verifier
}

func (c *components) grpcVerifier() grpchandlers.TokenVerifier {
	if c.verifier == nil {
		return nil
	}
	return c.verifier
}

func (c *components) rateLimitService(cfg *config.Config) service.RateLimitService {
	if c.limiter == nil || !cfg.RateLimit.Enabled {
		return nil
	}
	return c.limiter
}

// startBackground runs the policy watcher, the feedback consumer and the periodic sweepers.
func (c *components) startBackground(ctx context.Context, g *errgroup.Group, cfg *config.Config,
	svc application.AssessmentService, metrics service.Metrics, log logger.Logger) {
	if cfg.Policy.Watch {
		if err := c.policy.Watch(ctx); err != nil {
			log.Error(ctx, "Policy watcher not started", err)
		}
	}

	if cfg.Kafka.Enabled && cfg.Kafka.FeedbackTopic != "" {
		consumer := consumers.NewFeedbackConsumer(cfg.Kafka, svc, log)
		g.Go(func() error {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error(ctx, "Feedback consumer stopped", err)
			}
			return nil
		})
	}

	if cfg.Retention.Enabled {
		worker := application.NewRetentionWorker(
			postgres.NewRiskAssessmentRepository(c.db, log, metrics), cfg.Retention, metrics, log)
		g.Go(func() error {
			worker.Run(ctx)
			return nil
		})
	}

	if c.local != nil {
		g.Go(func() error {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if n := c.local.Cleanup(bucketIdleTTL); n > 0 {
						log.Debug(ctx, "Rate limit buckets evicted", logger.Int("count", n))
					}
				}
			}
		})
	}
}

func (c *components) close(log logger.Logger) {
	ctx := context.Background()
	if c.kafka != nil {
		if err := c.kafka.Close(); err != nil {
			log.Error(ctx, "Failed to close Kafka producer", err)
		}
	}
	if c.redisConn != nil {
		if err := c.redisConn.Close(); err != nil {
			log.Error(ctx, "Failed to close Redis", err)
		}
	}
	if c.pgx != nil {
		c.pgx.Close()
	}
	if c.db != nil {
		if sqlDB, err := c.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if c.tracing != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.tracing.Shutdown(shutdownCtx); err != nil {
			log.Error(ctx, "Failed to flush traces", err)
		}
	}
}
