package config

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/turtacn/riskguard/pkg/constants"
	"github.com/turtacn/riskguard/pkg/errors"
	"github.com/turtacn/riskguard/pkg/logger"
)

// Loader reads configuration from file, environment variables and defaults,
// and keeps the latest valid Config available for hot-reloadable sections.
type Loader struct {
	v   *viper.Viper
	log logger.Logger

	mu        sync.RWMutex
	current   *Config
	listeners []func(*Config)
}

// NewLoader creates a loader. An empty path searches ./config.yaml and /etc/riskguard/config.yaml.
func NewLoader(path string, log logger.Logger) *Loader {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/riskguard/")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, log: log.WithComponent("config")}
}

// Load reads and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.ErrInvalidConfig("failed to read config file").WithCause(err)
		}
		l.log.Info(context.Background(), "no config file found, using defaults and environment")
	}

	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Current returns the most recently loaded valid configuration.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked with the new configuration after a successful reload.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Watch enables live reload of the config file. Invalid edits are logged and ignored.
func (l *Loader) Watch() {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		ctx := context.Background()
		cfg, err := l.decode()
		if err != nil {
			l.log.Error(ctx, "config reload rejected, keeping previous configuration", err,
				logger.String("file", e.Name))
			return
		}
		l.mu.Lock()
		l.current = cfg
		listeners := append([]func(*Config){}, l.listeners...)
		l.mu.Unlock()

		l.log.Info(ctx, "configuration reloaded", logger.String("file", e.Name), logger.String("op", e.Op.String()))
		for _, fn := range listeners {
			fn(cfg)
		}
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, errors.ErrInvalidConfig("failed to unmarshal config").WithCause(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig loads the configuration from file, environment variables, and defaults.
func LoadConfig(path string, log logger.Logger) (*Config, error) {
	return NewLoader(path, log).Load()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.enable_pprof", false)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.idempotency_ttl", 24*time.Hour)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "riskguard")
	v.SetDefault("database.database", "riskguard")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.sqlite_path", "riskguard.db")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("database.max_conn_idle_time", 5*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.mode", "standalone")
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.audit_topic", "riskguard.audit")
	v.SetDefault("kafka.feedback_topic", "riskguard.feedback")
	v.SetDefault("kafka.consumer_group", "riskguard")
	v.SetDefault("kafka.batch_timeout", 50*time.Millisecond)

	v.SetDefault("audit.sink", "log")
	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.secret_path", "riskguard/audit")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.default_rpm", 600)
	v.SetDefault("rate_limit.burst_size", 50)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", constants.ServiceName)
	v.SetDefault("tracing.sample_rate", 0.1)

	v.SetDefault("risk.factor_timeout", constants.DefaultFactorTimeout)
	for name, w := range DefaultWeights() {
		v.SetDefault("risk.factors."+name+".enabled", true)
		v.SetDefault("risk.factors."+name+".weight", w)
		v.SetDefault("risk.factors."+name+".default", 0.5)
	}
	v.SetDefault("risk.thresholds.medium", 30.0)
	v.SetDefault("risk.thresholds.high", 60.0)
	v.SetDefault("risk.thresholds.critical", 85.0)
	v.SetDefault("risk.floors", map[string]string{FactorImpossibleTravel: "high"})
	v.SetDefault("risk.travel.max_speed_kmh", 900.0)
	v.SetDefault("risk.travel.min_distance_km", 100.0)
	v.SetDefault("risk.velocity.window", constants.DefaultVelocityWindow)
	v.SetDefault("risk.velocity.low", 5)
	v.SetDefault("risk.velocity.high", 20)
	v.SetDefault("risk.behavior.min_samples", 10)
	v.SetDefault("risk.flagged_boost", 0.2)

	v.SetDefault("profile.ewma_alpha", 0.2)
	v.SetDefault("profile.max_trusted_devices", 10)
	v.SetDefault("profile.max_trusted_locations", 10)
	v.SetDefault("profile.trust_max_level", "low")

	v.SetDefault("policy.file", "")
	v.SetDefault("policy.watch", true)

	v.SetDefault("geo.timeout", 2*time.Second)
	v.SetDefault("geo.cache_ttl", constants.DefaultGeoCacheTTL)
	v.SetDefault("geo.breaker.failures", 5)
	v.SetDefault("geo.breaker.cooldown", 30*time.Second)
	v.SetDefault("geo.rate_per_sec", 50.0)
	v.SetDefault("geo.burst", 20)
	v.SetDefault("geo.retry_max", 1)

	v.SetDefault("accounts.timeout", 2*time.Second)
	v.SetDefault("accounts.fail_open", true)
	v.SetDefault("accounts.retry_max", 1)

	v.SetDefault("reputation.timeout", 2*time.Second)
	v.SetDefault("reputation.cache_ttl", constants.DefaultReputationCacheTTL)
	v.SetDefault("reputation.retry_max", 1)

	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.interval", time.Hour)
	v.SetDefault("retention.max_age", 90*24*time.Hour)
}

// DefaultWeights returns the built-in weight table.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		FactorIPReputation:     0.20,
		FactorDeviceNovelty:    0.15,
		FactorLocationNovelty:  0.10,
		FactorImpossibleTravel: 0.25,
		FactorBehavioral:       0.15,
		FactorVelocity:         0.15,
	}
}

// Default returns a validated configuration built only from defaults. Used by tests and the CLI.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}
