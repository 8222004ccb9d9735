package config

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/turtacn/riskguard/pkg/errors"
)

// Factor names. They are stable identifiers used in configuration, persisted records and API responses.
const (
	FactorIPReputation     = "ip_reputation_score"
	FactorDeviceNovelty    = "device_novelty_score"
	FactorLocationNovelty  = "location_novelty_score"
	FactorImpossibleTravel = "impossible_travel"
	FactorBehavioral       = "behavioral_anomaly"
	FactorVelocity         = "operation_velocity"
)

// KnownFactors lists every factor the service can collect, in evaluation order.
var KnownFactors = []string{
	FactorIPReputation,
	FactorDeviceNovelty,
	FactorLocationNovelty,
	FactorImpossibleTravel,
	FactorBehavioral,
	FactorVelocity,
}

// IsKnownFactor reports whether name is one of KnownFactors.
func IsKnownFactor(name string) bool {
	return slices.Contains(KnownFactors, name)
}

// Config holds the application's configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Vault      VaultConfig      `mapstructure:"vault"`
	Auth       AuthConfig       `mapstructure:"auth"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Log        LogConfig        `mapstructure:"log"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Profile    ProfileConfig    `mapstructure:"profile"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Geo        GeoConfig        `mapstructure:"geo"`
	Accounts   AccountsConfig   `mapstructure:"accounts"`
	Reputation ReputationConfig `mapstructure:"reputation"`
	Retention  RetentionConfig  `mapstructure:"retention"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	EnablePprof     bool          `mapstructure:"enable_pprof"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	// IdempotencyTTL is how long an Idempotency-Key of POST /assessments is remembered.
	// Zero disables the check. Requires Redis.
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

// HTTPAddr returns host:port of the HTTP listener.
func (c *ServerConfig) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GRPCAddr returns host:port of the gRPC listener.
func (c *ServerConfig) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// GetURL returns the postgres connection URL understood by pgxpool.
func (c *DatabaseConfig) GetURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Mode         string        `mapstructure:"mode"` // standalone, cluster, sentinel
	Addresses    []string      `mapstructure:"addresses"`
	MasterName   string        `mapstructure:"master_name"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type KafkaConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Brokers       []string      `mapstructure:"brokers"`
	AuditTopic    string        `mapstructure:"audit_topic"`
	FeedbackTopic string        `mapstructure:"feedback_topic"`
	ConsumerGroup string        `mapstructure:"consumer_group"`
	BatchTimeout  time.Duration `mapstructure:"batch_timeout"`
}

type AuditConfig struct {
	// Sink is "kafka", "postgres" or "log".
	Sink string `mapstructure:"sink"`
	// HMACKey signs audit events. Ignored when vault.enabled is true.
	HMACKey string `mapstructure:"hmac_key"`
}

type VaultConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Token     string `mapstructure:"token"`
	MountPath string `mapstructure:"mount_path"`
	// SecretPath is the KV v2 path holding the audit signing key under "hmac_key".
	SecretPath string `mapstructure:"secret_path"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	Audience  string `mapstructure:"audience"`
}

type RateLimitConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	DefaultRPM int  `mapstructure:"default_rpm"`
	BurstSize  int  `mapstructure:"burst_size"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SampleRate     float64 `mapstructure:"sample_rate"`
}

// FactorConfig configures one factor collector.
type FactorConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Weight  float64 `mapstructure:"weight"`
	// Default is the neutral value used when the collector fails or times out.
	Default float64 `mapstructure:"default"`
}

// ThresholdConfig holds the lower score bound of each non-low level.
type ThresholdConfig struct {
	Medium   float64 `mapstructure:"medium"`
	High     float64 `mapstructure:"high"`
	Critical float64 `mapstructure:"critical"`
}

type TravelConfig struct {
	MaxSpeedKmh   float64 `mapstructure:"max_speed_kmh"`
	MinDistanceKm float64 `mapstructure:"min_distance_km"`
}

type VelocityConfig struct {
	Window time.Duration `mapstructure:"window"`
	Low    int           `mapstructure:"low"`
	High   int           `mapstructure:"high"`
}

type BehaviorConfig struct {
	MinSamples int `mapstructure:"min_samples"`
}

type RiskConfig struct {
	FactorTimeout time.Duration           `mapstructure:"factor_timeout"`
	Factors       map[string]FactorConfig `mapstructure:"factors"`
	Thresholds    ThresholdConfig         `mapstructure:"thresholds"`
	// Floors maps a factor name to the minimum level applied when that factor reads 1.
	Floors       map[string]string `mapstructure:"floors"`
	Travel       TravelConfig      `mapstructure:"travel"`
	Velocity     VelocityConfig    `mapstructure:"velocity"`
	Behavior     BehaviorConfig    `mapstructure:"behavior"`
	FlaggedBoost float64           `mapstructure:"flagged_boost"`
}

// Weights returns the effective weight table. Disabled factors have weight zero.
func (c *RiskConfig) Weights() map[string]float64 {
	out := make(map[string]float64, len(c.Factors))
	for name, f := range c.Factors {
		if !f.Enabled {
			out[name] = 0
			continue
		}
		out[name] = f.Weight
	}
	return out
}

// Defaults returns the neutral fallback value of each factor.
func (c *RiskConfig) Defaults() map[string]float64 {
	out := make(map[string]float64, len(c.Factors))
	for name, f := range c.Factors {
		out[name] = f.Default
	}
	return out
}

type ProfileConfig struct {
	EWMAAlpha           float64 `mapstructure:"ewma_alpha"`
	MaxTrustedDevices   int     `mapstructure:"max_trusted_devices"`
	MaxTrustedLocations int     `mapstructure:"max_trusted_locations"`
	TrustMaxLevel       string  `mapstructure:"trust_max_level"`
}

type PolicyConfig struct {
	File  string `mapstructure:"file"`
	Watch bool   `mapstructure:"watch"`
}

type GeoBreakerConfig struct {
	Failures int           `mapstructure:"failures"`
	Cooldown time.Duration `mapstructure:"cooldown"`
}

type GeoConfig struct {
	// URL is the lookup endpoint; "{ip}" is replaced with the address.
	URL          string           `mapstructure:"url"`
	Timeout      time.Duration    `mapstructure:"timeout"`
	CacheTTL     time.Duration    `mapstructure:"cache_ttl"`
	Breaker      GeoBreakerConfig `mapstructure:"breaker"`
	RatePerSec   float64          `mapstructure:"rate_per_sec"`
	Burst        int              `mapstructure:"burst"`
	RetryMax     int              `mapstructure:"retry_max"`
	// StaticLookup entries have the form "cidr,country,city,lat,lon". They are consulted
	// before the remote service, and replace it when URL is empty.
	StaticLookup []string `mapstructure:"static_lookup"`
}

type AccountsConfig struct {
	URL      string        `mapstructure:"url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	FailOpen bool          `mapstructure:"fail_open"`
	RetryMax int           `mapstructure:"retry_max"`
}

type ReputationConfig struct {
	URL       string        `mapstructure:"url"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	Blocklist []string      `mapstructure:"blocklist"`
	RetryMax  int           `mapstructure:"retry_max"`
}

type RetentionConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

var validLevels = map[string]bool{"low": true, "medium": true, "high": true, "critical": true}

// Validate checks for essential configuration values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.ErrInvalidConfig(fmt.Sprintf("server.port out of range: %d", c.Server.Port))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return errors.ErrInvalidConfig(fmt.Sprintf("database.driver must be postgres or sqlite, got %q", c.Database.Driver))
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return errors.ErrInvalidConfig("auth.jwt_secret is required when auth is enabled")
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if c.Profile.EWMAAlpha <= 0 || c.Profile.EWMAAlpha > 1 {
		return errors.ErrInvalidConfig("profile.ewma_alpha must be in (0,1]")
	}
	if c.Profile.MaxTrustedDevices <= 0 || c.Profile.MaxTrustedLocations <= 0 {
		return errors.ErrInvalidConfig("profile trusted list caps must be positive")
	}
	if !validLevels[c.Profile.TrustMaxLevel] {
		return errors.ErrInvalidConfig(fmt.Sprintf("profile.trust_max_level is not a level: %q", c.Profile.TrustMaxLevel))
	}
	switch c.Audit.Sink {
	case "kafka", "postgres", "log":
	default:
		return errors.ErrInvalidConfig(fmt.Sprintf("audit.sink must be kafka, postgres or log, got %q", c.Audit.Sink))
	}
	if c.Audit.Sink == "kafka" && !c.Kafka.Enabled {
		return errors.ErrInvalidConfig("audit.sink=kafka requires kafka.enabled")
	}
	if c.Audit.Sink == "postgres" && c.Database.Driver != "postgres" {
		return errors.ErrInvalidConfig("audit.sink=postgres requires database.driver=postgres")
	}
	return nil
}

// Validate checks the weight table, thresholds and floors.
func (c *RiskConfig) Validate() error {
	if c.FactorTimeout <= 0 {
		return errors.ErrInvalidConfig("risk.factor_timeout must be positive")
	}
	var total float64
	names := make([]string, 0, len(c.Factors))
	for name := range c.Factors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f := c.Factors[name]
		if !IsKnownFactor(name) {
			return errors.ErrInvalidConfig(fmt.Sprintf("risk.factors.%s is not a known factor", name))
		}
		if f.Weight < 0 {
			return errors.ErrInvalidConfig(fmt.Sprintf("risk.factors.%s.weight is negative", name))
		}
		if f.Default < 0 || f.Default > 1 {
			return errors.ErrInvalidConfig(fmt.Sprintf("risk.factors.%s.default must be in [0,1]", name))
		}
		if f.Enabled {
			total += f.Weight
		}
	}
	if total <= 0 {
		return errors.ErrInvalidConfig("risk weights sum to zero")
	}
	t := c.Thresholds
	if !(t.Medium > 0 && t.Medium < t.High && t.High < t.Critical && t.Critical <= 100) {
		return errors.ErrInvalidConfig(fmt.Sprintf("risk thresholds must satisfy 0 < medium < high < critical <= 100, got %v/%v/%v",
			t.Medium, t.High, t.Critical))
	}
	for factor, level := range c.Floors {
		if !IsKnownFactor(factor) {
			return errors.ErrInvalidConfig(fmt.Sprintf("risk.floors.%s is not a known factor", factor))
		}
		if !validLevels[level] {
			return errors.ErrInvalidConfig(fmt.Sprintf("risk.floors.%s is not a level: %q", factor, level))
		}
	}
	if c.Travel.MaxSpeedKmh <= 0 {
		return errors.ErrInvalidConfig("risk.travel.max_speed_kmh must be positive")
	}
	if c.Velocity.Window <= 0 || c.Velocity.Low < 0 || c.Velocity.High <= c.Velocity.Low {
		return errors.ErrInvalidConfig("risk.velocity requires window > 0 and high > low >= 0")
	}
	return nil
}

//Personal.AI order the ending
