// Package config holds the service configuration model and loading logic.
package config

import (
	"time"

	"github.com/searchguard/searchguard/internal/domain/models"
	"github.com/searchguard/searchguard/pkg/constants"
	"github.com/searchguard/searchguard/pkg/errors"
)

// Config holds the application's configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Auth       AuthConfig       `mapstructure:"auth"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Log        LogConfig        `mapstructure:"log"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // in seconds
	AdminToken   string `mapstructure:"admin_token"`
}

type RedisConfig struct {
	Mode           string   `mapstructure:"mode"` // standalone, cluster, sentinel
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	Password       string   `mapstructure:"password"`
	DB             int      `mapstructure:"db"`
	ClusterAddrs   []string `mapstructure:"cluster_addrs"`
	SentinelAddrs  []string `mapstructure:"sentinel_addrs"`
	SentinelMaster string   `mapstructure:"sentinel_master"`
	PoolSize       int      `mapstructure:"pool_size"`
	MinIdleConns   int      `mapstructure:"min_idle_conns"`
	DialTimeout    int      `mapstructure:"dial_timeout"`  // in seconds
	ReadTimeout    int      `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout   int      `mapstructure:"write_timeout"` // in seconds
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int    `mapstructure:"max_conns"`
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	AbuseTopic   string        `mapstructure:"abuse_topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"`
}

type AuthConfig struct {
	// JWTSecret verifies inbound bearer tokens for context enrichment only.
	// SearchGuard never issues tokens.
	JWTSecret    string `mapstructure:"jwt_secret"`
	TierCacheTTL int    `mapstructure:"tier_cache_ttl"` // in seconds
}

// RateLimitConfig holds the quota policy tables and engine tuning knobs.
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// CheckTimeout bounds each store round-trip, in milliseconds.
	CheckTimeout int `mapstructure:"check_timeout"`

	// FallbackLimit is the single advertised ceiling when the engine fails
	// open on store failure.
	FallbackLimit int `mapstructure:"fallback_limit"`

	// LocalFallback enables the in-process token bucket pool that bounds
	// traffic while the store is unreachable.
	LocalFallback bool `mapstructure:"local_fallback"`

	// Governor tuning.
	LatencyThresholdMs int     `mapstructure:"latency_threshold_ms"`
	MemoryPressure     float64 `mapstructure:"memory_pressure"`
	SampleInterval     int     `mapstructure:"sample_interval"` // in seconds

	// Policy tables, window values in seconds.
	Global    map[string]LimitEntry            `mapstructure:"global"`
	Anonymous map[string]LimitEntry            `mapstructure:"anonymous"`
	Session   map[string]LimitEntry            `mapstructure:"session"`
	User      map[string]map[string]LimitEntry `mapstructure:"user"`    // tier -> bucket
	APIKey    map[string]map[string]LimitEntry `mapstructure:"api_key"` // tier -> bucket
}

// LimitEntry is one (ceiling, window) pair as it appears in configuration.
type LimitEntry struct {
	Requests int `mapstructure:"requests"`
	Window   int `mapstructure:"window"` // in seconds
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
	SamplingRate   float64 `mapstructure:"sampling_rate"`
	Environment    string  `mapstructure:"environment"`
}

type MonitoringConfig struct {
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// Validate checks for essential configuration values. A zero or negative
// window anywhere in the policy tables is a hard error: silently defaulting
// would turn a typo into an unlimited quota.
func (c *Config) Validate() error {
	if c.RateLimit.FallbackLimit <= 0 {
		return errors.ErrInvalidConfig("rate_limit.fallback_limit must be positive")
	}
	if _, err := c.RateLimit.Table(); err != nil {
		return err
	}
	return nil
}

// Table converts the raw policy tables into the immutable models.LimitTable
// consumed by the policy resolver.
func (rl *RateLimitConfig) Table() (*models.LimitTable, error) {
	table := &models.LimitTable{
		Global:    bucketLimits(rl.Global),
		Anonymous: bucketLimits(rl.Anonymous),
		Session:   bucketLimits(rl.Session),
		User:      tierLimits(rl.User),
		APIKey:    tierLimits(rl.APIKey),
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

// CheckTimeoutDuration returns the per-check timeout as a duration.
func (rl *RateLimitConfig) CheckTimeoutDuration() time.Duration {
	if rl.CheckTimeout <= 0 {
		return constants.DefaultCheckTimeout
	}
	return time.Duration(rl.CheckTimeout) * time.Millisecond
}

func bucketLimits(entries map[string]LimitEntry) models.BucketLimits {
	limits := make(models.BucketLimits, len(entries))
	for bucket, e := range entries {
		limits[constants.OperationBucket(bucket)] = models.Limit{
			Requests: e.Requests,
			Window:   time.Duration(e.Window) * time.Second,
		}
	}
	return limits
}

func tierLimits(entries map[string]map[string]LimitEntry) map[constants.Tier]models.BucketLimits {
	limits := make(map[constants.Tier]models.BucketLimits, len(entries))
	for tier, buckets := range entries {
		limits[constants.Tier(tier)] = bucketLimits(buckets)
	}
	return limits
}
