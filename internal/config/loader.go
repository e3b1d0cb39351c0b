package config

import (
	"context"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/searchguard/searchguard/pkg/errors"
	"github.com/searchguard/searchguard/pkg/logger"
)

// Loader reads configuration from file and environment and supports hot
// reload of the policy tables via the config file watcher.
type Loader struct {
	mu  sync.Mutex
	v   *viper.Viper
	log logger.Logger
}

// NewLoader creates a configuration loader.
func NewLoader(log logger.Logger) *Loader {
	return &Loader{
		v:   viper.New(),
		log: log,
	}
}

// Load reads the configuration from file, environment variables and defaults.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	setDefaults(l.v)

	l.v.SetConfigName("config")
	l.v.SetConfigType("yaml")
	l.v.AddConfigPath("/etc/searchguard/")
	l.v.AddConfigPath(".")
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	l.v.SetEnvPrefix("SEARCHGUARD")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	return l.unmarshal()
}

// Watch re-reads the configuration whenever the config file changes and
// invokes onReload with the new, validated configuration. Invalid updates
// are logged and discarded; the previous configuration stays in effect.
func (l *Loader) Watch(onReload func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.mu.Lock()
		cfg, err := l.unmarshal()
		l.mu.Unlock()
		if err != nil {
			l.log.Error(context.Background(), "Rejected config reload", err,
				logger.String("file", e.Name),
			)
			return
		}
		l.log.Info(context.Background(), "Configuration reloaded",
			logger.String("file", e.Name),
		)
		onReload(cfg)
	})
	l.v.WatchConfig()
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, errors.ErrInvalidConfig("failed to unmarshal config").WithCause(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults seeds the quota tables with the production defaults. Windows
// are in seconds, matching the file format.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)

	v.SetDefault("redis.mode", "standalone")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 2)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.database", "search")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 4)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.abuse_topic", "searchguard.abuse")
	v.SetDefault("kafka.required_acks", 1)

	v.SetDefault("auth.tier_cache_ttl", 300)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "searchguard")
	v.SetDefault("tracing.sampling_rate", 0.1)

	v.SetDefault("monitoring.pprof_enabled", false)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.check_timeout", 500)
	v.SetDefault("rate_limit.fallback_limit", 1000)
	v.SetDefault("rate_limit.local_fallback", true)
	v.SetDefault("rate_limit.latency_threshold_ms", 100)
	v.SetDefault("rate_limit.memory_pressure", 0.80)
	v.SetDefault("rate_limit.sample_interval", 5)

	// Fleet-wide circuit breaker: short window, very large ceiling.
	v.SetDefault("rate_limit.global.search.requests", 10000)
	v.SetDefault("rate_limit.global.search.window", 60)
	v.SetDefault("rate_limit.global.suggest.requests", 20000)
	v.SetDefault("rate_limit.global.suggest.window", 60)

	v.SetDefault("rate_limit.anonymous.search.requests", 100)
	v.SetDefault("rate_limit.anonymous.search.window", 3600)
	v.SetDefault("rate_limit.anonymous.suggest.requests", 200)
	v.SetDefault("rate_limit.anonymous.suggest.window", 3600)
	v.SetDefault("rate_limit.anonymous.analytics.requests", 10)
	v.SetDefault("rate_limit.anonymous.analytics.window", 3600)

	v.SetDefault("rate_limit.session.search.requests", 500)
	v.SetDefault("rate_limit.session.search.window", 3600)
	v.SetDefault("rate_limit.session.suggest.requests", 1000)
	v.SetDefault("rate_limit.session.suggest.window", 3600)

	v.SetDefault("rate_limit.user.free.search.requests", 1000)
	v.SetDefault("rate_limit.user.free.search.window", 3600)
	v.SetDefault("rate_limit.user.free.suggest.requests", 2000)
	v.SetDefault("rate_limit.user.free.suggest.window", 3600)
	v.SetDefault("rate_limit.user.free.analytics.requests", 100)
	v.SetDefault("rate_limit.user.free.analytics.window", 3600)
	v.SetDefault("rate_limit.user.premium.search.requests", 5000)
	v.SetDefault("rate_limit.user.premium.search.window", 3600)
	v.SetDefault("rate_limit.user.premium.suggest.requests", 10000)
	v.SetDefault("rate_limit.user.premium.suggest.window", 3600)
	v.SetDefault("rate_limit.user.premium.analytics.requests", 1000)
	v.SetDefault("rate_limit.user.premium.analytics.window", 3600)
	v.SetDefault("rate_limit.user.enterprise.search.requests", 50000)
	v.SetDefault("rate_limit.user.enterprise.search.window", 3600)
	v.SetDefault("rate_limit.user.enterprise.suggest.requests", 100000)
	v.SetDefault("rate_limit.user.enterprise.suggest.window", 3600)
	v.SetDefault("rate_limit.user.enterprise.analytics.requests", 10000)
	v.SetDefault("rate_limit.user.enterprise.analytics.window", 3600)

	v.SetDefault("rate_limit.api_key.free.search.requests", 500)
	v.SetDefault("rate_limit.api_key.free.search.window", 3600)
	v.SetDefault("rate_limit.api_key.free.suggest.requests", 1000)
	v.SetDefault("rate_limit.api_key.free.suggest.window", 3600)
	v.SetDefault("rate_limit.api_key.free.analytics.requests", 50)
	v.SetDefault("rate_limit.api_key.free.analytics.window", 3600)
	v.SetDefault("rate_limit.api_key.premium.search.requests", 5000)
	v.SetDefault("rate_limit.api_key.premium.search.window", 3600)
	v.SetDefault("rate_limit.api_key.premium.suggest.requests", 10000)
	v.SetDefault("rate_limit.api_key.premium.suggest.window", 3600)
	v.SetDefault("rate_limit.api_key.premium.analytics.requests", 1000)
	v.SetDefault("rate_limit.api_key.premium.analytics.window", 3600)
	v.SetDefault("rate_limit.api_key.enterprise.search.requests", 50000)
	v.SetDefault("rate_limit.api_key.enterprise.search.window", 3600)
	v.SetDefault("rate_limit.api_key.enterprise.suggest.requests", 100000)
	v.SetDefault("rate_limit.api_key.enterprise.suggest.window", 3600)
	v.SetDefault("rate_limit.api_key.enterprise.analytics.requests", 10000)
	v.SetDefault("rate_limit.api_key.enterprise.analytics.window", 3600)
}
