// Package redis provides Redis connection management for the counter store.
// Standalone, cluster and sentinel deployments are supported behind one
// UniversalClient.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/searchguard/searchguard/internal/config"
	"github.com/searchguard/searchguard/pkg/logger"
)

// ConnectionMode defines the Redis deployment mode.
type ConnectionMode string

const (
	// ModeStandalone represents a single Redis instance
	ModeStandalone ConnectionMode = "standalone"
	// ModeCluster represents Redis cluster mode
	ModeCluster ConnectionMode = "cluster"
	// ModeSentinel represents Redis sentinel mode for high availability
	ModeSentinel ConnectionMode = "sentinel"
)

// Connection manages the Redis client lifecycle for the counter store.
type Connection struct {
	client redis.UniversalClient
	logger logger.Logger
}

// NewConnection establishes a Redis connection based on the configured mode
// and verifies it with a ping.
//
// Parameters:
//   - cfg: Redis configuration
//   - log: Logger instance
//
// Returns:
//   - *Connection: Initialized connection
//   - error: Connection establishment error if any
func NewConnection(cfg *config.RedisConfig, log logger.Logger) (*Connection, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.Info(ctx, "Redis connection established",
		logger.String("mode", cfg.Mode),
		logger.Int("pool_size", cfg.PoolSize),
	)

	return &Connection{client: client, logger: log}, nil
}

// NewConnectionFromClient wraps an existing client. Used by tests that run
// against miniredis.
func NewConnectionFromClient(client redis.UniversalClient, log logger.Logger) *Connection {
	return &Connection{client: client, logger: log}
}

func newClient(cfg *config.RedisConfig) (redis.UniversalClient, error) {
	pool := cfg.PoolSize
	if pool <= 0 {
		pool = 10
	}

	switch ConnectionMode(cfg.Mode) {
	case ModeCluster:
		if len(cfg.ClusterAddrs) == 0 {
			return nil, fmt.Errorf("cluster addresses not configured")
		}
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.ClusterAddrs,
			Password:     cfg.Password,
			PoolSize:     pool,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  time.Duration(cfg.DialTimeout) * time.Second,
			ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		}), nil

	case ModeSentinel:
		if len(cfg.SentinelAddrs) == 0 {
			return nil, fmt.Errorf("sentinel addresses not configured")
		}
		if cfg.SentinelMaster == "" {
			return nil, fmt.Errorf("sentinel master name not configured")
		}
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.SentinelMaster,
			SentinelAddrs: cfg.SentinelAddrs,
			Password:      cfg.Password,
			DB:            cfg.DB,
			PoolSize:      pool,
			MinIdleConns:  cfg.MinIdleConns,
			DialTimeout:   time.Duration(cfg.DialTimeout) * time.Second,
			ReadTimeout:   time.Duration(cfg.ReadTimeout) * time.Second,
			WriteTimeout:  time.Duration(cfg.WriteTimeout) * time.Second,
		}), nil

	case ModeStandalone, "":
		return redis.NewClient(&redis.Options{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     pool,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  time.Duration(cfg.DialTimeout) * time.Second,
			ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		}), nil

	default:
		return nil, fmt.Errorf("unsupported Redis mode: %s", cfg.Mode)
	}
}

// Client returns the underlying Redis client.
func (c *Connection) Client() redis.UniversalClient {
	return c.client
}

// Ping checks Redis server connectivity.
func (c *Connection) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// HealthCheck reports connectivity, round-trip latency and pool statistics.
//
// Parameters:
//   - ctx: Context for timeout control
//
// Returns:
//   - map[string]interface{}: Health status details
//   - error: Health check error if any
func (c *Connection) HealthCheck(ctx context.Context) (map[string]interface{}, error) {
	health := make(map[string]interface{})

	start := time.Now()
	err := c.client.Ping(ctx).Err()
	latency := time.Since(start)

	health["connected"] = err == nil
	health["latency_ms"] = latency.Milliseconds()

	if err != nil {
		health["error"] = err.Error()
		return health, err
	}

	stats := c.client.PoolStats()
	health["total_conns"] = stats.TotalConns
	health["idle_conns"] = stats.IdleConns
	health["pool_timeouts"] = stats.Timeouts

	return health, nil
}

// Close closes the Redis connection.
func (c *Connection) Close() error {
	if err := c.client.Close(); err != nil {
		c.logger.Error(context.Background(), "Failed to close Redis connection", err)
		return err
	}
	c.logger.Info(context.Background(), "Redis connection closed")
	return nil
}
