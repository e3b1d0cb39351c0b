package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	appservice "github.com/searchguard/searchguard/internal/application/service"
	"github.com/searchguard/searchguard/internal/config"
	domainservice "github.com/searchguard/searchguard/internal/domain/service"
	"github.com/searchguard/searchguard/internal/infrastructure/audit"
	"github.com/searchguard/searchguard/internal/infrastructure/auth"
	"github.com/searchguard/searchguard/internal/infrastructure/monitoring"
	"github.com/searchguard/searchguard/internal/infrastructure/persistence/postgres"
	redisconn "github.com/searchguard/searchguard/internal/infrastructure/persistence/redis"
	"github.com/searchguard/searchguard/internal/infrastructure/ratelimit"
	httpiface "github.com/searchguard/searchguard/internal/interfaces/http"
	"github.com/searchguard/searchguard/internal/interfaces/http/handlers"
	"github.com/searchguard/searchguard/pkg/constants"
	"github.com/searchguard/searchguard/pkg/logger"
)

func main() {
	startupLogger, err := monitoring.NewZapLogger(&config.LogConfig{Level: "info"})
	if err != nil {
		log.Fatalf("failed to create startup logger: %v", err)
	}

	loader := config.NewLoader(startupLogger)
	cfg, err := loader.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLogger, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	ctx := context.Background()

	tracing, err := monitoring.NewTracingManager(&cfg.Tracing, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize tracing", err)
	}

	redisConn, err := redisconn.NewConnection(&cfg.Redis, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to connect to Redis", err)
	}
	defer redisConn.Close()
	client := redisConn.Client()

	// The subscription database is optional: without it every identity
	// rate limits at the free tier.
	var tiers domainservice.TierLookup = auth.NewStaticTierLookup(constants.TierFree)
	var tierRepo *postgres.TierRepository
	if cfg.Postgres.Host != "" {
		tierRepo, err = postgres.NewTierRepository(ctx, &cfg.Postgres, appLogger)
		if err != nil {
			appLogger.Warn(ctx, "Subscription database unavailable, using free tier for all identities",
				logger.Error(err),
			)
		} else {
			tiers = tierRepo
			defer tierRepo.Close()
		}
	}

	var auditSvc domainservice.AuditService = audit.NewNoopAuditService()
	if cfg.Kafka.Enabled {
		auditSvc = audit.NewKafkaAuditService(&cfg.Kafka, appLogger)
	}
	defer auditSvc.Close()

	metrics := monitoring.NewMetrics()
	limiter := ratelimit.NewSlidingWindowLimiter(client, cfg.RateLimit.CheckTimeoutDuration(), appLogger)
	blocks := ratelimit.NewRedisBlockStore(client, appLogger)
	governor := ratelimit.NewAdaptiveGovernor(client, ratelimit.GovernorConfig{
		LatencyThreshold: time.Duration(cfg.RateLimit.LatencyThresholdMs) * time.Millisecond,
		MemoryPressure:   cfg.RateLimit.MemoryPressure,
		SampleInterval:   time.Duration(cfg.RateLimit.SampleInterval) * time.Second,
	}, appLogger)
	usageLog := ratelimit.NewAPIKeyUsageLog(client, appLogger)

	var fallbackPool *ratelimit.TokenBucketPool
	if cfg.RateLimit.LocalFallback {
		capacity := float64(cfg.RateLimit.FallbackLimit)
		fallbackPool = ratelimit.NewTokenBucketPool(capacity, capacity/60)
		go func() {
			ticker := time.NewTicker(10 * time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				fallbackPool.Cleanup(30 * time.Minute)
			}
		}()
	}

	table, err := cfg.RateLimit.Table()
	if err != nil {
		appLogger.Fatal(ctx, "Invalid rate limit policy table", err)
	}

	engine := appservice.NewRateLimitAppService(appservice.AppServiceOptions{
		Limiter:       limiter,
		Blocks:        blocks,
		Governor:      governor,
		Audit:         auditSvc,
		UsageLog:      usageLog,
		Fallback:      fallbackPool,
		Metrics:       metrics,
		Logger:        appLogger,
		Table:         table,
		FallbackLimit: cfg.RateLimit.FallbackLimit,
	})

	// Hot reload swaps the policy table without a restart; all other
	// settings keep their boot values.
	loader.Watch(func(newCfg *config.Config) {
		newTable, err := newCfg.RateLimit.Table()
		if err != nil {
			appLogger.Error(ctx, "Rejected reloaded policy table", err)
			return
		}
		engine.UpdateLimits(newTable)
	})

	enricher := auth.NewEnricher(
		cfg.Auth.JWTSecret,
		tiers,
		time.Duration(cfg.Auth.TierCacheTTL)*time.Second,
		appLogger,
	)

	adminHandler := handlers.NewAdminHandler(engine, usageLog, appLogger)
	healthHandler := handlers.NewHealthHandler(redisConn, appLogger)
	router := httpiface.NewRouter(cfg, appLogger, engine, enricher, adminHandler, healthHandler)

	go func() {
		if err := router.Start(); err != nil {
			appLogger.Fatal(ctx, "HTTP server failed", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info(ctx, "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := router.Stop(shutdownCtx); err != nil {
		appLogger.Error(ctx, "Forced HTTP shutdown", err)
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(ctx, "Failed to shut down tracing", err)
	}
}
