package ratelimit

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/searchguard/searchguard/pkg/constants"
	"github.com/searchguard/searchguard/pkg/logger"
)

// AdaptiveGovernor samples store round-trip latency and reported memory
// pressure and scales effective ceilings down while either is above its
// threshold. It is a reactive shedding mechanism, not a control loop:
// flapping under borderline load is accepted.
type AdaptiveGovernor struct {
	client           redis.UniversalClient
	logger           logger.Logger
	latencyThreshold time.Duration
	memoryPressure   float64
	sampleInterval   time.Duration

	// Last sample, shared across requests without a lock; a slightly
	// stale reading is acceptable.
	sample atomic.Pointer[loadSample]
}

type loadSample struct {
	takenAt     time.Time
	latency     time.Duration
	memoryRatio float64
}

// GovernorConfig holds the governor thresholds.
type GovernorConfig struct {
	LatencyThreshold time.Duration
	MemoryPressure   float64
	SampleInterval   time.Duration
}

// NewAdaptiveGovernor creates a load governor.
func NewAdaptiveGovernor(client redis.UniversalClient, cfg GovernorConfig, log logger.Logger) *AdaptiveGovernor {
	if cfg.LatencyThreshold <= 0 {
		cfg.LatencyThreshold = constants.DefaultLatencyThreshold
	}
	if cfg.MemoryPressure <= 0 {
		cfg.MemoryPressure = constants.DefaultMemoryPressureThreshold
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 5 * time.Second
	}
	return &AdaptiveGovernor{
		client:           client,
		logger:           log.WithComponent("AdaptiveGovernor"),
		latencyThreshold: cfg.LatencyThreshold,
		memoryPressure:   cfg.MemoryPressure,
		sampleInterval:   cfg.SampleInterval,
	}
}

// Factor returns the ceiling scale for the current evaluation: 1.0 under
// normal load, LoadShedFactor while the store is under pressure.
func (g *AdaptiveGovernor) Factor(ctx context.Context) float64 {
	s := g.sample.Load()
	if s == nil || time.Since(s.takenAt) > g.sampleInterval {
		fresh := g.takeSample(ctx)
		g.sample.Store(&fresh)
		s = &fresh
	}
	return g.factorFor(ctx, *s)
}

func (g *AdaptiveGovernor) factorFor(ctx context.Context, s loadSample) float64 {
	if s.latency > g.latencyThreshold || s.memoryRatio > g.memoryPressure {
		g.logger.Warn(ctx, "Load shedding engaged",
			logger.Duration("store_latency", s.latency),
			logger.Float64("memory_ratio", s.memoryRatio),
		)
		return constants.LoadShedFactor
	}
	return 1.0
}

// takeSample measures ping latency and reads the store's memory ratio.
// Sampling failures yield a neutral sample: the governor never sheds on
// signals it could not observe.
func (g *AdaptiveGovernor) takeSample(ctx context.Context) loadSample {
	s := loadSample{takenAt: time.Now()}

	start := time.Now()
	if err := g.client.Ping(ctx).Err(); err != nil {
		g.logger.Debug(ctx, "Load sample ping failed", logger.Error(err))
		return s
	}
	s.latency = time.Since(start)

	info, err := g.client.Info(ctx, "memory").Result()
	if err != nil {
		g.logger.Debug(ctx, "Load sample info failed", logger.Error(err))
		return s
	}
	s.memoryRatio = parseMemoryRatio(info)

	return s
}

// parseMemoryRatio extracts used_memory/maxmemory from an INFO memory
// section. A server without maxmemory configured reports zero pressure.
func parseMemoryRatio(info string) float64 {
	var used, max int64
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "used_memory:"); ok {
			used, _ = strconv.ParseInt(v, 10, 64)
		}
		if v, ok := strings.CutPrefix(line, "maxmemory:"); ok {
			max, _ = strconv.ParseInt(v, 10, 64)
		}
	}
	if max <= 0 {
		return 0
	}
	return float64(used) / float64(max)
}
