package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appservice "github.com/searchguard/searchguard/internal/application/service"
	"github.com/searchguard/searchguard/internal/domain/models"
	"github.com/searchguard/searchguard/internal/infrastructure/audit"
	"github.com/searchguard/searchguard/internal/infrastructure/ratelimit"
	"github.com/searchguard/searchguard/pkg/constants"
	"github.com/searchguard/searchguard/pkg/errors"
	"github.com/searchguard/searchguard/pkg/logger"
)

type staticGovernor struct{ factor float64 }

func (g staticGovernor) Factor(context.Context) float64 { return g.factor }

func engineTable() *models.LimitTable {
	return &models.LimitTable{
		Global: models.BucketLimits{
			constants.BucketSearch: {Requests: 10000, Window: time.Minute},
		},
		Anonymous: models.BucketLimits{
			constants.BucketSearch: {Requests: 100, Window: time.Hour},
		},
		Session: models.BucketLimits{
			constants.BucketSearch: {Requests: 500, Window: time.Hour},
		},
		User: map[constants.Tier]models.BucketLimits{
			constants.TierFree: {constants.BucketSearch: {Requests: 1000, Window: time.Hour}},
		},
		APIKey: map[constants.Tier]models.BucketLimits{
			constants.TierFree: {constants.BucketSearch: {Requests: 500, Window: time.Hour}},
		},
	}
}

type engineFixture struct {
	engine *appservice.RateLimitAppService
	store  *miniredis.Miniredis
	client *goredis.Client
}

func newEngine(t *testing.T, table *models.LimitTable, factor float64) *engineFixture {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := logger.NewNoopLogger()
	engine := appservice.NewRateLimitAppService(appservice.AppServiceOptions{
		Limiter:       ratelimit.NewSlidingWindowLimiter(client, time.Second, log),
		Blocks:        ratelimit.NewRedisBlockStore(client, log),
		Governor:      staticGovernor{factor: factor},
		Audit:         audit.NewNoopAuditService(),
		Logger:        log,
		Table:         table,
		FallbackLimit: 1000,
	})
	return &engineFixture{engine: engine, store: s, client: client}
}

func anonymousCtx(ip string) models.RateLimitContext {
	return models.RateLimitContext{
		IPAddress:     ip,
		OperationType: constants.OperationSearch,
		Endpoint:      "/api/v1/search",
	}
}

func TestEvaluate_AllowsAndAdvertisesTightestDimension(t *testing.T) {
	f := newEngine(t, engineTable(), 1.0)
	ctx := context.Background()

	d := f.engine.Evaluate(ctx, anonymousCtx("203.0.113.1"))
	require.True(t, d.Allowed())
	assert.Equal(t, "ip", d.Result.LimitType, "the anonymous ceiling is tighter than global")
	assert.Equal(t, 99, d.Result.Remaining)
	assert.Equal(t, 100, d.Result.LimitValue)

	d = f.engine.Evaluate(ctx, anonymousCtx("203.0.113.1"))
	require.True(t, d.Allowed())
	assert.Equal(t, 98, d.Result.Remaining, "remaining must decrease monotonically")
}

func TestEvaluate_DenialCarriesDenyingDimension(t *testing.T) {
	table := engineTable()
	table.Anonymous[constants.BucketSearch] = models.Limit{Requests: 2, Window: time.Hour}
	f := newEngine(t, table, 1.0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.True(t, f.engine.Evaluate(ctx, anonymousCtx("203.0.113.2")).Allowed())
	}

	d := f.engine.Evaluate(ctx, anonymousCtx("203.0.113.2"))
	require.False(t, d.Allowed())
	assert.Equal(t, "ip", d.Result.LimitType)
	assert.Equal(t, 2, d.Result.LimitValue)
	assert.Greater(t, d.Result.RetryAfter, time.Duration(0))
	assert.Nil(t, d.Block)
}

func TestEvaluate_EscalatesToBlockAfterRepeatedViolations(t *testing.T) {
	table := engineTable()
	table.Anonymous[constants.BucketSearch] = models.Limit{Requests: 1, Window: time.Hour}
	f := newEngine(t, table, 1.0)
	ctx := context.Background()
	rlCtx := anonymousCtx("203.0.113.3")

	require.True(t, f.engine.Evaluate(ctx, rlCtx).Allowed())

	// Violations one through four deny without a block.
	for i := 0; i < 4; i++ {
		d := f.engine.Evaluate(ctx, rlCtx)
		require.False(t, d.Allowed())
		require.Nil(t, d.Block)
	}

	// The fifth violation crosses the threshold and creates the block.
	d := f.engine.Evaluate(ctx, rlCtx)
	require.False(t, d.Allowed())

	block, err := f.engine.BlockInfo(ctx, models.Identifier{Type: constants.BlockTypeIP, Value: "203.0.113.3"})
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.Equal(t, 25*time.Minute, block.Duration, "five violations at five minutes each")

	// Subsequent requests are rejected by the block before any quota check.
	d = f.engine.Evaluate(ctx, rlCtx)
	require.False(t, d.Allowed())
	require.NotNil(t, d.Block)
	assert.Equal(t, "blocked-ip", d.Result.LimitType)
}

func TestEvaluate_BlockAppliesAcrossIdentities(t *testing.T) {
	f := newEngine(t, engineTable(), 1.0)
	ctx := context.Background()

	id := models.Identifier{Type: constants.BlockTypeUser, Value: "u-7"}
	require.NoError(t, f.engine.Block(ctx, id, 10*time.Minute, "abusive scraping"))

	d := f.engine.Evaluate(ctx, models.RateLimitContext{
		UserID:          "u-7",
		IPAddress:       "203.0.113.4",
		IsAuthenticated: true,
		UserTier:        constants.TierFree,
		OperationType:   constants.OperationSearch,
	})
	require.False(t, d.Allowed())
	require.NotNil(t, d.Block)
	assert.Equal(t, "blocked-user", d.Result.LimitType)

	require.NoError(t, f.engine.Unblock(ctx, id))

	d = f.engine.Evaluate(ctx, models.RateLimitContext{
		UserID:          "u-7",
		IPAddress:       "203.0.113.4",
		IsAuthenticated: true,
		UserTier:        constants.TierFree,
		OperationType:   constants.OperationSearch,
	})
	assert.True(t, d.Allowed())
}

func TestEvaluate_FailsOpenOnStoreFailure(t *testing.T) {
	f := newEngine(t, engineTable(), 1.0)
	f.store.Close()

	d := f.engine.Evaluate(context.Background(), anonymousCtx("203.0.113.5"))
	require.True(t, d.Allowed(), "a store outage must never take the search API down")
	assert.True(t, d.FallbackUsed)
	assert.Equal(t, "fallback", d.Result.LimitType)
	assert.Equal(t, 1000, d.Result.Remaining)
}

func TestEvaluate_LocalFallbackBoundsOutageTraffic(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := logger.NewNoopLogger()
	engine := appservice.NewRateLimitAppService(appservice.AppServiceOptions{
		Limiter:       ratelimit.NewSlidingWindowLimiter(client, 100*time.Millisecond, log),
		Blocks:        ratelimit.NewRedisBlockStore(client, log),
		Governor:      staticGovernor{factor: 1.0},
		Audit:         audit.NewNoopAuditService(),
		Fallback:      ratelimit.NewTokenBucketPool(3, 0),
		Logger:        log,
		Table:         engineTable(),
		FallbackLimit: 1000,
	})
	s.Close()

	ctx := context.Background()
	var last models.Decision
	for i := 0; i < 3; i++ {
		last = engine.Evaluate(ctx, anonymousCtx("203.0.113.6"))
		require.True(t, last.Allowed())
		require.True(t, last.FallbackUsed)
	}
	assert.Equal(t, 0, last.Result.Remaining, "advertised remaining counts down during the outage")
}

func TestEvaluate_GovernorScalesCeilings(t *testing.T) {
	table := engineTable()
	table.Anonymous[constants.BucketSearch] = models.Limit{Requests: 4, Window: time.Hour}
	f := newEngine(t, table, 0.5) // effective ceiling 2
	ctx := context.Background()

	require.True(t, f.engine.Evaluate(ctx, anonymousCtx("203.0.113.7")).Allowed())
	require.True(t, f.engine.Evaluate(ctx, anonymousCtx("203.0.113.7")).Allowed())

	d := f.engine.Evaluate(ctx, anonymousCtx("203.0.113.7"))
	require.False(t, d.Allowed())
	assert.Equal(t, 2, d.Result.LimitValue, "the scaled ceiling is advertised")
}

func TestEvaluateAndReject_ErrorClassification(t *testing.T) {
	table := engineTable()
	table.Anonymous[constants.BucketSearch] = models.Limit{Requests: 1, Window: time.Hour}
	f := newEngine(t, table, 1.0)
	ctx := context.Background()

	_, err := f.engine.EvaluateAndReject(ctx, anonymousCtx("203.0.113.8"))
	require.NoError(t, err)

	_, err = f.engine.EvaluateAndReject(ctx, anonymousCtx("203.0.113.8"))
	require.Error(t, err)
	assert.True(t, errors.IsRateLimited(err))

	id := models.Identifier{Type: constants.BlockTypeIP, Value: "203.0.113.9"}
	require.NoError(t, f.engine.Block(ctx, id, 10*time.Minute, "manual"))

	_, err = f.engine.EvaluateAndReject(ctx, anonymousCtx("203.0.113.9"))
	require.Error(t, err)
	assert.True(t, errors.IsBlocked(err))
}

func TestResetLimitsAndUsage(t *testing.T) {
	f := newEngine(t, engineTable(), 1.0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, f.engine.Evaluate(ctx, anonymousCtx("203.0.113.10")).Allowed())
	}

	usage, err := f.engine.Usage(ctx, "", "", "203.0.113.10")
	require.NoError(t, err)
	assert.Equal(t, int64(3), usage["ip:search"])

	require.NoError(t, f.engine.ResetLimits(ctx, "", "", "203.0.113.10"))

	usage, err = f.engine.Usage(ctx, "", "", "203.0.113.10")
	require.NoError(t, err)
	assert.Empty(t, usage)

	d := f.engine.Evaluate(ctx, anonymousCtx("203.0.113.10"))
	require.True(t, d.Allowed())
	assert.Equal(t, 99, d.Result.Remaining)
}

func TestUpdateLimits_SwapsTableForNewEvaluations(t *testing.T) {
	f := newEngine(t, engineTable(), 1.0)
	ctx := context.Background()

	require.True(t, f.engine.Evaluate(ctx, anonymousCtx("203.0.113.11")).Allowed())

	tightened := engineTable()
	tightened.Anonymous[constants.BucketSearch] = models.Limit{Requests: 1, Window: time.Hour}
	f.engine.UpdateLimits(tightened)

	assert.Same(t, tightened, f.engine.Limits())

	d := f.engine.Evaluate(ctx, anonymousCtx("203.0.113.11"))
	assert.False(t, d.Allowed(), "the prior request already consumed the tightened ceiling")
}

func TestEvaluate_AuthenticatedWithoutUserIDTreatedAnonymous(t *testing.T) {
	table := engineTable()
	table.Anonymous[constants.BucketSearch] = models.Limit{Requests: 1, Window: time.Hour}
	f := newEngine(t, table, 1.0)
	ctx := context.Background()

	rlCtx := models.RateLimitContext{
		IPAddress:       "203.0.113.12",
		IsAuthenticated: true, // no UserID: must demote
		OperationType:   constants.OperationSearch,
	}

	require.True(t, f.engine.Evaluate(ctx, rlCtx).Allowed())
	d := f.engine.Evaluate(ctx, rlCtx)
	require.False(t, d.Allowed())
	assert.Equal(t, "ip", d.Result.LimitType)
}
