package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchguard/searchguard/internal/domain/models"
	"github.com/searchguard/searchguard/internal/infrastructure/ratelimit"
	"github.com/searchguard/searchguard/pkg/constants"
	"github.com/searchguard/searchguard/pkg/errors"
	"github.com/searchguard/searchguard/pkg/logger"
)

func newTestLimiter(t *testing.T) (*ratelimit.SlidingWindowLimiter, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return ratelimit.NewSlidingWindowLimiter(client, time.Second, logger.NewNoopLogger()), s
}

func searchPolicy(key string, max int, window time.Duration) models.LimitPolicy {
	return models.LimitPolicy{
		Dimension:   constants.DimensionIP,
		Key:         key,
		MaxRequests: max,
		Window:      window,
		LimitType:   "ip",
	}
}

func TestSlidingWindow_AllowsUntilCeiling(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	policy := searchPolicy("ip:10.0.0.1:search", 3, time.Hour)

	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, policy)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 2-i, result.Remaining, "remaining must count down")
		assert.Equal(t, 3, result.LimitValue)
		assert.Equal(t, "ip", result.LimitType)
	}

	result, err := limiter.Check(ctx, policy)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
}

func TestSlidingWindow_DeniedAttemptLeavesNoTrace(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	policy := searchPolicy("ip:10.0.0.2:search", 2, time.Hour)

	for i := 0; i < 2; i++ {
		_, err := limiter.Check(ctx, policy)
		require.NoError(t, err)
	}
	for i := 0; i < 5; i++ {
		result, err := limiter.Check(ctx, policy)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
	}

	// Rejected retries must not have consumed quota.
	usage, err := limiter.Usage(ctx, constants.DimensionIP, "10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), usage[constants.BucketSearch])
}

func TestSlidingWindow_ZeroCeilingDeniesWithoutStore(t *testing.T) {
	limiter, s := newTestLimiter(t)
	s.Close() // a deny-all policy must not touch the store

	result, err := limiter.Check(context.Background(), searchPolicy("ip:10.0.0.3:search", 0, time.Minute))
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestSlidingWindow_RetryAfterIsHalfWindow(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	policy := searchPolicy("ip:10.0.0.4:search", 1, time.Hour)

	_, err := limiter.Check(ctx, policy)
	require.NoError(t, err)

	result, err := limiter.Check(ctx, policy)
	require.NoError(t, err)
	require.False(t, result.Allowed)
	assert.Equal(t, 1800*time.Second, result.RetryAfter) // (3600+1)/2 seconds
}

func TestSlidingWindow_WindowRollsOff(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	policy := searchPolicy("ip:10.0.0.5:search", 1, 50*time.Millisecond)

	first, err := limiter.Check(ctx, policy)
	require.NoError(t, err)
	assert.True(t, first.Allowed)

	denied, err := limiter.Check(ctx, policy)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)

	time.Sleep(60 * time.Millisecond)

	again, err := limiter.Check(ctx, policy)
	require.NoError(t, err)
	assert.True(t, again.Allowed, "expired entries must stop counting")
}

func TestSlidingWindow_Reset(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	policy := searchPolicy("ip:10.0.0.6:search", 1, time.Hour)

	_, err := limiter.Check(ctx, policy)
	require.NoError(t, err)

	denied, err := limiter.Check(ctx, policy)
	require.NoError(t, err)
	require.False(t, denied.Allowed)

	require.NoError(t, limiter.Reset(ctx, constants.DimensionIP, "10.0.0.6"))

	result, err := limiter.Check(ctx, policy)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestSlidingWindow_StoreFailureSurfacesAsStoreUnavailable(t *testing.T) {
	limiter, s := newTestLimiter(t)
	s.Close()

	_, err := limiter.Check(context.Background(), searchPolicy("ip:10.0.0.7:search", 5, time.Hour))
	require.Error(t, err)
	assert.True(t, errors.IsStoreUnavailable(err))
}

func TestSlidingWindow_UsageReportsPerBucket(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := limiter.Check(ctx, models.LimitPolicy{
			Dimension: constants.DimensionUser, Key: "user:u1:search",
			MaxRequests: 100, Window: time.Hour, LimitType: "user-free",
		})
		require.NoError(t, err)
	}
	_, err := limiter.Check(ctx, models.LimitPolicy{
		Dimension: constants.DimensionUser, Key: "user:u1:suggest",
		MaxRequests: 100, Window: time.Hour, LimitType: "user-free",
	})
	require.NoError(t, err)

	usage, err := limiter.Usage(ctx, constants.DimensionUser, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), usage[constants.BucketSearch])
	assert.Equal(t, int64(1), usage[constants.BucketSuggest])
}
