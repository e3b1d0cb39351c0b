// Package ratelimit implements the counter-store primitives for rate
// limiting: the Redis sliding-window limiter, the block/violation store,
// the adaptive load governor and the local fallback buckets.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/searchguard/searchguard/internal/domain/models"
	"github.com/searchguard/searchguard/pkg/constants"
	"github.com/searchguard/searchguard/pkg/errors"
	"github.com/searchguard/searchguard/pkg/logger"
)

// SlidingWindowLimiter implements service.WindowLimiter against Redis.
//
// Each key holds a sorted set of request timestamps. A check trims expired
// entries, counts the survivors, records the current attempt and refreshes
// the key TTL in one pipelined transaction. Cleanup relies entirely on the
// synchronous trim plus the key TTL; there is no background sweep.
type SlidingWindowLimiter struct {
	client    redis.UniversalClient
	logger    logger.Logger
	keyPrefix string
	timeout   time.Duration
}

// NewSlidingWindowLimiter creates a sliding-window limiter.
//
// Parameters:
//   - client: Redis client
//   - timeout: Per-check store timeout
//   - log: Logger instance
//
// Returns:
//   - *SlidingWindowLimiter: Initialized limiter
func NewSlidingWindowLimiter(client redis.UniversalClient, timeout time.Duration, log logger.Logger) *SlidingWindowLimiter {
	if timeout <= 0 {
		timeout = constants.DefaultCheckTimeout
	}
	return &SlidingWindowLimiter{
		client:    client,
		logger:    log.WithComponent("SlidingWindowLimiter"),
		keyPrefix: constants.KeyPrefixRateLimit,
		timeout:   timeout,
	}
}

// Check atomically evaluates and records one request. The decision is made
// on the count observed before this attempt's entry is added; a denied
// attempt's entry is removed again so that retries of rejected requests do
// not consume quota.
func (l *SlidingWindowLimiter) Check(ctx context.Context, policy models.LimitPolicy) (models.RateLimitResult, error) {
	now := time.Now()

	// A non-positive ceiling is a deliberate deny-all; no store round-trip.
	if policy.MaxRequests <= 0 {
		return deniedResult(policy, now), nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	key := l.key(policy.Key)
	windowStart := now.Add(-policy.Window)
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixMilli(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	pipe.Expire(ctx, key, policy.Window)

	if _, err := pipe.Exec(ctx); err != nil {
		return models.RateLimitResult{}, errors.ErrStoreUnavailable("rate limit check failed").WithCause(err)
	}

	currentCount := countCmd.Val()

	if currentCount >= int64(policy.MaxRequests) {
		// Compensate for the entry recorded above. If this removal fails
		// the window transiently overcounts by one, which is the
		// acceptable failure direction (never unlimited admission).
		if err := l.client.ZRem(ctx, key, member).Err(); err != nil {
			l.logger.Warn(ctx, "Failed to remove rejected attempt entry",
				logger.String("limit_type", policy.LimitType),
				logger.Error(err),
			)
		}
		return deniedResult(policy, now), nil
	}

	remaining := policy.MaxRequests - int(currentCount) - 1
	if remaining < 0 {
		remaining = 0
	}

	return models.RateLimitResult{
		Allowed:    true,
		Remaining:  remaining,
		ResetTime:  now.Add(policy.Window),
		LimitType:  policy.LimitType,
		LimitValue: policy.MaxRequests,
	}, nil
}

// deniedResult builds the rejection for a policy. The retry hint is half
// the window, a conservative heuristic rather than a precise next-slot
// calculation.
func deniedResult(policy models.LimitPolicy, now time.Time) models.RateLimitResult {
	retryAfter := time.Duration((int64(policy.Window.Seconds())+1)/2) * time.Second
	return models.RateLimitResult{
		Allowed:    false,
		Remaining:  0,
		ResetTime:  now.Add(policy.Window),
		RetryAfter: retryAfter,
		LimitType:  policy.LimitType,
		LimitValue: policy.MaxRequests,
	}
}

// Reset deletes every counter key for an identifier within a dimension.
func (l *SlidingWindowLimiter) Reset(ctx context.Context, dimension constants.RateLimitDimension, identifier string) error {
	pattern := fmt.Sprintf("%s:%s:%s:*", l.keyPrefix, dimension, identifier)

	keys, err := l.scanKeys(ctx, pattern)
	if err != nil {
		return errors.ErrStoreUnavailable("rate limit reset failed").WithCause(err)
	}
	if len(keys) == 0 {
		return nil
	}

	if err := l.client.Del(ctx, keys...).Err(); err != nil {
		return errors.ErrStoreUnavailable("rate limit reset failed").WithCause(err)
	}

	l.logger.Debug(ctx, "Rate limits reset",
		logger.String("dimension", string(dimension)),
		logger.String("identifier", identifier),
		logger.Int("keys", len(keys)),
	)
	return nil
}

// Usage reports the current window counts per operation bucket for an
// identifier.
func (l *SlidingWindowLimiter) Usage(ctx context.Context, dimension constants.RateLimitDimension, identifier string) (map[constants.OperationBucket]int64, error) {
	pattern := fmt.Sprintf("%s:%s:%s:*", l.keyPrefix, dimension, identifier)

	keys, err := l.scanKeys(ctx, pattern)
	if err != nil {
		return nil, errors.ErrStoreUnavailable("rate limit usage lookup failed").WithCause(err)
	}

	usage := make(map[constants.OperationBucket]int64, len(keys))
	for _, key := range keys {
		count, err := l.client.ZCard(ctx, key).Result()
		if err != nil {
			return nil, errors.ErrStoreUnavailable("rate limit usage lookup failed").WithCause(err)
		}
		parts := strings.Split(key, ":")
		bucket := constants.OperationBucket(parts[len(parts)-1])
		usage[bucket] = count
	}
	return usage, nil
}

func (l *SlidingWindowLimiter) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := l.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (l *SlidingWindowLimiter) key(policyKey string) string {
	return l.keyPrefix + ":" + policyKey
}
