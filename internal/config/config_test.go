package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchguard/searchguard/internal/config"
	"github.com/searchguard/searchguard/pkg/constants"
	"github.com/searchguard/searchguard/pkg/logger"
)

func TestLoader_DefaultsProduceValidConfig(t *testing.T) {
	loader := config.NewLoader(logger.NewNoopLogger())
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 1000, cfg.RateLimit.FallbackLimit)
	assert.Equal(t, 500*time.Millisecond, cfg.RateLimit.CheckTimeoutDuration())

	table, err := cfg.RateLimit.Table()
	require.NoError(t, err)

	// Spot-check the seeded quota tables.
	assert.Equal(t, 100, table.Anonymous[constants.BucketSearch].Requests)
	assert.Equal(t, time.Hour, table.Anonymous[constants.BucketSearch].Window)
	assert.Equal(t, 5000, table.User[constants.TierPremium][constants.BucketSearch].Requests)
	assert.Equal(t, 50000, table.APIKey[constants.TierEnterprise][constants.BucketSearch].Requests)
	assert.Equal(t, 10000, table.Global[constants.BucketSearch].Requests)
	assert.Equal(t, time.Minute, table.Global[constants.BucketSearch].Window)

	// The session table deliberately has no analytics bucket.
	_, ok := table.Session[constants.BucketAnalytics]
	assert.False(t, ok)
}

func TestConfig_ValidateRejectsZeroWindow(t *testing.T) {
	cfg := &config.Config{
		RateLimit: config.RateLimitConfig{
			FallbackLimit: 1000,
			Global: map[string]config.LimitEntry{
				"search": {Requests: 100, Window: 0},
			},
		},
	}
	assert.Error(t, cfg.Validate(), "a zero window must not silently become unlimited")
}

func TestConfig_ValidateRejectsNonPositiveFallback(t *testing.T) {
	cfg := &config.Config{}
	assert.Error(t, cfg.Validate())
}

func TestRateLimitConfig_TableConversion(t *testing.T) {
	rl := config.RateLimitConfig{
		FallbackLimit: 1000,
		User: map[string]map[string]config.LimitEntry{
			"premium": {"suggest": {Requests: 10, Window: 60}},
		},
	}

	table, err := rl.Table()
	require.NoError(t, err)
	limit := table.User[constants.TierPremium][constants.BucketSuggest]
	assert.Equal(t, 10, limit.Requests)
	assert.Equal(t, time.Minute, limit.Window)
}

func TestCheckTimeoutDuration_DefaultsWhenUnset(t *testing.T) {
	rl := config.RateLimitConfig{}
	assert.Equal(t, constants.DefaultCheckTimeout, rl.CheckTimeoutDuration())

	rl.CheckTimeout = 250
	assert.Equal(t, 250*time.Millisecond, rl.CheckTimeoutDuration())
}
