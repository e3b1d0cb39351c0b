package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchguard/searchguard/internal/domain/models"
	"github.com/searchguard/searchguard/internal/domain/service"
	"github.com/searchguard/searchguard/pkg/constants"
)

func testTable() *models.LimitTable {
	return &models.LimitTable{
		Global: models.BucketLimits{
			constants.BucketSearch:  {Requests: 10000, Window: time.Minute},
			constants.BucketSuggest: {Requests: 20000, Window: time.Minute},
		},
		Anonymous: models.BucketLimits{
			constants.BucketSearch:    {Requests: 100, Window: time.Hour},
			constants.BucketAnalytics: {Requests: 10, Window: time.Hour},
		},
		Session: models.BucketLimits{
			constants.BucketSearch: {Requests: 500, Window: time.Hour},
		},
		User: map[constants.Tier]models.BucketLimits{
			constants.TierFree:    {constants.BucketSearch: {Requests: 1000, Window: time.Hour}},
			constants.TierPremium: {constants.BucketSearch: {Requests: 5000, Window: time.Hour}},
		},
		APIKey: map[constants.Tier]models.BucketLimits{
			constants.TierFree: {constants.BucketSearch: {Requests: 500, Window: time.Hour}},
		},
	}
}

func limitTypes(policies []models.LimitPolicy) []string {
	types := make([]string, len(policies))
	for i, p := range policies {
		types[i] = p.LimitType
	}
	return types
}

func TestResolve_AnonymousGetsGlobalAndIP(t *testing.T) {
	resolver := service.NewPolicyResolver()

	policies := resolver.Resolve(testTable(), models.RateLimitContext{
		IPAddress:     "203.0.113.1",
		OperationType: constants.OperationSearch,
	})

	assert.ElementsMatch(t, []string{"global", "ip"}, limitTypes(policies))
}

func TestResolve_AuthenticatedSkipsIP(t *testing.T) {
	resolver := service.NewPolicyResolver()

	policies := resolver.Resolve(testTable(), models.RateLimitContext{
		UserID:          "u-1",
		IPAddress:       "203.0.113.1",
		IsAuthenticated: true,
		UserTier:        constants.TierPremium,
		OperationType:   constants.OperationSearch,
	})

	assert.ElementsMatch(t, []string{"global", "user-premium"}, limitTypes(policies),
		"shared NATs must not throttle authenticated users")
}

func TestResolve_SessionAddsSessionDimension(t *testing.T) {
	resolver := service.NewPolicyResolver()

	policies := resolver.Resolve(testTable(), models.RateLimitContext{
		UserID:          "u-1",
		SessionID:       "sess-1",
		IPAddress:       "203.0.113.1",
		IsAuthenticated: true,
		UserTier:        constants.TierFree,
		OperationType:   constants.OperationSearch,
	})

	assert.ElementsMatch(t, []string{"global", "user-free", "session"}, limitTypes(policies))
}

func TestResolve_APIKeyDimension(t *testing.T) {
	resolver := service.NewPolicyResolver()

	policies := resolver.Resolve(testTable(), models.RateLimitContext{
		IPAddress:     "203.0.113.1",
		APIKeyID:      "key-9",
		APIKeyTier:    constants.TierFree,
		OperationType: constants.OperationSearch,
	})

	assert.ElementsMatch(t, []string{"global", "ip", "api_key"}, limitTypes(policies))
}

func TestResolve_MissingBucketSkipsDimension(t *testing.T) {
	resolver := service.NewPolicyResolver()

	// The session table has no analytics bucket; analytics requests with a
	// session id must skip the session dimension rather than deny.
	policies := resolver.Resolve(testTable(), models.RateLimitContext{
		SessionID:     "sess-2",
		IPAddress:     "203.0.113.1",
		OperationType: constants.OperationAnalytics,
	})

	assert.ElementsMatch(t, []string{"ip"}, limitTypes(policies),
		"global has no analytics bucket either")
}

func TestResolve_UnknownTierFallsBackToFree(t *testing.T) {
	resolver := service.NewPolicyResolver()

	policies := resolver.Resolve(testTable(), models.RateLimitContext{
		UserID:          "u-2",
		IsAuthenticated: true,
		UserTier:        constants.Tier("platinum"),
		OperationType:   constants.OperationSearch,
	})

	var userPolicy *models.LimitPolicy
	for i := range policies {
		if policies[i].Dimension == constants.DimensionUser {
			userPolicy = &policies[i]
		}
	}
	require.NotNil(t, userPolicy)
	assert.Equal(t, 1000, userPolicy.MaxRequests, "unknown tier uses free ceilings")
}

func TestResolve_OperationBucketSharing(t *testing.T) {
	resolver := service.NewPolicyResolver()
	table := testTable()

	// category and multi-type share the search budget
	for _, op := range []constants.OperationType{constants.OperationCategory, constants.OperationMultiType} {
		policies := resolver.Resolve(table, models.RateLimitContext{
			IPAddress:     "203.0.113.1",
			OperationType: op,
		})
		for _, p := range policies {
			assert.Contains(t, p.Key, ":search", "operation %s must map to the search bucket", op)
		}
	}
}

func TestResolve_KeyShapes(t *testing.T) {
	resolver := service.NewPolicyResolver()

	policies := resolver.Resolve(testTable(), models.RateLimitContext{
		UserID:          "u-3",
		SessionID:       "sess-3",
		IPAddress:       "203.0.113.5",
		IsAuthenticated: true,
		UserTier:        constants.TierFree,
		APIKeyID:        "key-3",
		OperationType:   constants.OperationSearch,
	})

	keys := make(map[constants.RateLimitDimension]string)
	for _, p := range policies {
		keys[p.Dimension] = p.Key
	}
	assert.Equal(t, "global:search", keys[constants.DimensionGlobal])
	assert.Equal(t, "user:u-3:search", keys[constants.DimensionUser])
	assert.Equal(t, "session:sess-3:search", keys[constants.DimensionSession])
	assert.Equal(t, "api_key:key-3:search", keys[constants.DimensionAPIKey])
}
