package service

import (
	"fmt"

	"github.com/searchguard/searchguard/internal/domain/models"
	"github.com/searchguard/searchguard/pkg/constants"
)

// PolicyResolver maps a request context to the concrete limit policies
// that must all hold for the request. It is pure: all state comes from the
// table snapshot passed in, so a resolver can be shared freely.
type PolicyResolver struct{}

// NewPolicyResolver creates a policy resolver.
func NewPolicyResolver() *PolicyResolver {
	return &PolicyResolver{}
}

// Resolve returns the policies applicable to the context, given a table
// snapshot. Dimensions without a configured bucket entry are skipped
// (unlimited). The dimensions are:
//
//   - global: always, keyed by bucket only; fleet-wide circuit breaking
//   - user: authenticated traffic, ceiling by tier
//   - session: any request carrying a session id
//   - ip: anonymous traffic only, so shared NATs do not throttle
//     authenticated users
//   - api_key: credential callers, ceiling by credential tier
func (r *PolicyResolver) Resolve(table *models.LimitTable, rlCtx models.RateLimitContext) []models.LimitPolicy {
	bucket := rlCtx.OperationType.Bucket()
	policies := make([]models.LimitPolicy, 0, 5)

	if limit, ok := table.Global[bucket]; ok {
		policies = append(policies, models.LimitPolicy{
			Dimension:   constants.DimensionGlobal,
			Key:         fmt.Sprintf("global:%s", bucket),
			MaxRequests: limit.Requests,
			Window:      limit.Window,
			LimitType:   "global",
		})
	}

	if rlCtx.IsAuthenticated {
		tier := rlCtx.UserTier
		if tier == "" {
			tier = constants.TierFree
		}
		if limit, ok := table.UserLimits(tier)[bucket]; ok {
			policies = append(policies, models.LimitPolicy{
				Dimension:   constants.DimensionUser,
				Key:         fmt.Sprintf("user:%s:%s", rlCtx.UserID, bucket),
				MaxRequests: limit.Requests,
				Window:      limit.Window,
				LimitType:   fmt.Sprintf("user-%s", tier),
			})
		}
	}

	if rlCtx.SessionID != "" {
		if limit, ok := table.Session[bucket]; ok {
			policies = append(policies, models.LimitPolicy{
				Dimension:   constants.DimensionSession,
				Key:         fmt.Sprintf("session:%s:%s", rlCtx.SessionID, bucket),
				MaxRequests: limit.Requests,
				Window:      limit.Window,
				LimitType:   "session",
			})
		}
	}

	if !rlCtx.IsAuthenticated {
		if limit, ok := table.Anonymous[bucket]; ok {
			policies = append(policies, models.LimitPolicy{
				Dimension:   constants.DimensionIP,
				Key:         fmt.Sprintf("ip:%s:%s", rlCtx.IPAddress, bucket),
				MaxRequests: limit.Requests,
				Window:      limit.Window,
				LimitType:   "ip",
			})
		}
	}

	if rlCtx.APIKeyID != "" {
		tier := rlCtx.APIKeyTier
		if tier == "" {
			tier = constants.TierFree
		}
		if limit, ok := table.APIKeyLimits(tier)[bucket]; ok {
			policies = append(policies, models.LimitPolicy{
				Dimension:   constants.DimensionAPIKey,
				Key:         fmt.Sprintf("api_key:%s:%s", rlCtx.APIKeyID, bucket),
				MaxRequests: limit.Requests,
				Window:      limit.Window,
				LimitType:   "api_key",
			})
		}
	}

	return policies
}
