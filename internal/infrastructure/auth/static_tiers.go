package auth

import (
	"context"

	"github.com/searchguard/searchguard/pkg/constants"
)

// StaticTierLookup resolves every identity to one fixed tier. Used when no
// subscription database is configured: requests still rate limit, just
// without tier differentiation.
type StaticTierLookup struct {
	Tier constants.Tier
}

// NewStaticTierLookup creates a lookup that always answers with tier,
// defaulting to free.
func NewStaticTierLookup(tier constants.Tier) StaticTierLookup {
	if tier == "" {
		tier = constants.TierFree
	}
	return StaticTierLookup{Tier: tier}
}

func (s StaticTierLookup) TierForUser(context.Context, string) (constants.Tier, error) {
	return s.Tier, nil
}

func (s StaticTierLookup) TierForAPIKey(context.Context, string) (constants.Tier, error) {
	return s.Tier, nil
}
