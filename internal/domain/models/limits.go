package models

import (
	"fmt"
	"time"

	"github.com/searchguard/searchguard/pkg/constants"
	"github.com/searchguard/searchguard/pkg/errors"
)

// Limit is one quota ceiling over a window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// BucketLimits maps operation buckets to their limits. A missing bucket
// means the dimension is unlimited for that bucket.
type BucketLimits map[constants.OperationBucket]Limit

// LimitTable is the immutable tier-by-bucket quota configuration. A table
// is built once from configuration, validated, and replaced wholesale on
// administrative update; it is never mutated in place.
type LimitTable struct {
	Global    BucketLimits
	Anonymous BucketLimits
	Session   BucketLimits
	User      map[constants.Tier]BucketLimits
	APIKey    map[constants.Tier]BucketLimits
}

// Validate rejects tables containing non-positive windows. A zero ceiling
// is legal (deny-all); a zero window is not.
func (t *LimitTable) Validate() error {
	check := func(section string, limits BucketLimits) error {
		for bucket, l := range limits {
			if l.Window <= 0 {
				return errors.ErrInvalidConfig(
					fmt.Sprintf("%s.%s: window must be positive, got %s", section, bucket, l.Window),
				)
			}
		}
		return nil
	}

	if err := check("global", t.Global); err != nil {
		return err
	}
	if err := check("anonymous", t.Anonymous); err != nil {
		return err
	}
	if err := check("session", t.Session); err != nil {
		return err
	}
	for tier, limits := range t.User {
		if err := check("user."+string(tier), limits); err != nil {
			return err
		}
	}
	for tier, limits := range t.APIKey {
		if err := check("api_key."+string(tier), limits); err != nil {
			return err
		}
	}
	return nil
}

// UserLimits returns the per-bucket limits for a user tier, falling back
// to the free tier for unknown values.
func (t *LimitTable) UserLimits(tier constants.Tier) BucketLimits {
	if limits, ok := t.User[tier]; ok {
		return limits
	}
	return t.User[constants.TierFree]
}

// APIKeyLimits returns the per-bucket limits for a credential tier,
// falling back to the free tier for unknown values.
func (t *LimitTable) APIKeyLimits(tier constants.Tier) BucketLimits {
	if limits, ok := t.APIKey[tier]; ok {
		return limits
	}
	return t.APIKey[constants.TierFree]
}

// Scaled returns a copy of the table with every ceiling multiplied by
// factor, floored. Windows are unchanged. Used by the load governor for
// per-evaluation shedding; the original table is untouched.
func (t *LimitTable) Scaled(factor float64) *LimitTable {
	scale := func(limits BucketLimits) BucketLimits {
		out := make(BucketLimits, len(limits))
		for bucket, l := range limits {
			l.Requests = int(float64(l.Requests) * factor)
			out[bucket] = l
		}
		return out
	}
	scaleTiers := func(tiers map[constants.Tier]BucketLimits) map[constants.Tier]BucketLimits {
		out := make(map[constants.Tier]BucketLimits, len(tiers))
		for tier, limits := range tiers {
			out[tier] = scale(limits)
		}
		return out
	}

	return &LimitTable{
		Global:    scale(t.Global),
		Anonymous: scale(t.Anonymous),
		Session:   scale(t.Session),
		User:      scaleTiers(t.User),
		APIKey:    scaleTiers(t.APIKey),
	}
}
