// Package service defines the domain service interfaces for rate limiting
// and abuse mitigation, plus the pure policy resolver. Implementations live
// under internal/infrastructure.
package service

import (
	"context"
	"time"

	"github.com/searchguard/searchguard/internal/domain/models"
	"github.com/searchguard/searchguard/pkg/constants"
)

// WindowLimiter is the sliding-window rate limiting primitive. It knows
// mechanism only; policy is the resolver's concern.
type WindowLimiter interface {
	// Check atomically evaluates and records one request against a policy.
	// The returned result is authoritative for this attempt: a denied check
	// leaves no trace of the attempt in the store.
	Check(ctx context.Context, policy models.LimitPolicy) (models.RateLimitResult, error)

	// Reset deletes every counter for an identifier within a dimension.
	Reset(ctx context.Context, dimension constants.RateLimitDimension, identifier string) error

	// Usage reports current counts per operation bucket for an identifier.
	Usage(ctx context.Context, dimension constants.RateLimitDimension, identifier string) (map[constants.OperationBucket]int64, error)
}

// BlockStore persists temporary blocks and violation counters.
type BlockStore interface {
	// Get returns the active block for an identifier, or nil.
	Get(ctx context.Context, id models.Identifier) (*models.BlockRecord, error)

	// Put stores a block with a TTL equal to its duration.
	Put(ctx context.Context, block models.BlockRecord) error

	// Remove releases a block before its natural expiry.
	Remove(ctx context.Context, id models.Identifier) error

	// RecordViolation increments the violation counter for an identifier
	// and returns the new count. The counter carries a fixed TTL so that
	// sustained good behaviour resets exposure.
	RecordViolation(ctx context.Context, id models.Identifier) (int64, error)
}

// LoadGovernor samples store health and yields the ceiling scale factor
// for the current evaluation: 1.0 under normal load, less when shedding.
type LoadGovernor interface {
	Factor(ctx context.Context) float64
}

// TierLookup resolves subscription tiers from external collaborators.
type TierLookup interface {
	TierForUser(ctx context.Context, userID string) (constants.Tier, error)
	TierForAPIKey(ctx context.Context, apiKeyID string) (constants.Tier, error)
}

// ContextEnricher resolves bearer credentials into identity and tier.
// Enrichment is purely additive: any failure returns the context unchanged
// and must never reject a request.
type ContextEnricher interface {
	Enrich(ctx context.Context, rlCtx models.RateLimitContext, bearerToken string) models.RateLimitContext
}

// AuditService publishes abuse mitigation events to the audit stream.
type AuditService interface {
	Publish(ctx context.Context, event models.AbuseEvent) error
	Close() error
}

// RateLimitEngine is the single decision surface consumed by transports.
type RateLimitEngine interface {
	// Evaluate runs every applicable dimension check and returns one
	// reconciled decision. Infrastructure failures are absorbed into an
	// allowing fallback decision; Evaluate itself never fails.
	Evaluate(ctx context.Context, rlCtx models.RateLimitContext) models.Decision

	// EvaluateAndReject wraps Evaluate with HTTP-429 semantics: a denied
	// decision comes back as a typed rejection error carrying retry
	// metadata.
	EvaluateAndReject(ctx context.Context, rlCtx models.RateLimitContext) (models.RateLimitResult, error)

	// ResetLimits deletes the quota counters for any of the supplied
	// identifiers (empty values are skipped).
	ResetLimits(ctx context.Context, userID, sessionID, ipAddress string) error

	// Usage reports current counter values for any of the supplied
	// identifiers.
	Usage(ctx context.Context, userID, sessionID, ipAddress string) (map[string]int64, error)

	// Block applies a temporary block outside the escalation path.
	Block(ctx context.Context, id models.Identifier, duration time.Duration, reason string) error

	// Unblock releases a temporary block early.
	Unblock(ctx context.Context, id models.Identifier) error

	// BlockInfo returns the active block for an identifier, or nil.
	BlockInfo(ctx context.Context, id models.Identifier) (*models.BlockRecord, error)

	// UpdateLimits atomically replaces the policy table.
	UpdateLimits(table *models.LimitTable)

	// Limits returns the current policy table snapshot.
	Limits() *models.LimitTable
}
