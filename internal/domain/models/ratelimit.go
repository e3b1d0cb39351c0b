// Package models defines the domain model for rate limiting and abuse
// mitigation.
package models

import (
	"time"

	"github.com/searchguard/searchguard/pkg/constants"
)

// ================================================================================
// Request Context
// ================================================================================

// RateLimitContext is the per-request descriptor the engine evaluates.
// It is assembled once at the transport boundary and consumed by value.
type RateLimitContext struct {
	UserID          string
	SessionID       string
	IPAddress       string
	UserAgent       string
	Endpoint        string
	OperationType   constants.OperationType
	UserTier        constants.Tier
	IsAuthenticated bool

	// API credential caller, resolved independently of user tiers.
	APIKeyID   string
	APIKeyTier constants.Tier
}

// Normalize fills defaults and enforces the identity invariant: an
// authenticated context without a user id is treated as anonymous rather
// than trusted.
func (c RateLimitContext) Normalize() RateLimitContext {
	if c.IPAddress == "" {
		c.IPAddress = "unknown"
	}
	if c.IsAuthenticated && c.UserID == "" {
		c.IsAuthenticated = false
	}
	if c.IsAuthenticated && c.UserTier == "" {
		c.UserTier = constants.TierFree
	}
	return c
}

// Identifier is one blockable identity attached to a request.
type Identifier struct {
	Type  constants.BlockType
	Value string
}

// Identifiers returns every blockable identity present on the context,
// most specific first.
func (c RateLimitContext) Identifiers() []Identifier {
	ids := make([]Identifier, 0, 3)
	if c.UserID != "" {
		ids = append(ids, Identifier{Type: constants.BlockTypeUser, Value: c.UserID})
	}
	if c.SessionID != "" {
		ids = append(ids, Identifier{Type: constants.BlockTypeSession, Value: c.SessionID})
	}
	if c.IPAddress != "" {
		ids = append(ids, Identifier{Type: constants.BlockTypeIP, Value: c.IPAddress})
	}
	return ids
}

// PrimaryIdentifier returns the most specific identity for violation
// accounting: user over session over IP.
func (c RateLimitContext) PrimaryIdentifier() Identifier {
	if c.UserID != "" {
		return Identifier{Type: constants.BlockTypeUser, Value: c.UserID}
	}
	if c.SessionID != "" {
		return Identifier{Type: constants.BlockTypeSession, Value: c.SessionID}
	}
	return Identifier{Type: constants.BlockTypeIP, Value: c.IPAddress}
}

// ================================================================================
// Limit Policy
// ================================================================================

// LimitPolicy is one concrete (key, ceiling, window) check resolved for a
// request. Policies are constructed per request and never persisted.
type LimitPolicy struct {
	Dimension   constants.RateLimitDimension
	Key         string
	MaxRequests int
	Window      time.Duration
	LimitType   string
}

// ================================================================================
// Check Result
// ================================================================================

// RateLimitResult is the outcome of a single sliding-window check, or of a
// whole evaluation after reconciliation.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
	LimitType  string
	LimitValue int
}

// ================================================================================
// Decision
// ================================================================================

// Decision is the engine's final verdict. The fallback and block branches
// are explicit so that fail-open and abuse escalation remain deliberate,
// testable paths rather than side effects of error handling.
type Decision struct {
	Result RateLimitResult

	// Block is set when the identity was rejected by a pre-existing
	// temporary block; quota evaluation was skipped entirely.
	Block *BlockRecord

	// FallbackUsed marks a decision produced by failing open on store
	// failure rather than by a real quota check.
	FallbackUsed bool
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool {
	return d.Block == nil && d.Result.Allowed
}

// AllowedDecision wraps an allowing check result.
func AllowedDecision(result RateLimitResult) Decision {
	return Decision{Result: result}
}

// DeniedDecision wraps a denying check result.
func DeniedDecision(result RateLimitResult) Decision {
	return Decision{Result: result}
}

// BlockedDecision rejects a request because of a temporary block.
func BlockedDecision(block BlockRecord) Decision {
	remaining := time.Until(block.ExpiresAt)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Block: &block,
		Result: RateLimitResult{
			Allowed:    false,
			Remaining:  0,
			ResetTime:  block.ExpiresAt,
			RetryAfter: remaining,
			LimitType:  "blocked-" + string(block.Type),
		},
	}
}

// FallbackDecision allows a request with a conservative advertised ceiling
// after a store failure.
func FallbackDecision(fallbackLimit int, window time.Duration) Decision {
	return Decision{
		FallbackUsed: true,
		Result: RateLimitResult{
			Allowed:    true,
			Remaining:  fallbackLimit,
			ResetTime:  time.Now().Add(window),
			LimitType:  "fallback",
			LimitValue: fallbackLimit,
		},
	}
}
