package models

import (
	"time"

	"github.com/searchguard/searchguard/pkg/constants"
)

// BlockRecord is a temporary block applied to a repeat offender. Records
// are stored with a TTL equal to Duration so expiry is self-cleaning;
// deletion is only needed for early administrative release.
type BlockRecord struct {
	Identifier string              `json:"identifier"`
	Type       constants.BlockType `json:"type"`
	Reason     string              `json:"reason"`
	BlockedAt  time.Time           `json:"blocked_at"`
	Duration   time.Duration       `json:"duration"`
	ExpiresAt  time.Time           `json:"expires_at"`
}

// Active reports whether the block is still in effect at now.
func (b BlockRecord) Active(now time.Time) bool {
	return now.Before(b.ExpiresAt)
}

// EscalationDuration computes the block duration for a violation count:
// five minutes per violation, capped at one hour.
func EscalationDuration(violations int64) time.Duration {
	d := time.Duration(violations) * constants.BlockDurationStep
	if d > constants.MaxBlockDuration {
		d = constants.MaxBlockDuration
	}
	return d
}

// ================================================================================
// Abuse Events
// ================================================================================

// AbuseEventType classifies audit events emitted by the escalation tracker.
type AbuseEventType string

const (
	AbuseEventBlockCreated AbuseEventType = "block_created"
	AbuseEventBlockRemoved AbuseEventType = "block_removed"
	AbuseEventLimitsReset  AbuseEventType = "limits_reset"
)

// AbuseEvent is the audit record published when abuse mitigation state
// changes.
type AbuseEvent struct {
	EventType  AbuseEventType      `json:"event_type"`
	Identifier string              `json:"identifier"`
	Type       constants.BlockType `json:"type"`
	Reason     string              `json:"reason"`
	Violations int64               `json:"violations,omitempty"`
	Duration   time.Duration       `json:"duration,omitempty"`
	OccurredAt time.Time           `json:"occurred_at"`
}
