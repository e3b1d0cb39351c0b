// Package constants defines shared constants and enumerated types for the
// SearchGuard rate-limiting service.
package constants

import "time"

// ================================================================================
// Service Identity
// ================================================================================

const (
	// ServiceName is the canonical service identifier used in logs, traces and metrics
	ServiceName = "searchguard"

	// ServiceVersion is the current service version
	ServiceVersion = "1.2.0"
)

// ================================================================================
// Rate Limit Dimensions
// ================================================================================

// RateLimitDimension identifies one independent axis of rate limiting.
type RateLimitDimension string

const (
	// DimensionGlobal applies fleet-wide per operation bucket
	DimensionGlobal RateLimitDimension = "global"

	// DimensionUser applies per authenticated user
	DimensionUser RateLimitDimension = "user"

	// DimensionSession applies per browser/device session
	DimensionSession RateLimitDimension = "session"

	// DimensionIP applies per client IP for anonymous traffic
	DimensionIP RateLimitDimension = "ip"

	// DimensionAPIKey applies per API credential
	DimensionAPIKey RateLimitDimension = "api_key"
)

// ================================================================================
// Operation Types and Buckets
// ================================================================================

// OperationType is the request classification derived from the matched route.
type OperationType string

const (
	OperationSearch    OperationType = "search"
	OperationSuggest   OperationType = "suggest"
	OperationAnalytics OperationType = "analytics"
	OperationCategory  OperationType = "category"
	OperationMultiType OperationType = "multi-type"
)

// OperationBucket is the shared quota bucket an operation type maps into.
// Related read endpoints deliberately share one budget.
type OperationBucket string

const (
	BucketSearch    OperationBucket = "search"
	BucketSuggest   OperationBucket = "suggest"
	BucketAnalytics OperationBucket = "analytics"
)

// Bucket maps an operation type to its quota bucket. Unknown types fall
// into the search bucket, the most conservative grouping.
func (t OperationType) Bucket() OperationBucket {
	switch t {
	case OperationSuggest:
		return BucketSuggest
	case OperationAnalytics:
		return BucketAnalytics
	default:
		return BucketSearch
	}
}

// ================================================================================
// User Tiers
// ================================================================================

// Tier is a named service level with its own quota ceilings.
type Tier string

const (
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// ================================================================================
// Block Types
// ================================================================================

// BlockType identifies the kind of identifier a temporary block applies to.
type BlockType string

const (
	BlockTypeUser    BlockType = "user"
	BlockTypeIP      BlockType = "ip"
	BlockTypeSession BlockType = "session"
)

// ================================================================================
// Redis Key Prefixes
// ================================================================================

const (
	// KeyPrefixRateLimit prefixes sliding-window counter keys
	KeyPrefixRateLimit = "ratelimit"

	// KeyPrefixBlocked prefixes temporary block records
	KeyPrefixBlocked = "blocked"

	// KeyPrefixViolations prefixes violation counters
	KeyPrefixViolations = "violations"

	// KeyPrefixAPIKeyUsage prefixes API key usage logs
	KeyPrefixAPIKeyUsage = "apikey_usage"
)

// ================================================================================
// Abuse Escalation Defaults
// ================================================================================

const (
	// ViolationThreshold is the violation count at which a temporary block is created
	ViolationThreshold = 5

	// ViolationWindow is the TTL of a violation counter
	ViolationWindow = time.Hour

	// BlockDurationStep is the per-violation block duration increment
	BlockDurationStep = 5 * time.Minute

	// MaxBlockDuration caps escalated block durations
	MaxBlockDuration = time.Hour
)

// ================================================================================
// Engine Defaults
// ================================================================================

const (
	// DefaultFallbackLimit is the advertised ceiling when the engine fails open
	DefaultFallbackLimit = 1000

	// DefaultCheckTimeout bounds a single store round-trip
	DefaultCheckTimeout = 500 * time.Millisecond

	// DefaultLatencyThreshold is the store latency above which load shedding engages
	DefaultLatencyThreshold = 100 * time.Millisecond

	// DefaultMemoryPressureThreshold is the store memory ratio above which load shedding engages
	DefaultMemoryPressureThreshold = 0.80

	// LoadShedFactor scales effective ceilings while the store is under pressure
	LoadShedFactor = 0.5

	// APIKeyUsageRetention is how long API key usage logs are kept
	APIKeyUsageRetention = 30 * 24 * time.Hour
)

// ================================================================================
// HTTP Headers
// ================================================================================

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRateLimitType      = "X-RateLimit-Type"
	HeaderRetryAfter         = "Retry-After"
	HeaderSessionID          = "X-Session-ID"
	HeaderAPIKey             = "X-API-Key"
	HeaderForwardedFor       = "X-Forwarded-For"
	HeaderRealIP             = "X-Real-IP"
	HeaderRequestID          = "X-Request-ID"
)

// ================================================================================
// Context Keys
// ================================================================================

// ContextKey is the type for values stored in a request context.
type ContextKey string

const (
	// ContextKeyTraceID carries the current trace identifier
	ContextKeyTraceID ContextKey = "trace_id"

	// ContextKeyRequestID carries the inbound request identifier
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeyRateLimitContext carries the assembled rate limit context
	ContextKeyRateLimitContext ContextKey = "ratelimit_context"
)

// ================================================================================
// Error Codes
// ================================================================================

// ErrorCode is a machine-readable error classification.
type ErrorCode string

// ================================================================================
// Log Levels
// ================================================================================

// LogLevel represents the severity level of log messages.
type LogLevel string

const (
	// LogLevelDebug is the most verbose logging level
	LogLevelDebug LogLevel = "debug"

	// LogLevelInfo is the standard informational logging level
	LogLevelInfo LogLevel = "info"

	// LogLevelWarn indicates potential issues
	LogLevelWarn LogLevel = "warn"

	// LogLevelError indicates errors that need attention
	LogLevelError LogLevel = "error"

	// LogLevelFatal indicates critical errors that cause service termination
	LogLevelFatal LogLevel = "fatal"
)
