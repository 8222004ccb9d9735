// Package constants defines system-wide constants for the riskguard service.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Service Identity
// ================================================================================

const (
	// ServiceName is reported to tracing and used as the metrics namespace.
	ServiceName = "riskguard"

	// EnvPrefix is the prefix for environment variable overrides (RISKGUARD_SERVER_PORT, ...).
	EnvPrefix = "RISKGUARD"
)

// ================================================================================
// Context Keys
// ================================================================================

// ContextKey is the type used for values stored in a context.Context.
type ContextKey string

const (
	// ContextKeyRequestID carries the request correlation identifier
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeyUserID carries the user whose operation is being assessed
	ContextKeyUserID ContextKey = "user_id"

	// ContextKeyTraceID carries the OpenTelemetry trace identifier
	ContextKeyTraceID ContextKey = "trace_id"

	// ContextKeyClaims carries verified JWT claims of the API caller
	ContextKeyClaims ContextKey = "claims"

	// ContextKeyActor carries the subject of the authenticated API caller
	ContextKeyActor ContextKey = "actor"

	// ContextKeyLogger carries a request-scoped logger
	ContextKeyLogger ContextKey = "logger"
)

// ================================================================================
// Error Codes
// ================================================================================

// ErrorCode is a machine-readable error identifier returned to API callers.
type ErrorCode string

const (
	ErrCodeInvalidRequest     ErrorCode = "invalid_request"
	ErrCodeNotFound           ErrorCode = "not_found"
	ErrCodeUnauthorized       ErrorCode = "unauthorized"
	ErrCodeRateLimitExceeded  ErrorCode = "rate_limit_exceeded"
	ErrCodeServiceUnavailable ErrorCode = "service_unavailable"
	ErrCodeConflict           ErrorCode = "conflict"
	ErrCodeServerError        ErrorCode = "server_error"
)

// ================================================================================
// Audit Event Types
// ================================================================================

// AuditEventType identifies the kind of audit record emitted by the service.
type AuditEventType string

const (
	// AuditEventRiskAssessed is emitted for every completed assessment
	AuditEventRiskAssessed AuditEventType = "risk.assessed"

	// AuditEventHighRisk is emitted in addition for high and critical assessments
	AuditEventHighRisk AuditEventType = "risk.high_risk_detected"

	// AuditEventFeedbackApplied is emitted when analyst feedback changes a profile
	AuditEventFeedbackApplied AuditEventType = "risk.feedback_applied"

	// AuditEventFactorDegraded is emitted when a factor fell back to its default value
	AuditEventFactorDegraded AuditEventType = "risk.factor_degraded"
)

// ================================================================================
// Redis Key Prefixes
// ================================================================================

const (
	// RedisKeyVelocity prefixes the per-user sorted set of assessment timestamps
	RedisKeyVelocity = "riskguard:velocity:"

	// RedisKeyBlocklist is the set of blocklisted IPs and CIDRs
	RedisKeyBlocklist = "riskguard:ip:blocklist"

	// RedisKeyReputation prefixes cached IP reputation lookups
	RedisKeyReputation = "riskguard:ip:reputation:"

	// RedisKeyRateLimit prefixes API rate-limit buckets
	RedisKeyRateLimit = "riskguard:ratelimit:"
)

// ================================================================================
// Defaults
// ================================================================================

const (
	// DefaultFactorTimeout bounds a single factor collector
	DefaultFactorTimeout = 250 * time.Millisecond

	// DefaultGeoCacheTTL is the L1 lifetime of a geolocation lookup
	DefaultGeoCacheTTL = 1 * time.Hour

	// DefaultReputationCacheTTL is the Redis lifetime of an IP reputation lookup
	DefaultReputationCacheTTL = 15 * time.Minute

	// DefaultVelocityWindow is the sliding window of the operation velocity factor
	DefaultVelocityWindow = 5 * time.Minute

	// DefaultAssessmentListLimit is used when a caller does not pass a limit
	DefaultAssessmentListLimit = 20

	// MaxAssessmentListLimit caps history queries
	MaxAssessmentListLimit = 100

	// ProfileUpdateRetries bounds optimistic-concurrency retries on profile writes
	ProfileUpdateRetries = 3

	// DefaultRateLimitPerMinute applies when rate_limit.default_rpm is unset
	DefaultRateLimitPerMinute = 600
)

// ================================================================================
// HTTP Headers
// ================================================================================

const (
	HeaderRequestID          = "X-Request-ID"
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRetryAfter         = "Retry-After"
)
