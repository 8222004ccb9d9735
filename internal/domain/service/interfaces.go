package service

import (
	"context"
	"time"

	"github.com/turtacn/riskguard/internal/domain/models"
)

//go:generate mockery --name AccountDirectory --output mocks --outpkg mocks
// AccountDirectory answers whether a user exists in the identity system of record.
// AccountDirectory 用于查询用户是否存在于身份系统中。
type AccountDirectory interface {
	// UserExists returns false with a nil error for unknown users.
	// Transport failures are returned as errors so callers can decide to fail open.
	// UserExists 对未知用户返回 false 且 error 为 nil。
	UserExists(ctx context.Context, userID string) (bool, error)
}

//go:generate mockery --name GeoLocator --output mocks --outpkg mocks
// GeoLocator resolves an IP address to a location.
// GeoLocator 将 IP 地址解析为地理位置。
type GeoLocator interface {
	// Locate returns the location of ip. Private and loopback addresses return an error.
	// Locate 返回 IP 的地理位置。
	Locate(ctx context.Context, ip string) (*models.GeoLocation, error)
}

// DeviceFingerprinter derives a stable device identifier from the operation context.
// DeviceFingerprinter 根据操作上下文生成稳定的设备指纹。
type DeviceFingerprinter interface {
	// Fingerprint returns "" when the context carries no usable device material.
	Fingerprint(op *models.OperationContext) string
}

// BehaviorAnalyzer scores how unusual an operation is compared with the user's history.
// BehaviorAnalyzer 根据用户历史行为评估操作的异常程度。
type BehaviorAnalyzer interface {
	// Analyze returns a value in [0,1] and a short human-readable explanation.
	Analyze(op *models.OperationContext, profile *models.RiskProfile) (float64, string)
}

//go:generate mockery --name IPReputationProvider --output mocks --outpkg mocks
// IPReputationProvider reports threat intelligence about an IP address.
// IPReputationProvider 提供 IP 地址的威胁情报。
type IPReputationProvider interface {
	Lookup(ctx context.Context, ip string) (*models.IPReputation, error)
}

// IPBlocklist stores operator-managed blocked addresses and networks.
// IPBlocklist 存储运维人员维护的封禁地址和网段。
type IPBlocklist interface {
	// IsBlocked reports whether ip equals a blocked address or falls within a blocked CIDR.
	IsBlocked(ctx context.Context, ip string) (bool, error)
	// Add blocks an address or CIDR.
	Add(ctx context.Context, entry string) error
	// Remove unblocks an address or CIDR.
	Remove(ctx context.Context, entry string) error
	// List returns all entries.
	List(ctx context.Context) ([]string, error)
}

//go:generate mockery --name VelocityTracker --output mocks --outpkg mocks
// VelocityTracker counts a user's recent assessments over a sliding window.
// VelocityTracker 在滑动窗口内统计用户最近的评估次数。
type VelocityTracker interface {
	// Record registers one assessment at the given time and drops entries older than
	// retention, which must cover the largest window later passed to Count.
	Record(ctx context.Context, userID string, at time.Time, retention time.Duration) error
	// Count returns the number of assessments in (now-window, now].
	Count(ctx context.Context, userID string, window time.Duration, now time.Time) (int, error)
}

//go:generate mockery --name PolicyEngine --output mocks --outpkg mocks
// PolicyEngine maps an operation type and risk level to recommended actions.
// PolicyEngine 根据操作类型和风险等级给出推荐动作。
type PolicyEngine interface {
	// Recommend never returns an empty list. For a fixed operation type the severity
	// of the result never decreases as the level increases.
	Recommend(ctx context.Context, operationType string, level models.RiskLevel) models.Actions
}

//go:generate mockery --name AuditService --output mocks --outpkg mocks
// AuditService defines the interface for logging security-sensitive audit events.
// AuditService 定义了用于记录安全敏感审计事件的接口。
type AuditService interface {
	// LogEvent records an audit event.
	// LogEvent 记录审计事件。
	LogEvent(ctx context.Context, event *models.AuditEvent) error
}

// RateLimitDimension defines the logical type of rate limiting.
// RateLimitDimension 定义了速率限制的逻辑类型。
type RateLimitDimension string

const (
	RateLimitDimensionClient RateLimitDimension = "client" // Per API caller / 每个调用方的限制
	RateLimitDimensionIP     RateLimitDimension = "ip"     // Per-IP limit / 每个 IP 的限制
	RateLimitDimensionGlobal RateLimitDimension = "global" // Global system limit / 全局系统限制
)

// RateLimitService defines the interface for rate limiting operations.
// RateLimitService 定义了速率限制操作的接口。
type RateLimitService interface {
	// Allow checks if a request is allowed under the rate limit policy for a given dimension and key.
	// It returns whether the request is allowed, the number of remaining requests, and the time when the limit resets.
	// Allow 检查在给定维度和密钥的速率限制策略下是否允许请求。
	Allow(ctx context.Context, dimension RateLimitDimension, key string) (allowed bool, remaining int, resetAt time.Time, err error)
}
