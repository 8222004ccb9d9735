// Package service defines the interfaces and pure scoring logic of the risk domain.
package service

import (
	"time"
)

// Metrics defines the interface for collecting business metrics.
// This abstraction allows the application layer to remain independent of the specific monitoring implementation (e.g., Prometheus).
// Metrics 定义了收集业务指标的接口。
type Metrics interface {
	// RecordAssessment records a completed assessment.
	// RecordAssessment 记录一次完成的风险评估。
	RecordAssessment(operationType, level string, score float64, degraded bool, duration time.Duration)

	// RecordAssessmentError records an assessment that failed before producing a result.
	RecordAssessmentError(operationType, errorCode string)

	// RecordFactor records the outcome and latency of one factor collector.
	// RecordFactor 记录单个因子采集的结果与耗时。
	RecordFactor(factor string, degraded bool, duration time.Duration)

	// RecordUpstreamCall records a call to an external collaborator (geo, accounts, reputation).
	RecordUpstreamCall(upstream string, success bool, duration time.Duration)

	// RecordCacheAccess records a cache hit or miss.
	// RecordCacheAccess 记录缓存命中或未命中。
	RecordCacheAccess(cacheType string, hit bool)

	// RecordRateLimitHit records an event when a rate limit is triggered.
	RecordRateLimitHit(scope string)

	// RecordDBQuery records the duration of a database query.
	// RecordDBQuery 记录数据库查询的持续时间。
	RecordDBQuery(operation string, duration time.Duration)

	// RecordProfileConflict records a lost optimistic write on a risk profile.
	RecordProfileConflict()

	// RecordFeedback records applied analyst feedback.
	RecordFeedback(verdict string)

	// RecordRetentionPurge records how many records a retention sweep removed.
	RecordRetentionPurge(deleted int64)
}

// NoopMetrics discards all measurements.
type NoopMetrics struct{}

func (NoopMetrics) RecordAssessment(string, string, float64, bool, time.Duration) {}
func (NoopMetrics) RecordAssessmentError(string, string)                         {}
func (NoopMetrics) RecordFactor(string, bool, time.Duration)                     {}
func (NoopMetrics) RecordUpstreamCall(string, bool, time.Duration)               {}
func (NoopMetrics) RecordCacheAccess(string, bool)                               {}
func (NoopMetrics) RecordRateLimitHit(string)                                    {}
func (NoopMetrics) RecordDBQuery(string, time.Duration)                          {}
func (NoopMetrics) RecordProfileConflict()                                       {}
func (NoopMetrics) RecordFeedback(string)                                        {}
func (NoopMetrics) RecordRetentionPurge(int64)                                   {}
