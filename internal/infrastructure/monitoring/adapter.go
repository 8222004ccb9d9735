// Package monitoring provides adapters to connect the domain's metrics interface with a concrete implementation like Prometheus.
package monitoring

import (
	"strconv"
	"time"

	"github.com/turtacn/riskguard/internal/domain/service"
)

// MetricsAdapter implements the domain's service.Metrics interface, sending metrics to a Prometheus backend.
// MetricsAdapter 实现了域的 service.Metrics 接口，将指标发送到 Prometheus 后端。
type MetricsAdapter struct {
	metrics *Metrics
}

// NewMetricsAdapter creates a new adapter that wraps a concrete Prometheus Metrics object,
// satisfying the domain's Metrics interface.
// NewMetricsAdapter 创建一个包装具体 Prometheus Metrics 对象的新适配器。
func NewMetricsAdapter(metrics *Metrics) service.Metrics {
	return &MetricsAdapter{metrics: metrics}
}

// RecordAssessment 记录一次完成的风险评估。
func (a *MetricsAdapter) RecordAssessment(operationType, level string, score float64, degraded bool, duration time.Duration) {
	a.metrics.AssessmentsTotal.WithLabelValues(operationType, level, strconv.FormatBool(degraded)).Inc()
	a.metrics.AssessmentLatency.WithLabelValues(operationType).Observe(duration.Seconds())
	a.metrics.AssessmentScore.WithLabelValues(operationType).Observe(score)
}

func (a *MetricsAdapter) RecordAssessmentError(operationType, errorCode string) {
	a.metrics.AssessmentErrors.WithLabelValues(operationType, errorCode).Inc()
}

// RecordFactor 记录因子采集耗时，降级时额外计数。
func (a *MetricsAdapter) RecordFactor(factor string, degraded bool, duration time.Duration) {
	a.metrics.FactorLatency.WithLabelValues(factor).Observe(duration.Seconds())
	if degraded {
		a.metrics.FactorDegradations.WithLabelValues(factor).Inc()
	}
}

func (a *MetricsAdapter) RecordUpstreamCall(upstream string, success bool, duration time.Duration) {
	a.metrics.UpstreamCalls.WithLabelValues(upstream, resultLabel(success)).Inc()
	a.metrics.UpstreamLatency.WithLabelValues(upstream).Observe(duration.Seconds())
}

// RecordCacheAccess delegates the call to the underlying Prometheus Metrics object.
// RecordCacheAccess 将调用委托给底层的 Prometheus Metrics 对象。
func (a *MetricsAdapter) RecordCacheAccess(cacheType string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	a.metrics.CacheAccess.WithLabelValues(cacheType, result).Inc()
}

func (a *MetricsAdapter) RecordRateLimitHit(scope string) {
	a.metrics.RateLimitHits.WithLabelValues(scope).Inc()
}

// RecordDBQuery delegates the call to the underlying Prometheus Metrics object.
// RecordDBQuery 将调用委托给底层的 Prometheus Metrics 对象。
func (a *MetricsAdapter) RecordDBQuery(operation string, duration time.Duration) {
	a.metrics.DBQueryLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

func (a *MetricsAdapter) RecordProfileConflict() {
	a.metrics.ProfileConflicts.Inc()
}

func (a *MetricsAdapter) RecordFeedback(verdict string) {
	a.metrics.FeedbackTotal.WithLabelValues(verdict).Inc()
}

func (a *MetricsAdapter) RecordRetentionPurge(deleted int64) {
	a.metrics.RetentionPurged.Add(float64(deleted))
}
