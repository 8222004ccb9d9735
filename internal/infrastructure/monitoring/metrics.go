package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "riskguard"

// Metrics manages the Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	AssessmentsTotal   *prometheus.CounterVec
	AssessmentErrors   *prometheus.CounterVec
	AssessmentLatency  *prometheus.HistogramVec
	AssessmentScore    *prometheus.HistogramVec
	FactorLatency      *prometheus.HistogramVec
	FactorDegradations *prometheus.CounterVec
	UpstreamCalls      *prometheus.CounterVec
	UpstreamLatency    *prometheus.HistogramVec
	CacheAccess        *prometheus.CounterVec
	RateLimitHits      *prometheus.CounterVec
	DBQueryLatency     *prometheus.HistogramVec
	ProfileConflicts   prometheus.Counter
	FeedbackTotal      *prometheus.CounterVec
	RetentionPurged    prometheus.Counter

	HTTPRequests       *prometheus.CounterVec
	HTTPLatency        *prometheus.HistogramVec
	HTTPActiveRequests *prometheus.GaugeVec
}

// NewMetrics creates the Prometheus metrics and registers them on a dedicated registry,
// so tests can build as many instances as they need.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		AssessmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assessments_total",
				Help:      "Total number of completed risk assessments.",
			},
			[]string{"operation_type", "level", "degraded"},
		),
		AssessmentErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assessment_errors_total",
				Help:      "Total number of risk assessments that failed.",
			},
			[]string{"operation_type", "error_code"},
		),
		AssessmentLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "assessment_latency_seconds",
				Help:      "Latency of risk assessments.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation_type"},
		),
		AssessmentScore: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "assessment_score",
				Help:      "Distribution of risk scores.",
				Buckets:   prometheus.LinearBuckets(0, 10, 11),
			},
			[]string{"operation_type"},
		),
		FactorLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "factor_latency_seconds",
				Help:      "Latency of factor collectors.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5},
			},
			[]string{"factor"},
		),
		FactorDegradations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "factor_degradations_total",
				Help:      "Number of factor values replaced by their neutral default.",
			},
			[]string{"factor"},
		),
		UpstreamCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_calls_total",
				Help:      "Calls to external collaborators.",
			},
			[]string{"upstream", "result"},
		),
		UpstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_latency_seconds",
				Help:      "Latency of calls to external collaborators.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"upstream"},
		),
		CacheAccess: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_access_total",
				Help:      "Cache hits and misses.",
			},
			[]string{"cache", "result"},
		),
		RateLimitHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Total number of rate limit hits.",
			},
			[]string{"scope"},
		),
		DBQueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_latency_seconds",
				Help:      "Latency of database queries.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ProfileConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_conflicts_total",
			Help:      "Optimistic write conflicts on risk profiles.",
		}),
		FeedbackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feedback_total",
				Help:      "Applied assessment feedback.",
			},
			[]string{"verdict"},
		),
		RetentionPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_purged_total",
			Help:      "Assessment records removed by retention.",
		}),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status.",
			},
			[]string{"path", "method", "status"},
		),
		HTTPLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
		HTTPActiveRequests: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_active_requests",
				Help:      "In-flight HTTP requests.",
			},
			[]string{"path", "method"},
		),
	}

	m.registry.MustRegister(
		m.AssessmentsTotal, m.AssessmentErrors, m.AssessmentLatency, m.AssessmentScore,
		m.FactorLatency, m.FactorDegradations, m.UpstreamCalls, m.UpstreamLatency,
		m.CacheAccess, m.RateLimitHits, m.DBQueryLatency, m.ProfileConflicts,
		m.FeedbackTotal, m.RetentionPurged,
		m.HTTPRequests, m.HTTPLatency, m.HTTPActiveRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ActiveRequestsInc(path, method string) {
	m.HTTPActiveRequests.WithLabelValues(path, method).Inc()
}

func (m *Metrics) ActiveRequestsDec(path, method string) {
	m.HTTPActiveRequests.WithLabelValues(path, method).Dec()
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(path, method string, status int, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(path, method).Observe(duration.Seconds())
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

//Personal.AI order the ending
