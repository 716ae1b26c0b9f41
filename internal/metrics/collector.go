// Package metrics provides Prometheus instrumentation for the audit
// pipeline. Internal to this module.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds every Prometheus metric emitted by the core.
type Collector struct {
	// Provider / LLM call metrics.
	providerRequestsTotal   *prometheus.CounterVec
	providerRequestDuration *prometheus.HistogramVec
	providerTokensUsed      *prometheus.CounterVec
	rateLimiterRejections   *prometheus.CounterVec
	circuitBreakerState     *prometheus.GaugeVec

	// Phase metrics.
	phaseDuration  *prometheus.HistogramVec
	phaseCellsDone *prometheus.CounterVec

	// Gate occupancy.
	orchestratorInFlight prometheus.Gauge
	analyzerInFlight     prometheus.Gauge

	// Audit outcomes.
	auditsTotal    *prometheus.CounterVec
	auditScore     prometheus.Histogram
	domainFetchHit *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers and returns a Collector under the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.providerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_requests_total",
		Help:      "Total number of LLM provider requests",
	}, []string{"provider", "status"})

	c.providerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "provider_request_duration_seconds",
		Help:      "LLM provider request duration in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"provider"})

	c.providerTokensUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_tokens_used_total",
		Help:      "Total tokens used per provider",
	}, []string{"provider", "type"})

	c.rateLimiterRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limiter_rejections_total",
		Help:      "Total number of calls blocked by the token-bucket limiter",
	}, []string{"provider"})

	c.circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per provider (0=closed,1=open,2=half-open)",
	}, []string{"provider"})

	c.phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "phase_duration_seconds",
		Help:      "Audit phase duration in seconds",
		Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"phase"})

	c.phaseCellsDone = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "phase_cells_completed_total",
		Help:      "Total units of work completed per phase",
	}, []string{"phase", "status"})

	c.orchestratorInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "orchestrator_in_flight",
		Help:      "Current number of in-flight orchestrator cells",
	})

	c.analyzerInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "analyzer_in_flight",
		Help:      "Current number of in-flight analyses",
	})

	c.auditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audits_total",
		Help:      "Total audits processed by terminal status",
	}, []string{"status"})

	c.auditScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "audit_overall_score",
		Help:      "Overall score distribution of completed audits",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})

	c.domainFetchHit = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "domain_fetch_cache_total",
		Help:      "Domain-fetch cache hits/misses",
	}, []string{"result"})

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordProviderRequest records one adapter call's outcome and latency.
func (c *Collector) RecordProviderRequest(provider, status string, duration time.Duration, inputTokens, outputTokens int) {
	c.providerRequestsTotal.WithLabelValues(provider, status).Inc()
	c.providerRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
	c.providerTokensUsed.WithLabelValues(provider, "input").Add(float64(inputTokens))
	c.providerTokensUsed.WithLabelValues(provider, "output").Add(float64(outputTokens))
}

// RecordRateLimiterRejection records a call blocked by the token bucket.
func (c *Collector) RecordRateLimiterRejection(provider string) {
	c.rateLimiterRejections.WithLabelValues(provider).Inc()
}

// SetCircuitBreakerState reports the current breaker state (0/1/2) for a provider.
func (c *Collector) SetCircuitBreakerState(provider string, state int) {
	c.circuitBreakerState.WithLabelValues(provider).Set(float64(state))
}

// RecordPhaseDuration records how long one audit phase took.
func (c *Collector) RecordPhaseDuration(phase string, duration time.Duration) {
	c.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordPhaseCell records completion of one unit of phase work (a cell or an analysis).
func (c *Collector) RecordPhaseCell(phase, status string) {
	c.phaseCellsDone.WithLabelValues(phase, status).Inc()
}

// SetOrchestratorInFlight reports current orchestrator gate occupancy.
func (c *Collector) SetOrchestratorInFlight(n int) { c.orchestratorInFlight.Set(float64(n)) }

// SetAnalyzerInFlight reports current analyzer gate occupancy.
func (c *Collector) SetAnalyzerInFlight(n int) { c.analyzerInFlight.Set(float64(n)) }

// RecordAuditOutcome records a terminal audit status and, for completed
// audits, its overall score.
func (c *Collector) RecordAuditOutcome(status string, overallScore *float64) {
	c.auditsTotal.WithLabelValues(status).Inc()
	if overallScore != nil {
		c.auditScore.Observe(*overallScore)
	}
}

// RecordDomainFetch records a domain-fetch cache hit or miss.
func (c *Collector) RecordDomainFetch(result string) {
	c.domainFetchHit.WithLabelValues(result).Inc()
}
