package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Steward
type Metrics struct {
	// Governance metrics
	TriggersIntercepted *prometheus.CounterVec
	TriggersBlocked     *prometheus.CounterVec
	ProposalsCreated    *prometheus.CounterVec
	SupervisionSessions prometheus.Counter
	CacheHits           prometheus.Counter
	CacheMisses         prometheus.Counter

	// Workflow engine metrics
	WorkflowExecutions *prometheus.CounterVec
	WorkflowDuration   *prometheus.HistogramVec
	StepsTotal         *prometheus.CounterVec
	StepDuration       *prometheus.HistogramVec
	StepRetries        *prometheus.CounterVec
	StepsInflight      prometheus.Gauge
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			TriggersIntercepted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "steward_triggers_intercepted_total",
					Help: "Total number of triggers intercepted",
				},
				[]string{"source", "decision"},
			),
			TriggersBlocked: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "steward_triggers_blocked_total",
					Help: "Total number of triggers blocked (training or proposal routing)",
				},
				[]string{"maturity"},
			),
			ProposalsCreated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "steward_proposals_created_total",
					Help: "Total number of proposals created",
				},
				[]string{"proposal_type"},
			),
			SupervisionSessions: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "steward_supervision_sessions_total",
					Help: "Total number of supervision sessions created",
				},
			),
			CacheHits: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "steward_governance_cache_hits_total",
					Help: "Total number of governance cache hits",
				},
			),
			CacheMisses: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "steward_governance_cache_misses_total",
					Help: "Total number of governance cache misses",
				},
			),

			WorkflowExecutions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "steward_workflow_executions_total",
					Help: "Total number of workflow executions by terminal status",
				},
				[]string{"status"},
			),
			WorkflowDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "steward_workflow_duration_seconds",
					Help:    "Workflow execution duration in seconds",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to 3.4min
				},
				[]string{"workflow_id"},
			),
			StepsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "steward_steps_total",
					Help: "Total number of steps executed by type and result",
				},
				[]string{"step_type", "result"},
			),
			StepDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "steward_step_duration_seconds",
					Help:    "Step execution duration in seconds",
					Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to 20s
				},
				[]string{"step_type"},
			),
			StepRetries: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "steward_step_retries_total",
					Help: "Total number of step retry attempts",
				},
				[]string{"step_type"},
			),
			StepsInflight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "steward_steps_inflight",
					Help: "Number of steps currently executing",
				},
			),
		}
	})

	return sharedMetrics
}

// RecordDecision records an interception outcome
func (m *Metrics) RecordDecision(source, decision, maturity string, blocked bool) {
	m.TriggersIntercepted.WithLabelValues(source, decision).Inc()
	if blocked {
		m.TriggersBlocked.WithLabelValues(maturity).Inc()
	}
}

// RecordStep records a completed step
func (m *Metrics) RecordStep(stepType, result string, seconds float64) {
	m.StepsTotal.WithLabelValues(stepType, result).Inc()
	m.StepDuration.WithLabelValues(stepType).Observe(seconds)
}
