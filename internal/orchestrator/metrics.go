package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fyrsmithlabs/swarmd/internal/swarm"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the pipeline.
type Metrics struct {
	TasksTotal            *prometheus.CounterVec
	RefinementCyclesTotal prometheus.Counter
	VetoesTotal           *prometheus.CounterVec
	GateDuration          *prometheus.HistogramVec
	SandboxRunDuration    prometheus.Histogram
	TransitionsTotal      *prometheus.CounterVec
}

// NewMetrics creates and registers the pipeline metrics. Registration
// happens once per process; later calls return the same set.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			TasksTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "swarmd_tasks_total",
					Help: "Total number of lineages finished, by disposition",
				},
				[]string{"disposition"}, // "accepted" or "rejected"
			),

			RefinementCyclesTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "swarmd_refinement_cycles_total",
					Help: "Total number of refinement cycles across all lineages",
				},
			),

			VetoesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "swarmd_vetoes_total",
					Help: "Total number of vetoes issued, by role and severity",
				},
				[]string{"role", "severity"},
			),

			GateDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "swarmd_gate_duration_seconds",
					Help:    "Duration of squad evaluations, by squad",
					Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
				},
				[]string{"squad"},
			),

			SandboxRunDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "swarmd_sandbox_run_duration_seconds",
					Help:    "Duration of sandbox validation runs",
					Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
				},
			),

			TransitionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "swarmd_state_transitions_total",
					Help: "Total number of pipeline state transitions",
				},
				[]string{"from", "to"},
			),
		}
	})

	return globalMetrics
}

// RecordVerdicts counts the vetoes in a squad's verdict set.
func (m *Metrics) RecordVerdicts(verdicts []swarm.Verdict) {
	for _, v := range verdicts {
		if v.Kind == swarm.VerdictVeto {
			m.VetoesTotal.WithLabelValues(string(v.Role), v.Severity.String()).Inc()
		}
	}
}

// RecordTransition counts one state transition.
func (m *Metrics) RecordTransition(from, to State) {
	m.TransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

// RecordFinished counts a finished lineage.
func (m *Metrics) RecordFinished(disposition string) {
	m.TasksTotal.WithLabelValues(disposition).Inc()
}
