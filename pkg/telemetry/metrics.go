// Package telemetry owns the Prometheus metrics and OpenTelemetry tracing used
// across a comparison run.
package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "model_smith"

// Metrics is a set of collectors registered on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	comparisons   prometheus.Counter
	records       *prometheus.CounterVec
	analyses      *prometheus.CounterVec
	tensors       *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	statsDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		comparisons: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "comparisons_total",
			Help:      "Number of file pairs compared",
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "diff_records_total",
			Help:      "Diff records emitted by kind",
		}, []string{"kind"}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "analysis",
			Name:      "runs_total",
			Help:      "Analysis runs by capability and outcome (emitted, skipped, failed)",
		}, []string{"capability", "outcome"}),
		tensors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "stats",
			Name:      "tensors_total",
			Help:      "Tensors processed by the statistics engine by outcome",
		}, []string{"outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "stats",
			Name:      "cache_lookups_total",
			Help:      "Statistics cache lookups by result",
		}, []string{"result"}),
		statsDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "stats",
			Name:      "tensor_duration_seconds",
			Help:      "Time to compute statistics for one tensor",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		}),
	}
	reg.MustRegister(m.comparisons, m.records, m.analyses, m.tensors, m.cacheLookups, m.statsDuration)
	return m
}

func (m *Metrics) IncComparisons() {
	if m == nil {
		return
	}
	m.comparisons.Inc()
}

func (m *Metrics) ObserveRecord(kind string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveAnalysis(capability, outcome string) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(capability, outcome).Inc()
}

// AnalysisRuns exposes the analysis counter for callers that inspect it.
func (m *Metrics) AnalysisRuns() *prometheus.CounterVec {
	return m.analyses
}

func (m *Metrics) ObserveTensor(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.tensors.WithLabelValues(outcome).Inc()
	if outcome == "computed" {
		m.statsDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// WriteFile writes the registry in the text exposition format.
func (m *Metrics) WriteFile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
