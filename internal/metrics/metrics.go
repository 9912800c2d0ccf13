// Package metrics exposes run counters on a private Prometheus registry. The
// CLI runs once and exits, so metrics are exported to a textfile for a node
// exporter to pick up rather than served over HTTP.
package metrics

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for autopilot runs. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Unit outcomes by unit and status
	UnitOutcome *prometheus.CounterVec

	// Wall time spent inside each unit
	UnitDuration *prometheus.HistogramVec

	// Merge steps skipped by unit and reason
	MergeSkipped *prometheus.CounterVec

	// Override rules that fired
	OverrideApplied *prometheus.CounterVec

	// Completed runs by final status
	RunOutcome *prometheus.CounterVec
}

// New creates a Metrics instance registered on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		UnitOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_unit_outcomes_total",
			Help: "Unit invocations by unit and outcome status",
		}, []string{"unit", "status"}),

		UnitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autopilot_unit_duration_seconds",
			Help:    "Duration of a single unit invocation",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"unit"}),

		MergeSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_merge_skipped_total",
			Help: "Unit outputs that were not folded into the dossier",
		}, []string{"unit", "reason"}),

		OverrideApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_override_applied_total",
			Help: "Post-merge override rules that fired",
		}, []string{"rule"}),

		RunOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_runs_total",
			Help: "Completed runs by final status",
		}, []string{"status"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveUnit records one unit invocation.
func (m *Metrics) ObserveUnit(unit, status string, d time.Duration) {
	if m != nil {
		m.UnitOutcome.WithLabelValues(unit, status).Inc()
		m.UnitDuration.WithLabelValues(unit).Observe(d.Seconds())
	}
}

// IncrementMergeSkipped records a unit output left out of the dossier.
func (m *Metrics) IncrementMergeSkipped(unit, reason string) {
	if m != nil {
		m.MergeSkipped.WithLabelValues(unit, reason).Inc()
	}
}

// IncrementOverride records an override rule firing.
func (m *Metrics) IncrementOverride(rule string) {
	if m != nil {
		m.OverrideApplied.WithLabelValues(rule).Inc()
	}
}

// IncrementRun records a finished run.
func (m *Metrics) IncrementRun(status string) {
	if m != nil {
		m.RunOutcome.WithLabelValues(status).Inc()
	}
}

// WriteTextfile exports every metric in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.Wrapf(err, "metrics: write %s", path)
	}
	return nil
}
