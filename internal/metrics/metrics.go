// Package metrics collects per-run pipeline metrics in a dedicated Prometheus
// registry and exports them in the node-exporter textfile format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for one subject run.
type Metrics struct {
	registry *prometheus.Registry

	// Stage durations by step
	StageDuration *prometheus.HistogramVec

	// Stage outcomes by step and outcome kind
	StageOutcome *prometheus.CounterVec

	// Numeric quality-control metrics by name
	QCValue *prometheus.GaugeVec

	RunSuccess  prometheus.Gauge
	RunDuration prometheus.Gauge
}

// New creates a Metrics instance registered in a fresh registry labelled with
// the subject.
func New(subject string) *Metrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"subject": subject}
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "mriprep_stage_duration_seconds",
			Help:        "Duration of pipeline stages by step",
			ConstLabels: labels,
			Buckets:     []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"step"}),

		StageOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "mriprep_stage_outcomes_total",
			Help:        "Pipeline stage outcomes by step and kind",
			ConstLabels: labels,
		}, []string{"step", "outcome"}),

		QCValue: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "mriprep_qc_value",
			Help:        "Numeric quality-control metrics by name",
			ConstLabels: labels,
		}, []string{"name"}),

		RunSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "mriprep_run_success",
			Help:        "1 when the subject run finished without a fatal error",
			ConstLabels: labels,
		}),

		RunDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "mriprep_run_duration_seconds",
			Help:        "Wall time of the subject run",
			ConstLabels: labels,
		}),
	}
}

// ObserveStage records a stage attempt.
func (m *Metrics) ObserveStage(step, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(step).Observe(d.Seconds())
	m.StageOutcome.WithLabelValues(step, outcome).Inc()
}

// SetQC exports every numeric entry of metrics.
func (m *Metrics) SetQC(metrics map[string]any) {
	if m == nil {
		return
	}
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		switch v := metrics[name].(type) {
		case float64:
			m.QCValue.WithLabelValues(name).Set(v)
		case int:
			m.QCValue.WithLabelValues(name).Set(float64(v))
		}
	}
}

// Finish records the run result.
func (m *Metrics) Finish(success bool, d time.Duration) {
	if m == nil {
		return
	}
	if success {
		m.RunSuccess.Set(1)
	} else {
		m.RunSuccess.Set(0)
	}
	m.RunDuration.Set(d.Seconds())
}

// WriteTextfile writes the registry to path.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
