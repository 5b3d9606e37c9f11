package metrics_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"mriprep/internal/metrics"
)

func TestObserveStageCountsOutcomes(t *testing.T) {
	m := metrics.New("sub-01")
	m.ObserveStage("segmentation", "degraded", 2*time.Second)
	m.ObserveStage("segmentation", "degraded", time.Second)
	m.ObserveStage("registration", "completed", time.Second)

	if got := testutil.ToFloat64(m.StageOutcome.WithLabelValues("segmentation", "degraded")); got != 2 {
		t.Fatalf("expected 2 degraded segmentation runs, got %v", got)
	}
	if got := testutil.CollectAndCount(m.StageDuration); got != 2 {
		t.Fatalf("expected 2 duration series, got %d", got)
	}
}

func TestSetQCExportsNumericValues(t *testing.T) {
	m := metrics.New("sub-01")
	m.SetQC(map[string]any{
		"snr":              12.5,
		"num_steps":        5,
		"processing_steps": []string{"registration"},
	})
	if got := testutil.ToFloat64(m.QCValue.WithLabelValues("snr")); got != 12.5 {
		t.Fatalf("unexpected snr gauge: %v", got)
	}
	if got := testutil.CollectAndCount(m.QCValue); got != 2 {
		t.Fatalf("expected only numeric metrics exported, got %d", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := metrics.New("sub-01")
	m.Finish(true, 3*time.Second)
	path := filepath.Join(t.TempDir(), "qc", "sub-01_pipeline.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), `mriprep_run_success{subject="sub-01"} 1`) {
		t.Fatalf("unexpected textfile contents:\n%s", data)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.ObserveStage("registration", "completed", time.Second)
	m.Finish(false, 0)
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Fatalf("expected nil metrics to be a no-op, got %v", err)
	}
}
