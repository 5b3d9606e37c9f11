package stageexec

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mriprep/internal/logging"
	"mriprep/internal/services"
	"mriprep/internal/spatial"
	"mriprep/internal/stage"
	"mriprep/internal/volume"
)

type fakeHandler struct {
	id            spatial.Step
	preconditions []spatial.Ref
	effects       []spatial.Ref
	run           func(*spatial.Data) (stage.Outcome, error)
	logger        *slog.Logger
	calls         int
}

func (f *fakeHandler) ID() spatial.Step              { return f.id }
func (f *fakeHandler) Dependencies() []spatial.Step  { return nil }
func (f *fakeHandler) After() []spatial.Step         { return nil }
func (f *fakeHandler) Preconditions() []spatial.Ref  { return f.preconditions }
func (f *fakeHandler) Effects() []spatial.Ref        { return f.effects }
func (f *fakeHandler) SetLogger(logger *slog.Logger) { f.logger = logger }

func (f *fakeHandler) Execute(_ context.Context, data *spatial.Data, _ string) (stage.Outcome, error) {
	f.calls++
	if f.run == nil {
		return stage.Completed(), nil
	}
	return f.run(data)
}

func newData(t *testing.T) *spatial.Data {
	t.Helper()
	img, err := volume.FromData(volume.NewGrid(2, 1, 1), []float64{1, 2})
	if err != nil {
		t.Fatalf("FromData: %v", err)
	}
	data, err := spatial.New("sub-01", img)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return data
}

func TestRunRecordsCompletedStep(t *testing.T) {
	data := newData(t)
	h := &fakeHandler{id: spatial.StepSkullStripping}

	report := Run(context.Background(), Options{Logger: logging.NewNop(), Handler: h, Data: data})
	if report.Err != nil {
		t.Fatalf("unexpected error: %v", report.Err)
	}
	if report.Status() != "completed" {
		t.Fatalf("expected completed, got %q", report.Status())
	}
	if h.logger == nil {
		t.Fatal("expected stage logger to be injected")
	}
	if diff := cmp.Diff([]spatial.Step{spatial.StepSkullStripping}, data.ProcessingSteps()); diff != "" {
		t.Fatalf("processing steps mismatch (-want +got):\n%s", diff)
	}
}

func TestRunRecordsDegradation(t *testing.T) {
	data := newData(t)
	h := &fakeHandler{id: spatial.StepSegmentation, run: func(*spatial.Data) (stage.Outcome, error) {
		return stage.Degraded("primary segmenter failed"), nil
	}}

	report := Run(context.Background(), Options{Handler: h, Data: data})
	if report.Status() != "degraded" {
		t.Fatalf("expected degraded, got %q", report.Status())
	}
	if !data.Completed(spatial.StepSegmentation) {
		t.Fatal("degraded stage must still be recorded")
	}
	want := []spatial.Degradation{{Step: spatial.StepSegmentation, Reason: "primary segmenter failed"}}
	if diff := cmp.Diff(want, data.Degradations()); diff != "" {
		t.Fatalf("degradations mismatch (-want +got):\n%s", diff)
	}
}

func TestRunSkippedStepIsNotRecorded(t *testing.T) {
	data := newData(t)
	h := &fakeHandler{id: spatial.StepSecondaryIntegration, run: func(*spatial.Data) (stage.Outcome, error) {
		return stage.Skipped("no secondary image"), nil
	}}

	report := Run(context.Background(), Options{Handler: h, Data: data})
	if report.Status() != "skipped" || report.Reason() != "no secondary image" {
		t.Fatalf("unexpected report %#v", report)
	}
	if len(data.ProcessingSteps()) != 0 {
		t.Fatalf("skipped stage must not be recorded, got %v", data.ProcessingSteps())
	}
}

func TestRunFatalFailureLeavesStepsUntouched(t *testing.T) {
	data := newData(t)
	boom := services.Wrap(services.ErrAlgorithm, "registration", "register", "", errors.New("diverged"))
	h := &fakeHandler{id: spatial.StepRegistration, run: func(*spatial.Data) (stage.Outcome, error) {
		return stage.Outcome{}, boom
	}}

	report := Run(context.Background(), Options{Handler: h, Data: data})
	if !report.Fatal() {
		t.Fatalf("expected fatal failure, got %v", report.Err)
	}
	if report.Status() != StatusFailed {
		t.Fatalf("expected failed status, got %q", report.Status())
	}
	if len(data.ProcessingSteps()) != 0 || len(data.Degradations()) != 0 {
		t.Fatal("fatal failure must not touch steps or degradations")
	}
}

func TestRunSecondaryFailureIsNonFatal(t *testing.T) {
	data := newData(t)
	h := &fakeHandler{id: spatial.StepSecondaryIntegration, run: func(*spatial.Data) (stage.Outcome, error) {
		return stage.Outcome{}, &spatial.MissingDependencyError{Step: string(spatial.StepSecondaryIntegration), Dependency: "secondary.registered_to_primary"}
	}}

	report := Run(context.Background(), Options{Handler: h, Data: data})
	if report.Err == nil || report.Fatal() {
		t.Fatalf("expected non-fatal failure, got %v", report.Err)
	}
	if data.Completed(spatial.StepSecondaryIntegration) {
		t.Fatal("failed stage must not be recorded as completed")
	}
	if got := data.Degradations(); len(got) != 1 || got[0].Step != spatial.StepSecondaryIntegration {
		t.Fatalf("expected secondary degradation, got %#v", got)
	}
}

func TestRunChecksPreconditions(t *testing.T) {
	data := newData(t)
	h := &fakeHandler{
		id:            spatial.StepROIExtraction,
		preconditions: []spatial.Ref{spatial.TemplateRef(spatial.FieldImage)},
	}

	report := Run(context.Background(), Options{Handler: h, Data: data})
	if !errors.Is(report.Err, services.ErrDependencyOrder) {
		t.Fatalf("expected dependency order error, got %v", report.Err)
	}
	if h.calls != 0 {
		t.Fatal("handler must not run with unmet preconditions")
	}
}

func TestRunRejectsUndeclaredEffects(t *testing.T) {
	data := newData(t)
	h := &fakeHandler{id: spatial.StepSkullStripping, run: func(d *spatial.Data) (stage.Outcome, error) {
		d.Native().BrainMask = d.Native().Image.Clone()
		return stage.Completed(), nil
	}}

	report := Run(context.Background(), Options{Handler: h, Data: data})
	if !errors.Is(report.Err, services.ErrValidation) {
		t.Fatalf("expected validation error for undeclared effect, got %v", report.Err)
	}

	declared := newData(t)
	h.effects = []spatial.Ref{spatial.Native(spatial.FieldBrainMask)}
	if report := Run(context.Background(), Options{Handler: h, Data: declared}); report.Err != nil {
		t.Fatalf("declared effect rejected: %v", report.Err)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := &fakeHandler{id: spatial.StepQualityControl}

	report := Run(ctx, Options{Handler: h, Data: newData(t)})
	if report.Err == nil || !errors.Is(report.Err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", report.Err)
	}
	if h.calls != 0 {
		t.Fatal("handler must not run after cancellation")
	}
}

func TestRunRequiresHandler(t *testing.T) {
	report := Run(context.Background(), Options{Data: newData(t)})
	if report.Err == nil {
		t.Fatal("expected error without handler")
	}
}
