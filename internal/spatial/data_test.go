package spatial_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mriprep/internal/services"
	"mriprep/internal/spatial"
	"mriprep/internal/volume"
	"mriprep/internal/xform"
)

func line(t *testing.T, values ...float64) *volume.Volume {
	t.Helper()
	v, err := volume.FromData(volume.NewGrid(len(values), 1, 1), values)
	if err != nil {
		t.Fatalf("FromData: %v", err)
	}
	return v
}

func halfVoxelShift(ref volume.Grid) xform.Transform {
	m := xform.Translation([3]float64{0.5, 0, 0})
	return xform.Transform{Engine: "builtin", Family: xform.FamilyRigid, Reference: ref, Steps: []xform.Step{{Matrix: &m}}}
}

func registered(t *testing.T, primary *volume.Volume, opts ...spatial.Option) *spatial.Data {
	t.Helper()
	data, err := spatial.New("sub-01", primary, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fwd := halfVoxelShift(primary.Grid)
	inv := halfVoxelShift(primary.Grid)
	if err := data.SetTransforms(fwd, inv, xform.MatrixApplier{}); err != nil {
		t.Fatalf("SetTransforms: %v", err)
	}
	return data
}

func TestNewRejectsMissingInputs(t *testing.T) {
	if _, err := spatial.New(" ", line(t, 1)); err == nil {
		t.Fatal("expected error for empty subject id")
	}
	if _, err := spatial.New("sub-01", nil); err == nil {
		t.Fatal("expected error for nil primary")
	}
}

func TestOriginalImageIsIsolated(t *testing.T) {
	primary := line(t, 1, 2, 3)
	data, err := spatial.New("sub-01", primary)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	primary.Data[0] = 100
	data.Native().Image.Data[1] = 100
	data.Native().OriginalImage().Data[2] = 100

	if diff := cmp.Diff([]float64{1, 2, 3}, data.Native().OriginalImage().Data); diff != "" {
		t.Fatalf("original image changed (-want +got):\n%s", diff)
	}
}

func TestTemplateUnavailableBeforeRegistration(t *testing.T) {
	data, err := spatial.New("sub-01", line(t, 1, 2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := data.Template(); !errors.Is(err, spatial.ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	data.Native().BrainMask = line(t, 0, 1)
	err = data.PropagateToTemplate(context.Background(), spatial.FieldBrainMask, xform.InterpNearest)
	var perr *spatial.PropagationError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PropagationError, got %v", err)
	}
	if !errors.Is(err, services.ErrPropagation) {
		t.Fatalf("expected ErrPropagation marker, got %v", err)
	}
}

func TestPropagateRejectsEmptyFieldAndWrongPolicy(t *testing.T) {
	data := registered(t, line(t, 1, 2, 3, 4))
	if err := data.PropagateToTemplate(context.Background(), spatial.FieldSegmentationLabels, xform.InterpNearest); !errors.Is(err, services.ErrPropagation) {
		t.Fatalf("expected propagation error for empty field, got %v", err)
	}
	data.Native().SegmentationLabels = line(t, 0, 1, 2, 3)
	if err := data.PropagateToTemplate(context.Background(), spatial.FieldSegmentationLabels, xform.InterpLinear); !errors.Is(err, services.ErrPropagation) {
		t.Fatalf("expected linear interpolation of labels to be rejected, got %v", err)
	}
	data.Native().GMProbability = line(t, 0, 0.5, 1, 0)
	if err := data.PropagateToTemplate(context.Background(), spatial.FieldGMProbability, xform.InterpNearest); !errors.Is(err, services.ErrPropagation) {
		t.Fatalf("expected nearest interpolation of probabilities to be rejected, got %v", err)
	}
	tmpl, err := data.Template()
	if err != nil {
		t.Fatalf("Template: %v", err)
	}
	if tmpl.SegmentationLabels != nil || tmpl.GMProbability != nil {
		t.Fatal("rejected propagation must not write template fields")
	}
}

func TestPropagationPreservesLabelSet(t *testing.T) {
	data := registered(t, line(t, 5, 5, 5, 5))
	data.Native().SegmentationLabels = line(t, 0, 1, 2, 2)
	data.Native().GMProbability = line(t, 0, 1, 2, 2)
	ctx := context.Background()

	if err := data.PropagateToTemplate(ctx, spatial.FieldSegmentationLabels, xform.InterpNearest); err != nil {
		t.Fatalf("propagate labels: %v", err)
	}
	if err := data.PropagateToTemplate(ctx, spatial.FieldGMProbability, xform.InterpLinear); err != nil {
		t.Fatalf("propagate probability: %v", err)
	}
	tmpl, _ := data.Template()
	allowed := map[float64]bool{0: true, 1: true, 2: true}
	for _, v := range tmpl.SegmentationLabels.UniqueValues() {
		if !allowed[v] {
			t.Fatalf("label propagation introduced value %v", v)
		}
	}
	if got := tmpl.GMProbability.At(0, 0, 0); got != 0.5 {
		t.Fatalf("expected interpolated 0.5, got %v", got)
	}
}

func TestTransformsAreWriteOnce(t *testing.T) {
	data := registered(t, line(t, 1, 2))
	before, ok := data.Transforms()
	if !ok {
		t.Fatal("expected transforms")
	}
	before.NativeToTemplate.Steps[0].Matrix[0][3] = 42

	again := halfVoxelShift(volume.NewGrid(2, 1, 1))
	if err := data.SetTransforms(again, again, xform.MatrixApplier{}); !errors.Is(err, spatial.ErrTransformsFrozen) {
		t.Fatalf("expected ErrTransformsFrozen, got %v", err)
	}
	after, _ := data.Transforms()
	if !after.NativeToTemplate.Equal(halfVoxelShift(volume.NewGrid(2, 1, 1))) {
		t.Fatal("stored transform was mutated through a returned copy")
	}
}

func TestSecondaryAbsentWhenImageNil(t *testing.T) {
	data, err := spatial.New("sub-01", line(t, 1), spatial.WithSecondary("PET", nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := data.Secondary(); ok {
		t.Fatal("expected no secondary record")
	}
	if err := data.MaskSecondary(); !errors.Is(err, spatial.ErrNoSecondary) {
		t.Fatalf("expected ErrNoSecondary, got %v", err)
	}
	if data.Summary().Secondary != nil {
		t.Fatal("summary should omit secondary presence")
	}
}

func TestSecondaryChainRequiresUpstreamFields(t *testing.T) {
	data, err := spatial.New("sub-01", line(t, 1, 1, 1, 1), spatial.WithSecondary("PET", line(t, 4, 4, 4, 4)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sec, _ := data.Secondary()
	sec.RegisteredToPrimary = line(t, 4, 4, 4, 4)

	err = data.MaskSecondary()
	var dep *spatial.MissingDependencyError
	if !errors.As(err, &dep) || dep.Dependency != "native.brain_mask" {
		t.Fatalf("expected missing brain mask, got %v", err)
	}
	if services.IsFatalForSubject(err) {
		t.Fatal("secondary dependency errors must not be fatal for the subject")
	}

	data.Native().BrainMask = line(t, 0, 1, 1, 0)
	if err := data.MaskSecondary(); err != nil {
		t.Fatalf("MaskSecondary: %v", err)
	}
	if diff := cmp.Diff([]float64{0, 4, 4, 0}, sec.Masked.Data); diff != "" {
		t.Fatalf("masked mismatch (-want +got):\n%s", diff)
	}
	if err := data.StandardizeSecondary(context.Background()); !errors.Is(err, services.ErrSecondaryDependency) {
		t.Fatalf("expected missing transform, got %v", err)
	}
	if sec.Standardized != nil {
		t.Fatal("standardized must stay empty without transforms")
	}
}

func TestStepsAppendOnlyAndCapabilities(t *testing.T) {
	data, err := spatial.New("sub-01", line(t, 1, 2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if data.HasRegistration() {
		t.Fatal("unexpected registration")
	}
	for _, step := range []spatial.Step{spatial.StepSkullStripping, spatial.StepRegistration} {
		if err := data.MarkCompleted(step); err != nil {
			t.Fatalf("MarkCompleted(%s): %v", step, err)
		}
	}
	if err := data.MarkCompleted(spatial.StepRegistration); err == nil {
		t.Fatal("expected duplicate step to be rejected")
	}
	if !data.HasRegistration() {
		t.Fatal("expected registration capability")
	}
	want := []spatial.Step{spatial.StepSkullStripping, spatial.StepRegistration}
	if diff := cmp.Diff(want, data.Summary().ProcessingSteps); diff != "" {
		t.Fatalf("steps mismatch (-want +got):\n%s", diff)
	}
}

func TestParseStepAcceptsLegacySpellings(t *testing.T) {
	cases := map[string]spatial.Step{
		"skull_stripping": spatial.StepSkullStripping,
		"PET_processing":  spatial.StepSecondaryIntegration,
		"quality-control": spatial.StepQualityControl,
	}
	for in, want := range cases {
		got, err := spatial.ParseStep(in)
		if err != nil || got != want {
			t.Fatalf("ParseStep(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := spatial.ParseStep("denoise"); err == nil {
		t.Fatal("expected unknown step error")
	}
}
