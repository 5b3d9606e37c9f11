package stage

import (
	"errors"
	"testing"

	"mriprep/internal/services"
	"mriprep/internal/spatial"
	"mriprep/internal/volume"
)

func TestLabel(t *testing.T) {
	cases := map[spatial.Step]string{
		spatial.StepSkullStripping:       "Skull Stripping",
		spatial.StepSecondaryIntegration: "Secondary Integration",
		spatial.StepQualityControl:       "Quality Control",
	}
	for step, want := range cases {
		if got := Label(step); got != want {
			t.Fatalf("Label(%s) = %q, want %q", step, got, want)
		}
	}
}

func TestMissingReportsUnsetRefs(t *testing.T) {
	data, err := spatial.New("sub-01", volume.New(volume.NewGrid(2, 2, 2)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	refs := []spatial.Ref{spatial.Native(spatial.FieldImage), spatial.Native(spatial.FieldBrainMask), spatial.RefNativeToTemplate}
	missing := Missing(data, refs)
	if got := JoinRefs(missing); got != "native.brain_mask, transforms.native_to_template" {
		t.Fatalf("unexpected missing refs: %q", got)
	}
}

func TestFailCarriesStageAndHint(t *testing.T) {
	err := Fail(spatial.StepRegistration, services.ErrAlgorithm, "register", "check the template", errors.New("diverged"))
	if !errors.Is(err, services.ErrAlgorithm) {
		t.Fatalf("expected ErrAlgorithm marker, got %v", err)
	}
	details := services.Details(err)
	if details.Stage != "registration" || details.Hint != "check the template" {
		t.Fatalf("unexpected details: %+v", details)
	}
}

func TestOutcomeRecorded(t *testing.T) {
	if !Completed().Recorded() || !Degraded("fallback").Recorded() {
		t.Fatal("completed and degraded outcomes must be recorded")
	}
	if Skipped("absent").Recorded() {
		t.Fatal("skipped outcomes must not be recorded")
	}
}
