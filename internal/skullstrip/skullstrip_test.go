package skullstrip_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mriprep/internal/config"
	"mriprep/internal/services"
	"mriprep/internal/skullstrip"
	"mriprep/internal/spatial"
	"mriprep/internal/stage"
	"mriprep/internal/testsupport"
	"mriprep/internal/volume"
)

type fixedMasker struct {
	mask *volume.Volume
	err  error
}

func (m fixedMasker) EstimateBrainMask(context.Context, *volume.Volume) (*volume.Volume, error) {
	return m.mask, m.err
}

func newData(t *testing.T, values ...float64) *spatial.Data {
	t.Helper()
	img, err := volume.FromData(volume.NewGrid(len(values), 1, 1), values)
	if err != nil {
		t.Fatalf("FromData: %v", err)
	}
	data, err := spatial.New("sub-01", img)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return data
}

func TestExecuteMasksNativeImage(t *testing.T) {
	data := newData(t, 5, 6, 7, 8)
	mask, _ := volume.FromData(volume.NewGrid(4, 1, 1), []float64{0, 1, 1, 0})

	outcome, err := skullstrip.NewWithMasker(fixedMasker{mask: mask}, nil).Execute(context.Background(), data, t.TempDir())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Kind != stage.KindCompleted {
		t.Fatalf("expected completed, got %s", outcome.Kind)
	}
	native := data.Native()
	if diff := cmp.Diff([]float64{0, 6, 7, 0}, native.Image.Data); diff != "" {
		t.Fatalf("masked image mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0, 1, 1, 0}, native.BrainMask.Data); diff != "" {
		t.Fatalf("brain mask mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{5, 6, 7, 8}, native.OriginalImage().Data); diff != "" {
		t.Fatalf("original image changed (-want +got):\n%s", diff)
	}
}

func TestExecuteFailureIsFatal(t *testing.T) {
	data := newData(t, 5, 6)
	stripper := skullstrip.NewWithMasker(fixedMasker{err: errors.New("no foreground")}, nil)

	_, err := stripper.Execute(context.Background(), data, t.TempDir())
	if !errors.Is(err, services.ErrAlgorithm) {
		t.Fatalf("expected ErrAlgorithm, got %v", err)
	}
	if !services.IsFatalForSubject(err) {
		t.Fatal("skull stripping failure should be fatal")
	}
	if data.Native().BrainMask != nil {
		t.Fatal("brain mask must stay unset after failure")
	}
}

func TestExecuteRejectsOffGridMask(t *testing.T) {
	data := newData(t, 5, 6, 7)
	mask := volume.New(volume.NewGrid(2, 1, 1))

	_, err := skullstrip.NewWithMasker(fixedMasker{mask: mask}, nil).Execute(context.Background(), data, t.TempDir())
	if !errors.Is(err, services.ErrAlgorithm) {
		t.Fatalf("expected ErrAlgorithm, got %v", err)
	}
}

func TestBuiltinStripperRemovesSkull(t *testing.T) {
	cfg := config.Default()
	g := testsupport.NativeGrid()
	centre := [3]float64{2, -1, 0}
	img := testsupport.Phantom(g, centre)
	data, err := spatial.New("sub-01", img)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := skullstrip.New(&cfg, nil).Execute(context.Background(), data, t.TempDir()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	native := data.Native()
	if native.BrainMask.Count(0) == 0 {
		t.Fatal("expected a non-empty brain mask")
	}
	for idx, v := range native.Image.Data {
		if native.BrainMask.Data[idx] == 0 && v != 0 {
			t.Fatalf("voxel %d outside the mask kept intensity %v", idx, v)
		}
	}
	if got := native.BrainMask.UniqueValues(); len(got) > 2 {
		t.Fatalf("mask is not binary: %v", got)
	}
}

func TestContract(t *testing.T) {
	s := skullstrip.NewWithMasker(fixedMasker{}, nil)
	if s.ID() != spatial.StepSkullStripping {
		t.Fatalf("unexpected id %s", s.ID())
	}
	want := []spatial.Ref{spatial.Native(spatial.FieldImage), spatial.Native(spatial.FieldBrainMask)}
	if diff := cmp.Diff(want, s.Effects()); diff != "" {
		t.Fatalf("effects mismatch (-want +got):\n%s", diff)
	}
}
