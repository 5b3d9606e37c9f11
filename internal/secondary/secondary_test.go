package secondary_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mriprep/internal/secondary"
	"mriprep/internal/services"
	"mriprep/internal/spatial"
	"mriprep/internal/stage"
	"mriprep/internal/volume"
	"mriprep/internal/xform"
)

type copyRegistrar struct {
	families []xform.Family
	offGrid  bool
}

func (r *copyRegistrar) Register(_ context.Context, fixed, moving *volume.Volume, family xform.Family) (xform.Result, error) {
	r.families = append(r.families, family)
	warped := moving.Clone()
	warped.Grid = fixed.Grid
	if r.offGrid {
		warped = volume.New(volume.NewGrid(1, 1, 1))
	}
	m := xform.Identity()
	t := xform.Transform{Engine: "copy", Family: family, Reference: fixed.Grid, Steps: []xform.Step{{Matrix: &m}}}
	return xform.Result{Warped: warped, Forward: t, Inverse: t}, nil
}

func lineVolume(t *testing.T, values ...float64) *volume.Volume {
	t.Helper()
	v, err := volume.FromData(volume.NewGrid(len(values), 1, 1), values)
	if err != nil {
		t.Fatalf("FromData: %v", err)
	}
	return v
}

func newData(t *testing.T, withMask, withTransforms bool) *spatial.Data {
	t.Helper()
	data, err := spatial.New("sub-01", lineVolume(t, 10, 20, 30, 40),
		spatial.WithSecondary("t2", lineVolume(t, 4, 3, 2, 1)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if withMask {
		data.Native().BrainMask = lineVolume(t, 0, 1, 1, 0)
	}
	if withTransforms {
		m := xform.Identity()
		tr := xform.Transform{Engine: "identity", Family: xform.FamilyAffine, Reference: volume.NewGrid(4, 1, 1), Steps: []xform.Step{{Matrix: &m}}}
		if err := data.SetTransforms(tr, tr, xform.MatrixApplier{}); err != nil {
			t.Fatalf("SetTransforms: %v", err)
		}
	}
	return data
}

func TestSkippedWithoutSecondary(t *testing.T) {
	data, err := spatial.New("sub-01", lineVolume(t, 1, 2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	reg := &copyRegistrar{}
	outcome, err := secondary.New(reg, nil).Execute(context.Background(), data, t.TempDir())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Kind != stage.KindSkipped {
		t.Fatalf("expected skipped, got %s", outcome.Kind)
	}
	if len(reg.families) != 0 {
		t.Fatal("registrar must not run without a secondary image")
	}
}

func TestChainReusesPrimaryArtifacts(t *testing.T) {
	data := newData(t, true, true)
	reg := &copyRegistrar{}

	outcome, err := secondary.New(reg, nil).Execute(context.Background(), data, t.TempDir())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Kind != stage.KindCompleted {
		t.Fatalf("expected completed, got %s", outcome.Kind)
	}
	if diff := cmp.Diff([]xform.Family{xform.FamilyRigid}, reg.families); diff != "" {
		t.Fatalf("secondary alignment must be rigid (-want +got):\n%s", diff)
	}

	sec, _ := data.Secondary()
	if diff := cmp.Diff([]float64{0, 3, 2, 0}, sec.Masked.Data); diff != "" {
		t.Fatalf("masked secondary mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0, 3, 2, 0}, sec.Standardized.Data); diff != "" {
		t.Fatalf("standardized secondary mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0, 1, 1, 0}, data.Native().BrainMask.Data); diff != "" {
		t.Fatalf("primary brain mask changed (-want +got):\n%s", diff)
	}
}

func TestMissingPrimaryArtifactsAreNonFatal(t *testing.T) {
	cases := map[string]struct {
		withMask, withTransforms bool
	}{
		"no brain mask": {withMask: false, withTransforms: true},
		"no transforms": {withMask: true, withTransforms: false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			data := newData(t, tc.withMask, tc.withTransforms)
			_, err := secondary.New(&copyRegistrar{}, nil).Execute(context.Background(), data, t.TempDir())
			if !errors.Is(err, services.ErrSecondaryDependency) {
				t.Fatalf("expected ErrSecondaryDependency, got %v", err)
			}
			if services.IsFatalForSubject(err) {
				t.Fatal("secondary failures must not be fatal")
			}
			sec, _ := data.Secondary()
			if sec.Standardized != nil {
				t.Fatal("standardized secondary should stay unset")
			}
		})
	}
}

func TestOffGridAlignmentFails(t *testing.T) {
	data := newData(t, true, true)
	_, err := secondary.New(&copyRegistrar{offGrid: true}, nil).Execute(context.Background(), data, t.TempDir())
	if !errors.Is(err, services.ErrSecondaryDependency) {
		t.Fatalf("expected ErrSecondaryDependency, got %v", err)
	}
}
