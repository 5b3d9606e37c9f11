package xform_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mriprep/internal/volume"
	"mriprep/internal/xform"
)

func TestParseFamilyAcceptsEngineSpellings(t *testing.T) {
	cases := map[string]xform.Family{
		"Rigid":     xform.FamilyRigid,
		"affine":    xform.FamilyAffine,
		"SyN":       xform.FamilyNonlinear,
		"nonlinear": xform.FamilyNonlinear,
	}
	for in, want := range cases {
		got, err := xform.ParseFamily(in)
		if err != nil {
			t.Fatalf("ParseFamily(%q) error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseFamily(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := xform.ParseFamily("bspline"); err == nil {
		t.Fatal("expected error for unknown family")
	}
}

func TestCloneIsDeep(t *testing.T) {
	m := xform.Translation([3]float64{1, 2, 3})
	orig := xform.Transform{Engine: "builtin", Family: xform.FamilyRigid, Reference: volume.NewGrid(2, 2, 2), Steps: []xform.Step{{Matrix: &m}}}
	clone := orig.Clone()
	clone.Steps[0].Matrix[0][3] = 99

	if orig.Steps[0].Matrix[0][3] != 1 {
		t.Fatalf("clone aliased the original matrix")
	}
	if orig.Equal(clone) {
		t.Fatalf("expected modified clone to differ")
	}
	if !orig.Equal(orig.Clone()) {
		t.Fatalf("expected fresh clone to be equal")
	}
}

func TestResampleTranslation(t *testing.T) {
	g := volume.NewGrid(4, 1, 1)
	img, err := volume.FromData(g, []float64{0, 1, 2, 3})
	if err != nil {
		t.Fatalf("FromData: %v", err)
	}
	shift := xform.Translation([3]float64{1, 0, 0})
	tr := xform.Transform{Engine: "builtin", Family: xform.FamilyRigid, Reference: g, Steps: []xform.Step{{Matrix: &shift}}}

	out, err := xform.Resample(context.Background(), img, tr, xform.InterpNearest)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if diff := cmp.Diff([]float64{1, 2, 3, 0}, out.Data); diff != "" {
		t.Fatalf("resampled data mismatch (-want +got):\n%s", diff)
	}
}

func TestResampleRejectsImplicitInterpolation(t *testing.T) {
	g := volume.NewGrid(2, 2, 2)
	tr := xform.Transform{Reference: g, Steps: []xform.Step{{Matrix: new(xform.Matrix)}}}
	if _, err := xform.Resample(context.Background(), volume.New(g), tr, xform.InterpInvalid); err == nil {
		t.Fatal("expected error for zero interpolation")
	}
}

func TestResampleRejectsFileSteps(t *testing.T) {
	g := volume.NewGrid(2, 2, 2)
	tr := xform.Transform{Engine: "ants", Reference: g, Steps: []xform.Step{{Path: "0GenericAffine.mat"}}}
	if _, err := xform.Resample(context.Background(), volume.New(g), tr, xform.InterpLinear); err == nil {
		t.Fatal("expected error for file step")
	}
}
