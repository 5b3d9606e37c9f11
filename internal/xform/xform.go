package xform

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"mriprep/internal/volume"
)

// ErrUnsupportedStep is returned when a transform contains steps the applier
// cannot evaluate.
var ErrUnsupportedStep = errors.New("unsupported transform step")

// Interpolation selects how samples are read between voxel centres. The zero
// value is invalid so callers must always choose a policy.
type Interpolation int

const (
	InterpInvalid Interpolation = iota
	InterpNearest
	InterpLinear
)

func (i Interpolation) String() string {
	switch i {
	case InterpNearest:
		return "nearest"
	case InterpLinear:
		return "linear"
	default:
		return "invalid"
	}
}

// Valid reports whether the policy is one of the defined modes.
func (i Interpolation) Valid() bool {
	return i == InterpNearest || i == InterpLinear
}

// Family is the transform model a registration estimates.
type Family string

const (
	FamilyRigid     Family = "rigid"
	FamilyAffine    Family = "affine"
	FamilyNonlinear Family = "nonlinear"
)

// ParseFamily accepts the canonical names plus the ANTs spellings
// (Rigid, Affine, SyN).
func ParseFamily(value string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "rigid":
		return FamilyRigid, nil
	case "affine":
		return FamilyAffine, nil
	case "nonlinear", "syn", "diffeomorphic":
		return FamilyNonlinear, nil
	default:
		return "", fmt.Errorf("unknown transform family %q", value)
	}
}

// Matrix is a homogeneous 4x4 world-space matrix, row major.
type Matrix [4][4]float64

// Identity returns the identity matrix.
func Identity() Matrix {
	return Matrix{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
}

// Translation returns a matrix shifting points by d.
func Translation(d [3]float64) Matrix {
	m := Identity()
	m[0][3], m[1][3], m[2][3] = d[0], d[1], d[2]
	return m
}

// Point maps a world point through the matrix.
func (m Matrix) Point(p [3]float64) [3]float64 {
	var out [3]float64
	for r := 0; r < 3; r++ {
		out[r] = m[r][0]*p[0] + m[r][1]*p[1] + m[r][2]*p[2] + m[r][3]
	}
	return out
}

// Step is one element of a transform chain.
type Step struct {
	Matrix *Matrix `json:"matrix,omitempty"`
	Path   string  `json:"path,omitempty"`
	Invert bool    `json:"invert,omitempty"`
}

// Transform is a frozen registration artifact.
type Transform struct {
	Engine    string      `json:"engine"`
	Family    Family      `json:"family"`
	Reference volume.Grid `json:"reference"`
	Steps     []Step      `json:"steps"`
}

// IsZero reports whether the transform carries no steps.
func (t Transform) IsZero() bool {
	return len(t.Steps) == 0
}

// Clone returns a deep copy so callers cannot mutate a frozen artifact.
func (t Transform) Clone() Transform {
	out := t
	out.Steps = make([]Step, len(t.Steps))
	for i, step := range t.Steps {
		out.Steps[i] = step
		if step.Matrix != nil {
			m := *step.Matrix
			out.Steps[i].Matrix = &m
		}
	}
	return out
}

// Equal reports whether two transforms describe the identical artifact.
func (t Transform) Equal(o Transform) bool {
	if t.Engine != o.Engine || t.Family != o.Family || t.Reference != o.Reference {
		return false
	}
	return slices.EqualFunc(t.Steps, o.Steps, func(a, b Step) bool {
		if a.Path != b.Path || a.Invert != b.Invert {
			return false
		}
		if (a.Matrix == nil) != (b.Matrix == nil) {
			return false
		}
		return a.Matrix == nil || *a.Matrix == *b.Matrix
	})
}

// Matrices returns the matrix of every step, failing if any step is file based
// or inverted.
func (t Transform) Matrices() ([]Matrix, error) {
	out := make([]Matrix, 0, len(t.Steps))
	for _, step := range t.Steps {
		if step.Matrix == nil || step.Invert {
			return nil, fmt.Errorf("%w: %s step %q", ErrUnsupportedStep, t.Engine, step.Path)
		}
		out = append(out, *step.Matrix)
	}
	return out, nil
}

// Result is the output of one registration call.
type Result struct {
	Warped  *volume.Volume
	Forward Transform
	Inverse Transform
}

// Registrar estimates a transform aligning moving onto fixed.
type Registrar interface {
	Register(ctx context.Context, fixed, moving *volume.Volume, family Family) (Result, error)
}

// Applier resamples an image through a transform onto its reference grid.
type Applier interface {
	Apply(ctx context.Context, img *volume.Volume, t Transform, interp Interpolation) (*volume.Volume, error)
}

// Engine combines both collaborator roles.
type Engine interface {
	Registrar
	Applier
}
