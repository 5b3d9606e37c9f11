package builtin

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"mriprep/internal/volume"
	"mriprep/internal/xform"
)

// EngineName tags transforms produced by MomentEngine.
const EngineName = "builtin"

// ErrUnsupportedFamily is returned for transform families the engine cannot estimate.
var ErrUnsupportedFamily = errors.New("transform family not supported by builtin engine")

// relative eigenvalue gap below which principal axes are treated as undefined
const degenerateGap = 1e-2

// MomentEngine registers images by matching intensity moments: centroids give
// the translation and the principal axes of the second moments give rotation
// (rigid) or rotation plus per-axis scaling (affine).
type MomentEngine struct{}

type moments struct {
	centroid [3]float64
	values   [3]float64 // ascending
	axes     *mat.Dense // columns are unit principal axes
	trace    float64
}

// Register implements xform.Registrar.
func (MomentEngine) Register(ctx context.Context, fixed, moving *volume.Volume, family xform.Family) (xform.Result, error) {
	if fixed == nil || moving == nil {
		return xform.Result{}, errors.New("register: nil image")
	}
	if family != xform.FamilyRigid && family != xform.FamilyAffine {
		return xform.Result{}, fmt.Errorf("%w: %s", ErrUnsupportedFamily, family)
	}
	mf, err := imageMoments(fixed)
	if err != nil {
		return xform.Result{}, fmt.Errorf("fixed image: %w", err)
	}
	mm, err := imageMoments(moving)
	if err != nil {
		return xform.Result{}, fmt.Errorf("moving image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return xform.Result{}, err
	}

	linear := linearPart(mf, mm, family)
	var inverse mat.Dense
	if err := inverse.Inverse(linear); err != nil {
		return xform.Result{}, fmt.Errorf("register: singular linear map: %w", err)
	}

	// Pull-back from fixed world to moving world: x_m = A^-1 (x_f - c_f) + c_m.
	forward := affineMatrix(&inverse, mf.centroid, mm.centroid)
	// Pull-back from moving world to fixed world: x_f = A (x_m - c_m) + c_f.
	backward := affineMatrix(linear, mm.centroid, mf.centroid)

	result := xform.Result{
		Forward: xform.Transform{Engine: EngineName, Family: family, Reference: fixed.Grid, Steps: []xform.Step{{Matrix: &forward}}},
		Inverse: xform.Transform{Engine: EngineName, Family: family, Reference: moving.Grid, Steps: []xform.Step{{Matrix: &backward}}},
	}
	result.Warped, err = xform.Resample(ctx, moving, result.Forward, xform.InterpLinear)
	if err != nil {
		return xform.Result{}, err
	}
	return result, nil
}

// Apply implements xform.Applier for matrix transforms.
func (MomentEngine) Apply(ctx context.Context, img *volume.Volume, t xform.Transform, interp xform.Interpolation) (*volume.Volume, error) {
	return xform.Resample(ctx, img, t, interp)
}

// linearPart returns A mapping moving offsets onto fixed offsets.
func linearPart(mf, mm moments, family xform.Family) *mat.Dense {
	if degenerate(mf.values) || degenerate(mm.values) {
		scale := 1.0
		if family == xform.FamilyAffine && mm.trace > 0 {
			scale = math.Sqrt(mf.trace / mm.trace)
		}
		a := mat.NewDense(3, 3, nil)
		for i := 0; i < 3; i++ {
			a.Set(i, i, scale)
		}
		return a
	}
	diag := mat.NewDiagDense(3, nil)
	for i := 0; i < 3; i++ {
		s := 1.0
		if family == xform.FamilyAffine {
			s = math.Sqrt(mf.values[i] / mm.values[i])
		}
		diag.SetDiag(i, s)
	}
	// A rotation must not mirror the head; flip the least certain moving axis
	// when the two frames have opposite handedness.
	movingAxes := mat.DenseCopyOf(mm.axes)
	if mat.Det(mf.axes)*mat.Det(movingAxes) < 0 {
		c := leastDominantAxis(movingAxes)
		for r := 0; r < 3; r++ {
			movingAxes.Set(r, c, -movingAxes.At(r, c))
		}
	}
	var tmp, a mat.Dense
	tmp.Mul(mf.axes, diag)
	a.Mul(&tmp, movingAxes.T())
	return &a
}

func affineMatrix(linear mat.Matrix, from, to [3]float64) xform.Matrix {
	m := xform.Identity()
	for r := 0; r < 3; r++ {
		shift := to[r]
		for c := 0; c < 3; c++ {
			m[r][c] = linear.At(r, c)
			shift -= linear.At(r, c) * from[c]
		}
		m[r][3] = shift
	}
	return m
}

func degenerate(values [3]float64) bool {
	for i := 0; i < 2; i++ {
		if values[i+1]-values[i] <= degenerateGap*values[2] {
			return true
		}
	}
	return values[0] <= 0
}

// imageMoments computes intensity-weighted centroid and principal axes in
// world coordinates. Negative intensities carry no weight.
func imageMoments(img *volume.Volume) (moments, error) {
	g := img.Grid
	var (
		total float64
		sum   [3]float64
	)
	for idx, v := range img.Data {
		if v <= 0 {
			continue
		}
		x, y, z := g.Coords(idx)
		p := g.World(float64(x), float64(y), float64(z))
		total += v
		for a := 0; a < 3; a++ {
			sum[a] += v * p[a]
		}
	}
	if total == 0 {
		return moments{}, errors.New("image has no positive intensity")
	}
	var m moments
	for a := 0; a < 3; a++ {
		m.centroid[a] = sum[a] / total
	}

	cov := make([]float64, 9)
	for idx, v := range img.Data {
		if v <= 0 {
			continue
		}
		x, y, z := g.Coords(idx)
		p := g.World(float64(x), float64(y), float64(z))
		for r := 0; r < 3; r++ {
			dr := p[r] - m.centroid[r]
			for c := r; c < 3; c++ {
				cov[3*r+c] += v * dr * (p[c] - m.centroid[c])
			}
		}
	}
	for r := 0; r < 3; r++ {
		for c := r; c < 3; c++ {
			cov[3*r+c] /= total
			cov[3*c+r] = cov[3*r+c]
		}
	}
	m.trace = cov[0] + cov[4] + cov[8]

	var eig mat.EigenSym
	if ok := eig.Factorize(mat.NewSymDense(3, cov), true); !ok {
		return moments{}, errors.New("eigen decomposition failed")
	}
	vals := eig.Values(nil)
	copy(m.values[:], vals)
	axes := mat.NewDense(3, 3, nil)
	eig.VectorsTo(axes)
	orientAxes(axes)
	m.axes = axes
	return m, nil
}

// orientAxes fixes the sign ambiguity of eigenvectors by pointing each axis
// along its largest world component. Head images arrive roughly in standard
// orientation, so matching axes end up with matching signs.
func orientAxes(axes *mat.Dense) {
	for c := 0; c < 3; c++ {
		if dominantComponent(axes, c) < 0 {
			for r := 0; r < 3; r++ {
				axes.Set(r, c, -axes.At(r, c))
			}
		}
	}
}

// leastDominantAxis returns the column whose sign is least certain.
func leastDominantAxis(axes *mat.Dense) int {
	best, bestValue := 0, math.Inf(1)
	for c := 0; c < 3; c++ {
		if v := math.Abs(dominantComponent(axes, c)); v < bestValue {
			best, bestValue = c, v
		}
	}
	return best
}

func dominantComponent(axes *mat.Dense, c int) float64 {
	best := 0.0
	for r := 0; r < 3; r++ {
		if v := axes.At(r, c); math.Abs(v) > math.Abs(best)+1e-9 {
			best = v
		}
	}
	return best
}
