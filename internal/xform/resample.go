package xform

import (
	"context"
	"fmt"

	"mriprep/internal/volume"
)

// MatrixApplier evaluates transforms made only of matrix steps.
type MatrixApplier struct{}

// Apply implements Applier.
func (MatrixApplier) Apply(ctx context.Context, img *volume.Volume, t Transform, interp Interpolation) (*volume.Volume, error) {
	return Resample(ctx, img, t, interp)
}

// Resample pulls img onto t.Reference by walking every reference voxel,
// mapping its world point through the matrix steps in order and sampling img
// there. Samples falling outside img read as zero.
func Resample(ctx context.Context, img *volume.Volume, t Transform, interp Interpolation) (*volume.Volume, error) {
	if img == nil {
		return nil, fmt.Errorf("resample: nil image")
	}
	if !interp.Valid() {
		return nil, fmt.Errorf("resample: interpolation must be chosen explicitly")
	}
	if err := t.Reference.Validate(); err != nil {
		return nil, fmt.Errorf("resample: reference grid: %w", err)
	}
	matrices, err := t.Matrices()
	if err != nil {
		return nil, err
	}

	sample := img.SampleLinear
	if interp == InterpNearest {
		sample = img.SampleNearest
	}

	out := volume.New(t.Reference)
	g := t.Reference
	for z := 0; z < g.Dims[2]; z++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for y := 0; y < g.Dims[1]; y++ {
			for x := 0; x < g.Dims[0]; x++ {
				p := g.World(float64(x), float64(y), float64(z))
				for _, m := range matrices {
					p = m.Point(p)
				}
				out.Data[g.Index(x, y, z)] = sample(img.Grid.Continuous(p))
			}
		}
	}
	return out, nil
}
