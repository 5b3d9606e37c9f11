package volume

import "math"

const snapEpsilon = 1e-9

// SampleNearest returns the value of the voxel closest to the fractional
// coordinates c. Points outside the grid read as zero.
func (v *Volume) SampleNearest(c [3]float64) float64 {
	x := int(math.Round(snap(c[0])))
	y := int(math.Round(snap(c[1])))
	z := int(math.Round(snap(c[2])))
	return v.At(x, y, z)
}

// SampleLinear trilinearly interpolates v at the fractional coordinates c.
// Neighbours outside the grid contribute zero.
func (v *Volume) SampleLinear(c [3]float64) float64 {
	fx, fy, fz := snap(c[0]), snap(c[1]), snap(c[2])
	g := v.Grid
	if fx <= -1 || fy <= -1 || fz <= -1 || fx >= float64(g.Dims[0]) || fy >= float64(g.Dims[1]) || fz >= float64(g.Dims[2]) {
		return 0
	}
	x0, y0, z0 := math.Floor(fx), math.Floor(fy), math.Floor(fz)
	dx, dy, dz := fx-x0, fy-y0, fz-z0
	ix, iy, iz := int(x0), int(y0), int(z0)

	var sum float64
	for k := 0; k <= 1; k++ {
		wz := 1 - dz
		if k == 1 {
			wz = dz
		}
		if wz == 0 {
			continue
		}
		for j := 0; j <= 1; j++ {
			wy := 1 - dy
			if j == 1 {
				wy = dy
			}
			if wy == 0 {
				continue
			}
			for i := 0; i <= 1; i++ {
				wx := 1 - dx
				if i == 1 {
					wx = dx
				}
				if wx == 0 {
					continue
				}
				sum += wx * wy * wz * v.At(ix+i, iy+j, iz+k)
			}
		}
	}
	return sum
}

func snap(value float64) float64 {
	if r := math.Round(value); math.Abs(value-r) < snapEpsilon {
		return r
	}
	return value
}
