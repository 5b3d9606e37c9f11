package volume

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// ErrGridMismatch reports an operation over two volumes living on different grids.
var ErrGridMismatch = errors.New("grid mismatch")

// Grid describes the voxel lattice of a volume in world (millimetre) space.
// The mapping is axis aligned: world = Origin + Step(axis) * index, where
// Step is Spacing negated on flipped axes.
type Grid struct {
	Dims    [3]int     `json:"dims"`
	Spacing [3]float64 `json:"spacing"`
	Origin  [3]float64 `json:"origin"`
	// Flip marks axes whose world coordinate decreases as the index grows,
	// such as x in radiological-convention MNI templates.
	Flip [3]bool `json:"flip"`
}

// NewGrid builds a grid with unit spacing and zero origin.
func NewGrid(nx, ny, nz int) Grid {
	return Grid{Dims: [3]int{nx, ny, nz}, Spacing: [3]float64{1, 1, 1}}
}

// Len returns the number of voxels in the grid.
func (g Grid) Len() int {
	return g.Dims[0] * g.Dims[1] * g.Dims[2]
}

// Validate rejects empty grids and non-positive spacing.
func (g Grid) Validate() error {
	for axis := 0; axis < 3; axis++ {
		if g.Dims[axis] <= 0 {
			return fmt.Errorf("grid axis %d has non-positive size %d", axis, g.Dims[axis])
		}
		if !(g.Spacing[axis] > 0) {
			return fmt.Errorf("grid axis %d has non-positive spacing %g", axis, g.Spacing[axis])
		}
	}
	return nil
}

// Equal reports whether two grids describe the same lattice. Spacing and
// origin are compared with a small tolerance to absorb float32 header storage.
func (g Grid) Equal(o Grid) bool {
	if g.Dims != o.Dims || g.Flip != o.Flip {
		return false
	}
	for axis := 0; axis < 3; axis++ {
		if !closeEnough(g.Spacing[axis], o.Spacing[axis]) || !closeEnough(g.Origin[axis], o.Origin[axis]) {
			return false
		}
	}
	return true
}

// VoxelVolume returns the volume of one voxel in cubic millimetres.
func (g Grid) VoxelVolume() float64 {
	return g.Spacing[0] * g.Spacing[1] * g.Spacing[2]
}

// Index converts voxel coordinates into a flat buffer offset.
func (g Grid) Index(x, y, z int) int {
	return x + g.Dims[0]*(y+g.Dims[1]*z)
}

// Coords converts a flat buffer offset into voxel coordinates.
func (g Grid) Coords(idx int) (x, y, z int) {
	x = idx % g.Dims[0]
	rest := idx / g.Dims[0]
	y = rest % g.Dims[1]
	z = rest / g.Dims[1]
	return x, y, z
}

// Contains reports whether voxel coordinates fall inside the grid.
func (g Grid) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < g.Dims[0] && y < g.Dims[1] && z < g.Dims[2]
}

// Step returns the signed world displacement of one voxel along axis.
func (g Grid) Step(axis int) float64 {
	if g.Flip[axis] {
		return -g.Spacing[axis]
	}
	return g.Spacing[axis]
}

// World maps (possibly fractional) voxel coordinates to world coordinates.
func (g Grid) World(i, j, k float64) [3]float64 {
	return [3]float64{
		g.Origin[0] + g.Step(0)*i,
		g.Origin[1] + g.Step(1)*j,
		g.Origin[2] + g.Step(2)*k,
	}
}

// Continuous maps a world point to fractional voxel coordinates.
func (g Grid) Continuous(p [3]float64) [3]float64 {
	return [3]float64{
		(p[0] - g.Origin[0]) / g.Step(0),
		(p[1] - g.Origin[1]) / g.Step(1),
		(p[2] - g.Origin[2]) / g.Step(2),
	}
}

func (g Grid) String() string {
	return fmt.Sprintf("%dx%dx%d @ %.3gx%.3gx%.3g mm", g.Dims[0], g.Dims[1], g.Dims[2], g.Spacing[0], g.Spacing[1], g.Spacing[2])
}

// Volume is a scalar image sampled on a Grid.
type Volume struct {
	Grid Grid
	Data []float64
}

// New allocates a zero-filled volume on the grid.
func New(g Grid) *Volume {
	return &Volume{Grid: g, Data: make([]float64, g.Len())}
}

// FromData wraps an existing buffer, validating its length against the grid.
func FromData(g Grid, data []float64) (*Volume, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if len(data) != g.Len() {
		return nil, fmt.Errorf("volume data has %d samples, grid %s needs %d", len(data), g, g.Len())
	}
	return &Volume{Grid: g, Data: data}, nil
}

// Like allocates a zero-filled volume sharing v's grid.
func (v *Volume) Like() *Volume {
	return New(v.Grid)
}

// Clone returns a deep copy.
func (v *Volume) Clone() *Volume {
	if v == nil {
		return nil
	}
	return &Volume{Grid: v.Grid, Data: slices.Clone(v.Data)}
}

// At returns the sample at voxel coordinates. Out-of-grid reads return zero.
func (v *Volume) At(x, y, z int) float64 {
	if !v.Grid.Contains(x, y, z) {
		return 0
	}
	return v.Data[v.Grid.Index(x, y, z)]
}

// Set writes the sample at voxel coordinates.
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Grid.Index(x, y, z)] = value
}

// SameGrid reports whether both volumes share a lattice.
func (v *Volume) SameGrid(o *Volume) bool {
	return v != nil && o != nil && v.Grid.Equal(o.Grid)
}

// Multiply returns the elementwise product of v and o. Both must share a grid.
func (v *Volume) Multiply(o *Volume) (*Volume, error) {
	if !v.SameGrid(o) {
		return nil, fmt.Errorf("multiply %s by %s: %w", v.Grid, o.Grid, ErrGridMismatch)
	}
	out := v.Like()
	for i := range v.Data {
		out.Data[i] = v.Data[i] * o.Data[i]
	}
	return out, nil
}

// Binarize returns a 0/1 volume marking samples strictly above threshold.
func (v *Volume) Binarize(threshold float64) *Volume {
	out := v.Like()
	for i, value := range v.Data {
		if value > threshold {
			out.Data[i] = 1
		}
	}
	return out
}

// Count returns the number of samples strictly above threshold.
func (v *Volume) Count(threshold float64) int {
	n := 0
	for _, value := range v.Data {
		if value > threshold {
			n++
		}
	}
	return n
}

// UniqueValues returns the sorted set of distinct samples.
func (v *Volume) UniqueValues() []float64 {
	seen := make(map[float64]struct{})
	for _, value := range v.Data {
		seen[value] = struct{}{}
	}
	out := make([]float64, 0, len(seen))
	for value := range seen {
		out = append(out, value)
	}
	slices.Sort(out)
	return out
}

// Equal reports exact equality of grid and samples.
func (v *Volume) Equal(o *Volume) bool {
	if v == nil || o == nil {
		return v == nil && o == nil
	}
	return v.Grid.Equal(o.Grid) && slices.Equal(v.Data, o.Data)
}

func closeEnough(a, b float64) bool {
	return math.Abs(a-b) <= 1e-4*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}
