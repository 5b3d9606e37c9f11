package testsupport

import (
	"math"
	"path/filepath"
	"testing"

	"mriprep/internal/niftiio"
	"mriprep/internal/volume"
)

// Phantom intensities mimic T1 contrast.
const (
	PhantomWM    = 110.0
	PhantomGM    = 70.0
	PhantomCSF   = 30.0
	PhantomSkull = 80.0
)

// TemplateGrid is the standard-space grid used by test templates and atlases.
func TemplateGrid() volume.Grid {
	return volume.Grid{Dims: [3]int{24, 28, 20}, Spacing: [3]float64{2, 2, 2}, Origin: [3]float64{-24, -28, -20}}
}

// NativeGrid is a subject acquisition grid that differs from TemplateGrid.
func NativeGrid() volume.Grid {
	return volume.Grid{Dims: [3]int{30, 34, 26}, Spacing: [3]float64{1.75, 1.75, 1.75}, Origin: [3]float64{-20, -25, -18}}
}

// Phantom renders a layered ellipsoidal head centred at the world point
// centre: WM core, GM shell, CSF rim, a detached skull shell, and a faint
// deterministic background pattern.
func Phantom(g volume.Grid, centre [3]float64) *volume.Volume {
	return render(g, centre, true)
}

// Brain renders the phantom brain alone on a clean background, the way a
// skull-stripped template looks.
func Brain(g volume.Grid, centre [3]float64) *volume.Volume {
	return render(g, centre, false)
}

func render(g volume.Grid, centre [3]float64, head bool) *volume.Volume {
	radii := [3]float64{18, 22, 14}
	vol := volume.New(g)
	for idx := range vol.Data {
		x, y, z := g.Coords(idx)
		r := normRadius(g.World(float64(x), float64(y), float64(z)), centre, radii)
		var value float64
		switch {
		case r < 0.45:
			value = PhantomWM
		case r < 0.75:
			value = PhantomGM
		case r < 1:
			value = PhantomCSF
		case head && r >= 1.25 && r < 1.3:
			value = PhantomSkull
		}
		if head {
			value += backgroundPattern(idx)
		}
		vol.Data[idx] = value
	}
	return vol
}

// Atlas labels the four (x, y) quadrants of the phantom brain 1..4 on g.
func Atlas(g volume.Grid, centre [3]float64) *volume.Volume {
	radii := [3]float64{18, 22, 14}
	vol := volume.New(g)
	for idx := range vol.Data {
		x, y, z := g.Coords(idx)
		p := g.World(float64(x), float64(y), float64(z))
		if normRadius(p, centre, radii) >= 1 {
			continue
		}
		label := 1.0
		if p[0] >= centre[0] {
			label++
		}
		if p[1] >= centre[1] {
			label += 2
		}
		vol.Data[idx] = label
	}
	return vol
}

func normRadius(p, centre, radii [3]float64) float64 {
	var sum float64
	for a := 0; a < 3; a++ {
		d := (p[a] - centre[a]) / radii[a]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// backgroundPattern is a zero-mean periodic perturbation in [-1, 1].
func backgroundPattern(idx int) float64 {
	return float64((idx*7919)%11-5) / 5
}

// WriteVolume stores vol under dir/name and returns the path.
func WriteVolume(t testing.TB, dir, name string, vol *volume.Volume) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := niftiio.Write(path, vol); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
