package builtin

import (
	"context"
	"errors"
	"fmt"
	"math"

	"mriprep/internal/volume"
)

// ErrEmptyMask is returned when no voxel survives thresholding.
var ErrEmptyMask = errors.New("brain mask is empty")

const otsuBins = 256

// Masker estimates a binary brain mask by intensity thresholding followed by
// keeping the largest 6-connected component.
type Masker struct {
	// Method is "otsu" or "threshold".
	Method string
	// Fraction of the maximum intensity used by the threshold method.
	Fraction float64
}

// EstimateBrainMask returns a 0/1 volume on img's grid.
func (m Masker) EstimateBrainMask(ctx context.Context, img *volume.Volume) (*volume.Volume, error) {
	if img == nil {
		return nil, errors.New("estimate brain mask: nil image")
	}
	summary := volume.Describe(img.Data)
	var threshold float64
	switch m.Method {
	case "threshold":
		threshold = m.Fraction * summary.Max
	case "otsu", "":
		threshold = OtsuThreshold(img.Data, otsuBins)
	default:
		return nil, fmt.Errorf("estimate brain mask: unknown method %q", m.Method)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mask := LargestComponent(img.Binarize(threshold))
	if mask.Count(0) == 0 {
		return nil, ErrEmptyMask
	}
	return mask, nil
}

// OtsuThreshold returns the intensity maximizing the between-class variance
// of a bins-bucket histogram.
func OtsuThreshold(samples []float64, bins int) float64 {
	if len(samples) == 0 || bins < 2 {
		return 0
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range samples {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi <= lo {
		return lo
	}
	width := (hi - lo) / float64(bins)
	hist := make([]float64, bins)
	for _, v := range samples {
		b := int((v - lo) / width)
		if b >= bins {
			b = bins - 1
		}
		hist[b]++
	}

	total := float64(len(samples))
	var sumAll float64
	for i, c := range hist {
		sumAll += float64(i) * c
	}
	var (
		weightLow, sumLow float64
		best              = -1.0
		bestBin           int
	)
	for i := 0; i < bins-1; i++ {
		weightLow += hist[i]
		if weightLow == 0 {
			continue
		}
		weightHigh := total - weightLow
		if weightHigh == 0 {
			break
		}
		sumLow += float64(i) * hist[i]
		meanLow := sumLow / weightLow
		meanHigh := (sumAll - sumLow) / weightHigh
		between := weightLow * weightHigh * (meanLow - meanHigh) * (meanLow - meanHigh)
		if between > best {
			best = between
			bestBin = i
		}
	}
	return lo + float64(bestBin+1)*width
}

// LargestComponent keeps the largest 6-connected region of positive voxels.
func LargestComponent(mask *volume.Volume) *volume.Volume {
	g := mask.Grid
	labels := make([]int32, len(mask.Data))
	var (
		next      int32
		bestLabel int32
		bestSize  int
		queue     []int
	)
	offsets := [6][3]int{{1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0}, {0, 0, 1}, {0, 0, -1}}
	for start, v := range mask.Data {
		if v <= 0 || labels[start] != 0 {
			continue
		}
		next++
		labels[start] = next
		queue = append(queue[:0], start)
		size := 0
		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			size++
			x, y, z := g.Coords(idx)
			for _, o := range offsets {
				nx, ny, nz := x+o[0], y+o[1], z+o[2]
				if !g.Contains(nx, ny, nz) {
					continue
				}
				n := g.Index(nx, ny, nz)
				if mask.Data[n] > 0 && labels[n] == 0 {
					labels[n] = next
					queue = append(queue, n)
				}
			}
		}
		if size > bestSize {
			bestSize = size
			bestLabel = next
		}
	}
	out := mask.Like()
	if bestLabel == 0 {
		return out
	}
	for i, l := range labels {
		if l == bestLabel {
			out.Data[i] = 1
		}
	}
	return out
}
