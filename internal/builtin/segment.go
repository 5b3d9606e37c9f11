package builtin

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"mriprep/internal/volume"
)

// ErrNoBrainVoxels is returned when the mask selects nothing.
var ErrNoBrainVoxels = errors.New("no brain voxels found in mask")

// ErrDegenerateClusters is returned when k-means collapses a class.
var ErrDegenerateClusters = errors.New("k-means produced an empty tissue class")

const tissueClasses = 3

// KMeansSegmenter clusters brain intensities into CSF, GM and WM (ordered by
// increasing mean, the T1 contrast) and derives soft probability maps from a
// Gaussian model of each cluster.
type KMeansSegmenter struct {
	Iterations int
}

// Segment implements the tissue segmenter contract.
func (s KMeansSegmenter) Segment(ctx context.Context, img, mask *volume.Volume, classes int) (volume.TissueMaps, error) {
	if classes != tissueClasses {
		return volume.TissueMaps{}, fmt.Errorf("kmeans segmentation supports %d classes, got %d", tissueClasses, classes)
	}
	samples, err := img.Select(mask)
	if err != nil {
		return volume.TissueMaps{}, err
	}
	if len(samples) == 0 {
		return volume.TissueMaps{}, ErrNoBrainVoxels
	}

	iterations := s.Iterations
	if iterations <= 0 {
		iterations = 50
	}
	summary := volume.Describe(samples)
	centers := make([]float64, classes)
	for c := range centers {
		centers[c] = summary.Min + (float64(c)+0.5)/float64(classes)*(summary.Max-summary.Min)
	}
	assign := make([]int, len(samples))
	for iter := 0; iter < iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return volume.TissueMaps{}, err
		}
		changed := false
		for i, v := range samples {
			if c := nearest(centers, v); c != assign[i] {
				assign[i] = c
				changed = true
			}
		}
		sums := make([]float64, classes)
		counts := make([]int, classes)
		for i, v := range samples {
			sums[assign[i]] += v
			counts[assign[i]]++
		}
		for c := range centers {
			if counts[c] == 0 {
				return volume.TissueMaps{}, ErrDegenerateClusters
			}
			centers[c] = sums[c] / float64(counts[c])
		}
		if !changed {
			break
		}
	}
	if !slices.IsSorted(centers) {
		return volume.TissueMaps{}, fmt.Errorf("kmeans centres out of order: %v", centers)
	}

	variances := make([]float64, classes)
	weights := make([]float64, classes)
	for i, v := range samples {
		d := v - centers[assign[i]]
		variances[assign[i]] += d * d
		weights[assign[i]]++
	}
	spread := math.Max(centers[classes-1]-centers[0], 1e-6)
	for c := range variances {
		variances[c] = math.Max(variances[c]/weights[c], math.Pow(spread*1e-3, 2))
		weights[c] /= float64(len(samples))
	}

	maps := newTissueMaps(img)
	for idx, v := range img.Data {
		if mask != nil && mask.Data[idx] <= 0 {
			continue
		}
		var probs [tissueClasses]float64
		var total float64
		for c := 0; c < classes; c++ {
			d := v - centers[c]
			probs[c] = weights[c] * math.Exp(-d*d/(2*variances[c])) / math.Sqrt(variances[c])
			total += probs[c]
		}
		best := nearest(centers, v)
		if total <= 0 || math.IsNaN(total) {
			probs = [tissueClasses]float64{}
			probs[best] = 1
			total = 1
		}
		maps.CSF.Data[idx] = probs[0] / total
		maps.GM.Data[idx] = probs[1] / total
		maps.WM.Data[idx] = probs[2] / total
		maps.Labels.Data[idx] = float64(best + 1)
	}
	return maps, nil
}

func nearest(centers []float64, v float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centre := range centers {
		if d := math.Abs(v - centre); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// PercentileSegmenter is the deterministic fallback. Brain voxels with a
// positive intensity are split at the 33rd and 66th percentiles: up to the
// first cut is CSF, up to the second GM, above it WM. Voxels outside the mask
// or at zero intensity stay background. Probability maps are hard 0/1
// indicators.
type PercentileSegmenter struct{}

// Segment implements the tissue segmenter contract.
func (PercentileSegmenter) Segment(ctx context.Context, img, mask *volume.Volume, classes int) (volume.TissueMaps, error) {
	if classes != tissueClasses {
		return volume.TissueMaps{}, fmt.Errorf("percentile segmentation supports %d classes, got %d", tissueClasses, classes)
	}
	selected, err := img.Select(mask)
	if err != nil {
		return volume.TissueMaps{}, err
	}
	samples := slices.DeleteFunc(selected, func(v float64) bool { return v <= 0 })
	if len(samples) == 0 {
		return volume.TissueMaps{}, ErrNoBrainVoxels
	}
	if err := ctx.Err(); err != nil {
		return volume.TissueMaps{}, err
	}
	cuts := volume.Quantiles(samples, 0.33, 0.66)

	maps := newTissueMaps(img)
	for idx, v := range img.Data {
		if v <= 0 || (mask != nil && mask.Data[idx] <= 0) {
			continue
		}
		switch {
		case v > cuts[1]:
			maps.WM.Data[idx] = 1
			maps.Labels.Data[idx] = volume.LabelWM
		case v > cuts[0]:
			maps.GM.Data[idx] = 1
			maps.Labels.Data[idx] = volume.LabelGM
		default:
			maps.CSF.Data[idx] = 1
			maps.Labels.Data[idx] = volume.LabelCSF
		}
	}
	return maps, nil
}

func newTissueMaps(img *volume.Volume) volume.TissueMaps {
	return volume.TissueMaps{
		Labels: img.Like(),
		CSF:    img.Like(),
		GM:     img.Like(),
		WM:     img.Like(),
	}
}
