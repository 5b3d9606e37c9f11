package volume

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// Summary holds descriptive statistics over a sample selection.
type Summary struct {
	Count  int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
	Median float64
}

// Select returns the samples of v where mask is strictly positive. A nil mask
// selects every sample.
func (v *Volume) Select(mask *Volume) ([]float64, error) {
	if mask == nil {
		return slices.Clone(v.Data), nil
	}
	if !v.SameGrid(mask) {
		return nil, ErrGridMismatch
	}
	out := make([]float64, 0, len(v.Data)/2)
	for i, m := range mask.Data {
		if m > 0 {
			out = append(out, v.Data[i])
		}
	}
	return out, nil
}

// Describe computes summary statistics for the samples. The standard
// deviation is the population value (divisor n) and the median averages the
// two middle samples of an even-sized selection. An empty input yields a
// zero Summary.
func Describe(samples []float64) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	mean, std := stat.PopMeanStdDev(sorted, nil)
	return Summary{
		Count:  len(sorted),
		Mean:   mean,
		StdDev: std,
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Median: percentile(sorted, 0.5),
	}
}

// Quantiles returns the quantiles of samples for each p in ps, interpolating
// linearly between the closest ranks.
func Quantiles(samples []float64, ps ...float64) []float64 {
	if len(samples) == 0 {
		return make([]float64, len(ps))
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = percentile(sorted, p)
	}
	return out
}

// percentile reads quantile p (0..1) from sorted samples at fractional rank
// p*(n-1).
func percentile(sorted []float64, p float64) float64 {
	p = math.Min(1, math.Max(0, p))
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
