package qc

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"mriprep/internal/volume"
)

// SNR is the mean of img inside mask over the standard deviation of img
// outside it. ok is false when either region is empty or the background is
// flat.
func SNR(img, mask *volume.Volume) (snr float64, ok bool) {
	if img == nil || mask == nil || !img.SameGrid(mask) {
		return 0, false
	}
	var signal, noise []float64
	for i, m := range mask.Data {
		if m > 0 {
			signal = append(signal, img.Data[i])
		} else {
			noise = append(noise, img.Data[i])
		}
	}
	if len(signal) == 0 || len(noise) < 2 {
		return 0, false
	}
	_, sd := stat.PopMeanStdDev(noise, nil)
	if sd == 0 {
		return 0, false
	}
	return stat.Mean(signal, nil) / sd, true
}

// MutualInformation estimates the mutual information in nats of two images on
// the same grid from a bins x bins joint histogram.
func MutualInformation(a, b *volume.Volume, bins int) (float64, bool) {
	if a == nil || b == nil || !a.SameGrid(b) || bins < 2 || len(a.Data) == 0 {
		return 0, false
	}
	ia := binIndices(a.Data, bins)
	ib := binIndices(b.Data, bins)

	joint := make([]float64, bins*bins)
	pa := make([]float64, bins)
	pb := make([]float64, bins)
	n := float64(len(ia))
	for i := range ia {
		joint[ia[i]*bins+ib[i]] += 1 / n
		pa[ia[i]] += 1 / n
		pb[ib[i]] += 1 / n
	}
	mi := stat.Entropy(pa) + stat.Entropy(pb) - stat.Entropy(joint)
	if mi < 0 {
		mi = 0
	}
	return mi, true
}

// Correlation is the Pearson correlation of two images on the same grid.
func Correlation(a, b *volume.Volume) (float64, bool) {
	if a == nil || b == nil || !a.SameGrid(b) || len(a.Data) < 2 {
		return 0, false
	}
	r := stat.Correlation(a.Data, b.Data, nil)
	if math.IsNaN(r) {
		return 0, false
	}
	return r, true
}

func binIndices(data []float64, bins int) []int {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range data {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	out := make([]int, len(data))
	if hi <= lo {
		return out
	}
	scale := float64(bins) / (hi - lo)
	for i, v := range data {
		idx := int((v - lo) * scale)
		if idx >= bins {
			idx = bins - 1
		}
		out[i] = idx
	}
	return out
}
