package builtin_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"mriprep/internal/builtin"
	"mriprep/internal/testsupport"
	"mriprep/internal/volume"
	"mriprep/internal/xform"
)

func TestOtsuThresholdSplitsBimodalSamples(t *testing.T) {
	samples := []float64{1, 2, 1, 2, 1, 100, 101, 99, 100}
	th := builtin.OtsuThreshold(samples, 64)
	require.Greater(t, th, 2.0)
	require.Less(t, th, 99.0)
}

func TestLargestComponentKeepsBiggestBlob(t *testing.T) {
	g := volume.NewGrid(7, 1, 1)
	mask, err := volume.FromData(g, []float64{1, 0, 1, 1, 1, 0, 1})
	require.NoError(t, err)
	got := builtin.LargestComponent(mask)
	require.Equal(t, []float64{0, 0, 1, 1, 1, 0, 0}, got.Data)
}

func TestMaskerExcludesDetachedSkull(t *testing.T) {
	g := testsupport.NativeGrid()
	centre := [3]float64{4, 2, 3}
	img := testsupport.Phantom(g, centre)

	mask, err := builtin.Masker{Method: "threshold", Fraction: 0.1}.EstimateBrainMask(context.Background(), img)
	require.NoError(t, err)

	for idx, v := range img.Data {
		if v > testsupport.PhantomSkull-2 && v < testsupport.PhantomSkull+2 {
			require.Zero(t, mask.Data[idx], "skull voxel %d kept in mask", idx)
		}
		if v > testsupport.PhantomWM-2 {
			require.Equal(t, 1.0, mask.Data[idx], "white matter voxel %d dropped", idx)
		}
	}
}

func TestMaskerRejectsEmptyImage(t *testing.T) {
	img := volume.New(volume.NewGrid(3, 3, 3))
	_, err := builtin.Masker{Method: "threshold", Fraction: 0.5}.EstimateBrainMask(context.Background(), img)
	require.Error(t, err)
}

func brainMask(img *volume.Volume) *volume.Volume {
	return img.Binarize(testsupport.PhantomCSF / 2)
}

func TestKMeansRecoversPhantomTissues(t *testing.T) {
	g := testsupport.NativeGrid()
	img := testsupport.Phantom(g, [3]float64{0, 0, 0})
	mask := builtin.LargestComponent(brainMask(img))

	maps, err := builtin.KMeansSegmenter{Iterations: 50}.Segment(context.Background(), img, mask, 3)
	require.NoError(t, err)
	require.True(t, maps.Complete())

	for idx, v := range img.Data {
		if mask.Data[idx] == 0 {
			require.Zero(t, maps.Labels.Data[idx])
			continue
		}
		want := volume.LabelWM
		switch {
		case v < 50:
			want = volume.LabelCSF
		case v < 90:
			want = volume.LabelGM
		}
		require.EqualValues(t, want, maps.Labels.Data[idx], "voxel %d value %.1f", idx, v)
		sum := maps.CSF.Data[idx] + maps.GM.Data[idx] + maps.WM.Data[idx]
		require.InDelta(t, 1, sum, 1e-9)
	}
}

func TestKMeansRejectsEmptyMask(t *testing.T) {
	g := volume.NewGrid(4, 4, 4)
	_, err := builtin.KMeansSegmenter{}.Segment(context.Background(), volume.New(g), volume.New(g), 3)
	require.True(t, errors.Is(err, builtin.ErrNoBrainVoxels))
}

func TestPercentileSegmenterProducesHardMaps(t *testing.T) {
	g := volume.NewGrid(9, 1, 1)
	img, err := volume.FromData(g, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9})
	require.NoError(t, err)

	maps, err := builtin.PercentileSegmenter{}.Segment(context.Background(), img, nil, 3)
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2, 3}, maps.Labels.UniqueValues())
	for idx := range img.Data {
		sum := maps.CSF.Data[idx] + maps.GM.Data[idx] + maps.WM.Data[idx]
		require.Equal(t, 1.0, sum)
	}
	require.EqualValues(t, volume.LabelCSF, maps.Labels.Data[0])
	require.EqualValues(t, volume.LabelWM, maps.Labels.Data[8])
}

func TestPercentileSegmenterCutsAreExclusive(t *testing.T) {
	g := volume.NewGrid(5, 1, 1)
	img, err := volume.FromData(g, []float64{0, 5, 5, 5, 9})
	require.NoError(t, err)
	mask, err := volume.FromData(g, []float64{1, 1, 1, 1, 1})
	require.NoError(t, err)

	maps, err := builtin.PercentileSegmenter{}.Segment(context.Background(), img, mask, 3)
	require.NoError(t, err)
	// Both cuts land on 5: a voxel equal to the lower cut is CSF and the
	// zero-intensity voxel stays background.
	require.Equal(t, []float64{0, 1, 1, 1, 3}, maps.Labels.Data)
	require.Equal(t, []float64{0, 1, 1, 1, 0}, maps.CSF.Data)
	require.Equal(t, []float64{0, 0, 0, 0, 1}, maps.WM.Data)
}

func TestMomentEngineRecoversTranslation(t *testing.T) {
	fixed := testsupport.Brain(testsupport.TemplateGrid(), [3]float64{0, 0, 0})
	shift := [3]float64{4, -3, 2}
	moving := testsupport.Brain(testsupport.NativeGrid(), shift)

	res, err := builtin.MomentEngine{}.Register(context.Background(), fixed, moving, xform.FamilyRigid)
	require.NoError(t, err)
	require.True(t, res.Forward.Reference.Equal(fixed.Grid))
	require.True(t, res.Inverse.Reference.Equal(moving.Grid))
	require.True(t, res.Warped.SameGrid(fixed))

	m := res.Forward.Steps[0].Matrix
	for a := 0; a < 3; a++ {
		require.InDelta(t, shift[a], m[a][3], 1.0, "axis %d translation", a)
		require.InDelta(t, 1, m[a][a], 0.05, "axis %d rotation diagonal", a)
	}

	corr := correlation(res.Warped.Data, fixed.Data)
	require.Greater(t, corr, 0.9)
}

func TestMomentEngineRejectsNonlinear(t *testing.T) {
	img := testsupport.Brain(testsupport.TemplateGrid(), [3]float64{})
	_, err := builtin.MomentEngine{}.Register(context.Background(), img, img, xform.FamilyNonlinear)
	require.True(t, errors.Is(err, builtin.ErrUnsupportedFamily))
}

func correlation(a, b []float64) float64 {
	var ma, mb float64
	for i := range a {
		ma += a[i]
		mb += b[i]
	}
	ma /= float64(len(a))
	mb /= float64(len(b))
	var num, da, db float64
	for i := range a {
		num += (a[i] - ma) * (b[i] - mb)
		da += (a[i] - ma) * (a[i] - ma)
		db += (b[i] - mb) * (b[i] - mb)
	}
	return num / math.Sqrt(da*db)
}
