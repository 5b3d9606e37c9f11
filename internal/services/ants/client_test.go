package ants_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"mriprep/internal/niftiio"
	"mriprep/internal/services"
	"mriprep/internal/services/ants"
	"mriprep/internal/volume"
	"mriprep/internal/xform"
)

// fakeExecutor records invocations and writes the files each tool would
// produce, using the argument layout the client passes.
type fakeExecutor struct {
	t        *testing.T
	binaries []string
	args     [][]string
	err      error
	lines    []string
}

func (f *fakeExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	f.binaries = append(f.binaries, binary)
	f.args = append(f.args, append([]string(nil), args...))
	for _, line := range f.lines {
		onStdout(line)
	}
	if f.err != nil {
		return f.err
	}
	flags := parseFlags(args)
	switch filepath.Base(binary) {
	case "antsRegistrationSyNQuick.sh":
		fixed, err := niftiio.Read(flags["-f"])
		require.NoError(f.t, err)
		prefix := flags["-o"]
		require.NoError(f.t, niftiio.Write(prefix+"Warped.nii.gz", fixed))
		require.NoError(f.t, os.WriteFile(prefix+"0GenericAffine.mat", []byte("affine"), 0o644))
		if flags["-t"] == "s" {
			require.NoError(f.t, niftiio.Write(prefix+"1Warp.nii.gz", fixed))
			require.NoError(f.t, niftiio.Write(prefix+"1InverseWarp.nii.gz", fixed))
		}
	case "antsApplyTransforms":
		ref, err := niftiio.Read(flags["-r"])
		require.NoError(f.t, err)
		out := ref.Like()
		for i := range out.Data {
			out.Data[i] = 7
		}
		require.NoError(f.t, niftiio.Write(flags["-o"], out))
	case "Atropos":
		img, err := niftiio.Read(flags["-a"])
		require.NoError(f.t, err)
		outputs := strings.Split(strings.Trim(flags["-o"], "[]"), ",")
		labels := img.Like()
		for i := range labels.Data {
			labels.Data[i] = volume.LabelGM
		}
		require.NoError(f.t, niftiio.Write(outputs[0], labels))
		for class := 1; class <= 3; class++ {
			prob := img.Like()
			for i := range prob.Data {
				prob.Data[i] = float64(class) / 10
			}
			require.NoError(f.t, niftiio.Write(fmt.Sprintf(outputs[1], class), prob))
		}
	}
	return nil
}

func parseFlags(args []string) map[string]string {
	flags := make(map[string]string)
	for i := 0; i+1 < len(args); i += 2 {
		if _, seen := flags[args[i]]; seen {
			continue
		}
		flags[args[i]] = args[i+1]
	}
	return flags
}

func testVolume() *volume.Volume {
	g := volume.NewGrid(4, 4, 4)
	v := volume.New(g)
	for i := range v.Data {
		v.Data[i] = float64(i % 5)
	}
	return v
}

func newClient(t *testing.T, exec ants.Executor) *ants.Client {
	t.Helper()
	client, err := ants.New("/opt/ants/bin", t.TempDir(), 4, 60, ants.WithExecutor(exec))
	require.NoError(t, err)
	return client
}

func TestNewRequiresWorkDir(t *testing.T) {
	_, err := ants.New("", " ", 1, 0)
	require.Error(t, err)
}

func TestRegisterAffineBuildsFileTransforms(t *testing.T) {
	exec := &fakeExecutor{t: t}
	client := newClient(t, exec)
	fixed := testVolume()
	moving := testVolume()
	moving.Grid.Spacing = [3]float64{2, 2, 2}

	result, err := client.Register(context.Background(), fixed, moving, xform.FamilyAffine)
	require.NoError(t, err)

	require.Equal(t, []string{"/opt/ants/bin/antsRegistrationSyNQuick.sh"}, exec.binaries)
	flags := parseFlags(exec.args[0])
	require.Equal(t, "a", flags["-t"])
	require.Equal(t, "4", flags["-n"])

	require.Len(t, result.Forward.Steps, 1)
	require.True(t, strings.HasSuffix(result.Forward.Steps[0].Path, "0GenericAffine.mat"))
	require.False(t, result.Forward.Steps[0].Invert)
	require.True(t, result.Forward.Reference.Equal(fixed.Grid))

	require.Len(t, result.Inverse.Steps, 1)
	require.True(t, result.Inverse.Steps[0].Invert)
	require.True(t, result.Inverse.Reference.Equal(moving.Grid))
	require.Equal(t, ants.EngineName, result.Forward.Engine)
	require.True(t, result.Warped.SameGrid(fixed))
}

func TestScratchDirsGroupUnderRunDir(t *testing.T) {
	workDir := t.TempDir()
	client, err := ants.New("", workDir, 1, 0, ants.WithExecutor(&fakeExecutor{t: t}))
	require.NoError(t, err)
	ctx := services.WithRunID(context.Background(), "run-42")

	result, err := client.Register(ctx, testVolume(), testVolume(), xform.FamilyAffine)
	require.NoError(t, err)

	runDir := ants.RunDir(workDir, "run-42")
	rel, err := filepath.Rel(runDir, result.Forward.Steps[0].Path)
	require.NoError(t, err)
	require.False(t, strings.HasPrefix(rel, ".."), "transform %s outside %s", result.Forward.Steps[0].Path, runDir)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, filepath.Base(runDir), entries[0].Name())
}

func TestRegisterSyNOrdersWarpBeforeAffine(t *testing.T) {
	client := newClient(t, &fakeExecutor{t: t})
	result, err := client.Register(context.Background(), testVolume(), testVolume(), xform.FamilyNonlinear)
	require.NoError(t, err)

	require.Len(t, result.Forward.Steps, 2)
	require.True(t, strings.HasSuffix(result.Forward.Steps[0].Path, "1Warp.nii.gz"))
	require.True(t, strings.HasSuffix(result.Forward.Steps[1].Path, "0GenericAffine.mat"))

	require.Len(t, result.Inverse.Steps, 2)
	require.True(t, result.Inverse.Steps[0].Invert)
	require.True(t, strings.HasSuffix(result.Inverse.Steps[1].Path, "1InverseWarp.nii.gz"))
}

func TestRegisterReturnsExecutorErrorWithOutputTail(t *testing.T) {
	exec := &fakeExecutor{t: t, err: errors.New("exit status 1"), lines: []string{"Exception caught"}}
	client := newClient(t, exec)
	_, err := client.Register(context.Background(), testVolume(), testVolume(), xform.FamilyRigid)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Exception caught")
}

func TestApplyUsesMatricesInProcess(t *testing.T) {
	exec := &fakeExecutor{t: t}
	client := newClient(t, exec)
	img := testVolume()
	identity := xform.Identity()
	tr := xform.Transform{Engine: "builtin", Family: xform.FamilyRigid, Reference: img.Grid, Steps: []xform.Step{{Matrix: &identity}}}

	out, err := client.Apply(context.Background(), img, tr, xform.InterpNearest)
	require.NoError(t, err)
	require.Empty(t, exec.binaries)
	require.True(t, out.Equal(img))
}

func TestApplyFileTransformInvokesAntsApplyTransforms(t *testing.T) {
	exec := &fakeExecutor{t: t}
	client := newClient(t, exec)
	reference := volume.NewGrid(3, 3, 3)
	tr := xform.Transform{
		Engine:    ants.EngineName,
		Family:    xform.FamilyAffine,
		Reference: reference,
		Steps:     []xform.Step{{Path: "/work/out_0GenericAffine.mat", Invert: true}},
	}

	out, err := client.Apply(context.Background(), testVolume(), tr, xform.InterpNearest)
	require.NoError(t, err)
	require.True(t, out.Grid.Equal(reference))
	require.Equal(t, 7.0, out.At(1, 1, 1))

	args := exec.args[0]
	require.Contains(t, args, "NearestNeighbor")
	require.Contains(t, args, "[/work/out_0GenericAffine.mat,1]")
}

func TestApplyRejectsImplicitInterpolation(t *testing.T) {
	client := newClient(t, &fakeExecutor{t: t})
	tr := xform.Transform{Reference: volume.NewGrid(2, 2, 2), Steps: []xform.Step{{Path: "warp.nii.gz"}}}
	_, err := client.Apply(context.Background(), testVolume(), tr, xform.InterpInvalid)
	require.Error(t, err)
}

func TestSegmentMapsPosteriorsToTissues(t *testing.T) {
	exec := &fakeExecutor{t: t}
	client := newClient(t, exec)
	img := testVolume()

	maps, err := client.Segment(context.Background(), img, img.Binarize(0), 3)
	require.NoError(t, err)
	require.True(t, maps.Complete())
	require.InDelta(t, 0.1, maps.CSF.At(0, 0, 0), 1e-6)
	require.InDelta(t, 0.2, maps.GM.At(0, 0, 0), 1e-6)
	require.InDelta(t, 0.3, maps.WM.At(0, 0, 0), 1e-6)
	require.Equal(t, float64(volume.LabelGM), maps.Labels.At(2, 2, 2))

	flags := parseFlags(exec.args[0])
	require.Equal(t, "KMeans[3]", flags["-i"])
}

func TestSegmentRejectsOtherClassCounts(t *testing.T) {
	client := newClient(t, &fakeExecutor{t: t})
	img := testVolume()
	_, err := client.Segment(context.Background(), img, img.Binarize(0), 4)
	require.Error(t, err)
}
