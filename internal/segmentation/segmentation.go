// Package segmentation classifies native brain voxels into CSF, GM and WM.
// When the configured segmenter fails, a deterministic percentile split
// stands in and the run is reported as degraded.
package segmentation

import (
	"context"
	"fmt"
	"log/slog"

	"mriprep/internal/logging"
	"mriprep/internal/services"
	"mriprep/internal/spatial"
	"mriprep/internal/stage"
	"mriprep/internal/volume"
)

// Segmenter produces tissue maps on the image's grid.
type Segmenter interface {
	Segment(ctx context.Context, img, mask *volume.Volume, classes int) (volume.TissueMaps, error)
}

// Segmentation is the tissue segmentation stage handler.
type Segmentation struct {
	primary  Segmenter
	fallback Segmenter
	classes  int
	logger   *slog.Logger
}

// New constructs the stage. fallback may be nil, in which case primary
// failures are fatal.
func New(primary, fallback Segmenter, classes int, logger *slog.Logger) *Segmentation {
	s := &Segmentation{primary: primary, fallback: fallback, classes: classes}
	s.SetLogger(logger)
	return s
}

// SetLogger implements stage.LoggerAware.
func (s *Segmentation) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = logging.NewNop()
	}
	s.logger = logging.NewComponentLogger(logger, "segmentation")
}

func (s *Segmentation) ID() spatial.Step            { return spatial.StepSegmentation }
func (s *Segmentation) Dependencies() []spatial.Step { return nil }

func (s *Segmentation) After() []spatial.Step {
	return []spatial.Step{spatial.StepSkullStripping}
}

func (s *Segmentation) Preconditions() []spatial.Ref {
	return []spatial.Ref{spatial.Native(spatial.FieldImage)}
}

func (s *Segmentation) Effects() []spatial.Ref {
	return []spatial.Ref{
		spatial.Native(spatial.FieldSegmentationLabels),
		spatial.Native(spatial.FieldGMProbability),
		spatial.Native(spatial.FieldWMProbability),
		spatial.Native(spatial.FieldCSFProbability),
	}
}

// Execute writes the native label map and probability maps. The brain mask
// restricts classification when skull stripping ran.
func (s *Segmentation) Execute(ctx context.Context, data *spatial.Data, _ string) (stage.Outcome, error) {
	logger := logging.WithContext(ctx, s.logger)
	native := data.Native()

	maps, err := s.run(ctx, s.primary, native.Image, native.BrainMask)
	if err == nil {
		s.store(native, maps)
		logger.Info("tissue segmentation complete", logging.Int("classes", s.classes))
		return stage.Completed(), nil
	}
	if ctx.Err() != nil || s.fallback == nil {
		return stage.Outcome{}, stage.Fail(s.ID(), services.ErrAlgorithm, "segment tissues",
			"Check the segmentation method and its inputs", err)
	}

	logging.WarnWithContext(logger, "segmentation failed; using percentile fallback", "segmentation_fallback",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "Inspect the input contrast or the segmentation.method setting"),
		logging.String(logging.FieldImpact, "tissue maps are hard percentile splits"),
	)
	maps, fbErr := s.run(ctx, s.fallback, native.Image, native.BrainMask)
	if fbErr != nil {
		return stage.Outcome{}, stage.Fail(s.ID(), services.ErrAlgorithm, "segment tissues with fallback",
			"Both the configured segmenter and the fallback failed; check that the brain mask selects tissue",
			fmt.Errorf("%w (primary: %v)", fbErr, err))
	}
	s.store(native, maps)
	return stage.Degraded(fmt.Sprintf("percentile fallback after segmenter failure: %v", err)), nil
}

func (s *Segmentation) run(ctx context.Context, seg Segmenter, img, mask *volume.Volume) (volume.TissueMaps, error) {
	if seg == nil {
		return volume.TissueMaps{}, fmt.Errorf("no segmenter configured")
	}
	maps, err := seg.Segment(ctx, img, mask, s.classes)
	if err != nil {
		return volume.TissueMaps{}, err
	}
	if !maps.Complete() {
		return volume.TissueMaps{}, fmt.Errorf("segmenter returned incomplete tissue maps")
	}
	for _, v := range []*volume.Volume{maps.Labels, maps.CSF, maps.GM, maps.WM} {
		if !v.SameGrid(img) {
			return volume.TissueMaps{}, fmt.Errorf("segmenter returned %s, want native grid %s", v.Grid, img.Grid)
		}
	}
	return maps, nil
}

func (s *Segmentation) store(native *spatial.NativeSpaceData, maps volume.TissueMaps) {
	native.SegmentationLabels = maps.Labels
	native.CSFProbability = maps.CSF
	native.GMProbability = maps.GM
	native.WMProbability = maps.WM
}
