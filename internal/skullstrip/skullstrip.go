// Package skullstrip estimates the native brain mask and strips non-brain
// tissue from the primary image.
package skullstrip

import (
	"context"
	"fmt"
	"log/slog"

	"mriprep/internal/builtin"
	"mriprep/internal/config"
	"mriprep/internal/logging"
	"mriprep/internal/services"
	"mriprep/internal/spatial"
	"mriprep/internal/stage"
	"mriprep/internal/volume"
)

// Masker estimates a binary brain mask on the image's grid.
type Masker interface {
	EstimateBrainMask(ctx context.Context, img *volume.Volume) (*volume.Volume, error)
}

// Stripper is the skull-stripping stage handler.
type Stripper struct {
	masker Masker
	logger *slog.Logger
}

// New constructs the stage with the configured builtin masker.
func New(cfg *config.Config, logger *slog.Logger) *Stripper {
	return NewWithMasker(builtin.Masker{
		Method:   cfg.SkullStripping.Method,
		Fraction: cfg.SkullStripping.Threshold,
	}, logger)
}

// NewWithMasker allows injecting the mask estimator (used in tests).
func NewWithMasker(masker Masker, logger *slog.Logger) *Stripper {
	s := &Stripper{masker: masker}
	s.SetLogger(logger)
	return s
}

// SetLogger implements stage.LoggerAware.
func (s *Stripper) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = logging.NewNop()
	}
	s.logger = logging.NewComponentLogger(logger, "skullstrip")
}

func (s *Stripper) ID() spatial.Step            { return spatial.StepSkullStripping }
func (s *Stripper) Dependencies() []spatial.Step { return nil }
func (s *Stripper) After() []spatial.Step        { return nil }

func (s *Stripper) Preconditions() []spatial.Ref {
	return []spatial.Ref{spatial.Native(spatial.FieldImage)}
}

func (s *Stripper) Effects() []spatial.Ref {
	return []spatial.Ref{spatial.Native(spatial.FieldImage), spatial.Native(spatial.FieldBrainMask)}
}

// Execute writes native.brain_mask and replaces native.image with the
// masked brain.
func (s *Stripper) Execute(ctx context.Context, data *spatial.Data, _ string) (stage.Outcome, error) {
	logger := logging.WithContext(ctx, s.logger)
	native := data.Native()

	mask, err := s.masker.EstimateBrainMask(ctx, native.Image)
	if err != nil {
		return stage.Outcome{}, stage.Fail(s.ID(), services.ErrAlgorithm, "estimate brain mask",
			"Check the input contrast or switch skull_stripping.method; there is no fallback for a failed mask", err)
	}
	if mask == nil || !mask.SameGrid(native.Image) {
		return stage.Outcome{}, stage.Fail(s.ID(), services.ErrAlgorithm, "estimate brain mask",
			"Mask estimator returned a volume off the native grid", fmt.Errorf("mask grid mismatch"))
	}
	brain, err := native.Image.Multiply(mask)
	if err != nil {
		return stage.Outcome{}, stage.Fail(s.ID(), services.ErrAlgorithm, "apply brain mask", "", err)
	}

	native.BrainMask = mask
	native.Image = brain

	voxels := mask.Count(0)
	logger.Info(
		"brain mask estimated",
		logging.Int("brain_voxels", voxels),
		logging.Float64("brain_volume_mm3", float64(voxels)*mask.Grid.VoxelVolume()),
	)
	return stage.Completed(), nil
}
