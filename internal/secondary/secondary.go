// Package secondary integrates an optional second modality (for example PET)
// through the primary's frames: rigid alignment to the primary image, reuse
// of the primary brain mask, then the primary's frozen template transform.
//
// Nothing here estimates a mask or a template transform of its own. Failures
// carry services.ErrSecondaryDependency so they end this chain without
// aborting the subject.
package secondary

import (
	"context"
	"fmt"
	"log/slog"

	"mriprep/internal/logging"
	"mriprep/internal/services"
	"mriprep/internal/spatial"
	"mriprep/internal/stage"
	"mriprep/internal/xform"
)

// Integrator is the secondary-integration stage handler.
type Integrator struct {
	registrar xform.Registrar
	logger    *slog.Logger
}

// New constructs the stage with the registrar used for alignment to primary.
// The alignment family is always rigid.
func New(registrar xform.Registrar, logger *slog.Logger) *Integrator {
	i := &Integrator{registrar: registrar}
	i.SetLogger(logger)
	return i
}

// SetLogger implements stage.LoggerAware.
func (i *Integrator) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = logging.NewNop()
	}
	i.logger = logging.NewComponentLogger(logger, "secondary")
}

func (i *Integrator) ID() spatial.Step { return spatial.StepSecondaryIntegration }

func (i *Integrator) Dependencies() []spatial.Step {
	return []spatial.Step{spatial.StepRegistration}
}

func (i *Integrator) After() []spatial.Step {
	return []spatial.Step{spatial.StepSkullStripping, spatial.StepSegmentation}
}

// Preconditions are checked by the chain itself so that gaps stay local to
// the secondary modality.
func (i *Integrator) Preconditions() []spatial.Ref { return nil }

func (i *Integrator) Effects() []spatial.Ref {
	return []spatial.Ref{
		spatial.SecondaryRef("registered_to_primary"),
		spatial.SecondaryRef("masked"),
		spatial.SecondaryRef("standardized"),
	}
}

// Execute runs align, mask and standardize in order. Without a secondary
// image it is a no-op.
func (i *Integrator) Execute(ctx context.Context, data *spatial.Data, _ string) (stage.Outcome, error) {
	sec, ok := data.Secondary()
	if !ok {
		return stage.Skipped("no secondary image supplied"), nil
	}
	logger := logging.WithContext(ctx, i.logger).With(logging.String("modality", sec.Modality))
	native := data.Native()

	result, err := i.registrar.Register(ctx, native.Image, sec.Original(), xform.FamilyRigid)
	if err != nil {
		return stage.Outcome{}, i.fail("align to primary",
			"Check that the secondary image covers the same head as the primary", err)
	}
	if result.Warped == nil || !result.Warped.SameGrid(native.Image) {
		return stage.Outcome{}, i.fail("align to primary", "",
			fmt.Errorf("aligned %s image is not on the native grid %s", sec.Modality, native.Image.Grid))
	}
	sec.RegisteredToPrimary = result.Warped
	sec.ToPrimary = result.Forward
	logger.Info("aligned to primary", logging.String("family", string(xform.FamilyRigid)))

	if err := data.MaskSecondary(); err != nil {
		return stage.Outcome{}, i.fail("reuse brain mask",
			"Enable skull_stripping so the primary brain mask exists", err)
	}
	if err := data.StandardizeSecondary(ctx); err != nil {
		return stage.Outcome{}, i.fail("standardize",
			"Enable registration so the primary template transform exists", err)
	}
	logger.Info("standardized to template", logging.String("grid", sec.Standardized.Grid.String()))
	return stage.Completed(), nil
}

func (i *Integrator) fail(operation, hint string, err error) error {
	return stage.Fail(i.ID(), services.ErrSecondaryDependency, operation, hint, err)
}
