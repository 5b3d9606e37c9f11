// Package registration aligns the primary image to the template and carries
// every populated native field into template space with the resulting
// transform. It is the only stage that writes propagated template fields.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"mriprep/internal/logging"
	"mriprep/internal/niftiio"
	"mriprep/internal/services"
	"mriprep/internal/spatial"
	"mriprep/internal/stage"
	"mriprep/internal/volume"
	"mriprep/internal/xform"
)

// Registration is the registration stage handler.
type Registration struct {
	engine       xform.Engine
	family       xform.Family
	templatePath string
	template     *volume.Volume
	logger       *slog.Logger
}

// New constructs the stage. The template is read on first use.
func New(engine xform.Engine, family xform.Family, templatePath string, logger *slog.Logger) *Registration {
	r := &Registration{engine: engine, family: family, templatePath: strings.TrimSpace(templatePath)}
	r.SetLogger(logger)
	return r
}

// NewWithTemplate uses an in-memory template (used in tests).
func NewWithTemplate(engine xform.Engine, family xform.Family, template *volume.Volume, logger *slog.Logger) *Registration {
	r := New(engine, family, "", logger)
	r.template = template
	return r
}

// SetLogger implements stage.LoggerAware.
func (r *Registration) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = logging.NewNop()
	}
	r.logger = logging.NewComponentLogger(logger, "registration")
}

func (r *Registration) ID() spatial.Step            { return spatial.StepRegistration }
func (r *Registration) Dependencies() []spatial.Step { return nil }

// After keeps native masks and tissue maps computed before the transform is,
// so they are propagated rather than recomputed on another grid.
func (r *Registration) After() []spatial.Step {
	return []spatial.Step{spatial.StepSkullStripping, spatial.StepSegmentation}
}

func (r *Registration) Preconditions() []spatial.Ref {
	return []spatial.Ref{spatial.Native(spatial.FieldImage)}
}

func (r *Registration) Effects() []spatial.Ref {
	refs := []spatial.Ref{
		spatial.RefNativeToTemplate,
		spatial.RefTemplateToNative,
		spatial.TemplateRef(spatial.FieldImage),
	}
	for _, f := range spatial.PropagatedFields() {
		refs = append(refs, spatial.TemplateRef(f))
	}
	return refs
}

// Execute registers native.image to the template, freezes the transforms,
// writes template.image and propagates the remaining native fields.
func (r *Registration) Execute(ctx context.Context, data *spatial.Data, _ string) (stage.Outcome, error) {
	logger := logging.WithContext(ctx, r.logger)

	template, err := r.loadTemplate()
	if err != nil {
		return stage.Outcome{}, err
	}

	native := data.Native()
	result, err := r.engine.Register(ctx, template, native.Image, r.family)
	if err != nil {
		return stage.Outcome{}, stage.Fail(r.ID(), services.ErrAlgorithm, "register to template",
			"Registration failed; check the template path and the registration.family setting", err)
	}
	if !result.Forward.Reference.Equal(template.Grid) {
		return stage.Outcome{}, stage.Fail(r.ID(), services.ErrAlgorithm, "register to template", "",
			fmt.Errorf("forward transform targets %s, template grid is %s", result.Forward.Reference, template.Grid))
	}
	if err := data.SetTransforms(result.Forward, result.Inverse, r.engine); err != nil {
		return stage.Outcome{}, stage.Fail(r.ID(), services.ErrPropagation, "freeze transforms", "", err)
	}

	tmpl, err := data.Template()
	if err != nil {
		return stage.Outcome{}, stage.Fail(r.ID(), services.ErrPropagation, "open template space", "", err)
	}
	warped := result.Warped
	if warped == nil || !warped.Grid.Equal(template.Grid) {
		warped, err = data.ApplyForward(ctx, native.Image, xform.InterpLinear)
		if err != nil {
			return stage.Outcome{}, stage.Fail(r.ID(), services.ErrPropagation, "resample image", "", err)
		}
	}
	tmpl.Image = warped

	propagated := make([]string, 0, len(spatial.PropagatedFields()))
	for _, field := range spatial.PropagatedFields() {
		if native.Field(field) == nil {
			continue
		}
		if err := data.PropagateToTemplate(ctx, field, field.Interpolation()); err != nil {
			return stage.Outcome{}, stage.Fail(r.ID(), services.ErrPropagation, "propagate "+string(field), "", err)
		}
		propagated = append(propagated, string(field))
	}

	logger.Info(
		"registered to template",
		logging.String("family", string(r.family)),
		logging.String("engine", result.Forward.Engine),
		logging.String("template_grid", template.Grid.String()),
		logging.String("propagated_fields", strings.Join(propagated, ",")),
	)
	return stage.Completed(), nil
}

func (r *Registration) loadTemplate() (*volume.Volume, error) {
	if r.template != nil {
		return r.template, nil
	}
	if r.templatePath == "" {
		return nil, stage.Fail(r.ID(), services.ErrMissingResource, "load template",
			"Set registration.template (or MRIPREP_TEMPLATE) to a reference NIfTI file", errors.New("no template configured"))
	}
	tmpl, err := niftiio.Read(r.templatePath)
	if err != nil {
		marker := services.ErrValidation
		if errors.Is(err, os.ErrNotExist) {
			marker = services.ErrMissingResource
		}
		return nil, stage.Fail(r.ID(), marker, "load template",
			fmt.Sprintf("Supply a readable template at %s", r.templatePath), err)
	}
	r.template = tmpl
	return tmpl, nil
}
