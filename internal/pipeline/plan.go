package pipeline

import (
	"fmt"
	"slices"

	"mriprep/internal/config"
	"mriprep/internal/services"
	"mriprep/internal/spatial"
	"mriprep/internal/stage"
)

// Plan is the ordered list of enabled stages.
type Plan []spatial.Step

// Contains reports whether step is scheduled.
func (p Plan) Contains(step spatial.Step) bool {
	return slices.Contains(p, step)
}

func (p Plan) position(step spatial.Step) int {
	return slices.Index(p, step)
}

// EnabledSteps maps every stage to its configuration toggle.
func EnabledSteps(cfg *config.Config) map[spatial.Step]bool {
	return map[spatial.Step]bool{
		spatial.StepSkullStripping:       cfg.SkullStripping.Enabled,
		spatial.StepSegmentation:         cfg.Segmentation.Enabled,
		spatial.StepRegistration:         cfg.Registration.Enabled,
		spatial.StepSecondaryIntegration: cfg.Secondary.Enabled,
		spatial.StepROIExtraction:        cfg.ROIExtraction.Enabled,
		spatial.StepQualityControl:       cfg.QualityControl.Enabled,
	}
}

// BuildPlan returns the enabled stages in canonical order, or in the order
// given by pipeline.order when it is set. Disabling a stage removes it
// without reordering the rest.
func BuildPlan(cfg *config.Config) (Plan, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "build plan", "", fmt.Errorf("config is nil"))
	}
	enabled := EnabledSteps(cfg)

	order := spatial.CanonicalSteps()
	if len(cfg.Pipeline.Order) > 0 {
		order = make([]spatial.Step, 0, len(cfg.Pipeline.Order))
		for _, raw := range cfg.Pipeline.Order {
			step, err := spatial.ParseStep(raw)
			if err != nil {
				return nil, services.Wrap(services.ErrConfiguration, "pipeline", "build plan",
					"Use stage identifiers such as skull-stripping or quality-control in pipeline.order", err)
			}
			if slices.Contains(order, step) {
				return nil, services.Wrap(services.ErrConfiguration, "pipeline", "build plan",
					"List each stage once in pipeline.order", fmt.Errorf("%s scheduled twice", step))
			}
			order = append(order, step)
		}
	}

	plan := make(Plan, 0, len(order))
	for _, step := range order {
		if enabled[step] {
			plan = append(plan, step)
		}
	}
	return plan, nil
}

// ValidatePlan checks every scheduled stage against its declared
// dependencies and ordering constraints. It runs before any image is read.
func ValidatePlan(plan Plan, handlers map[spatial.Step]stage.Handler) error {
	for i, step := range plan {
		h, ok := handlers[step]
		if !ok || h == nil {
			return services.Wrap(services.ErrConfiguration, string(step), "validate plan", "", fmt.Errorf("no handler registered"))
		}
		for _, dep := range h.Dependencies() {
			pos := plan.position(dep)
			if pos < 0 {
				return services.Wrap(services.ErrDependencyOrder, string(step), "validate plan",
					fmt.Sprintf("Enable %s or disable %s in configuration", dep, step),
					fmt.Errorf("%s requires %s, which is disabled", step, dep))
			}
			if pos > i {
				return services.Wrap(services.ErrDependencyOrder, string(step), "validate plan",
					fmt.Sprintf("Schedule %s before %s in pipeline.order", dep, step),
					fmt.Errorf("%s is scheduled before its dependency %s", step, dep))
			}
		}
		for _, prior := range h.After() {
			if pos := plan.position(prior); pos > i {
				return services.Wrap(services.ErrDependencyOrder, string(step), "validate plan",
					fmt.Sprintf("Schedule %s before %s in pipeline.order", prior, step),
					fmt.Errorf("%s must run after %s", step, prior))
			}
		}
	}
	return nil
}
