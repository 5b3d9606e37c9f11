package spatial

import (
	"fmt"
	"strings"
)

// Step identifies a pipeline stage in processing_steps.
type Step string

const (
	StepSkullStripping       Step = "skull-stripping"
	StepSegmentation         Step = "segmentation"
	StepRegistration         Step = "registration"
	StepSecondaryIntegration Step = "secondary-integration"
	StepROIExtraction        Step = "roi-extraction"
	StepQualityControl       Step = "quality-control"
)

var canonicalSteps = []Step{
	StepSkullStripping,
	StepSegmentation,
	StepRegistration,
	StepSecondaryIntegration,
	StepROIExtraction,
	StepQualityControl,
}

// CanonicalSteps returns the mandated total order of stages.
func CanonicalSteps() []Step {
	return append([]Step(nil), canonicalSteps...)
}

// Rank returns the step's position in the canonical order, or -1.
func (s Step) Rank() int {
	for i, candidate := range canonicalSteps {
		if candidate == s {
			return i
		}
	}
	return -1
}

// ParseStep accepts canonical identifiers plus the underscore spellings used
// by older configuration files.
func ParseStep(value string) (Step, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "_", "-")
	switch normalized {
	case "pet-processing", "secondary":
		return StepSecondaryIntegration, nil
	case "qc":
		return StepQualityControl, nil
	}
	step := Step(normalized)
	if step.Rank() < 0 {
		return "", fmt.Errorf("unknown pipeline step %q", value)
	}
	return step, nil
}
