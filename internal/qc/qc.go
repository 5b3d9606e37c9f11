// Package qc computes quality metrics across native and template space and
// checks them against configured thresholds. It only writes qc_metrics.
package qc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"mriprep/internal/config"
	"mriprep/internal/logging"
	"mriprep/internal/niftiio"
	"mriprep/internal/spatial"
	"mriprep/internal/stage"
	"mriprep/internal/volume"
)

// Metric names written to qc_metrics.
const (
	MetricSNR                     = "snr"
	MetricRegistrationMI          = "registration_mi"
	MetricRegistrationCorrelation = "registration_correlation"
	MetricBrainVolume             = "brain_volume_mm3"
	MetricGMVolume                = "gm_volume"
	MetricWMVolume                = "wm_volume"
	MetricGMVolumeMM3             = "gm_volume_mm3"
	MetricWMVolumeMM3             = "wm_volume_mm3"
	MetricTissueSpace             = "tissue_space"
	MetricProcessingSteps         = "processing_steps"
	MetricNumSteps                = "num_steps"
	MetricDegradedSteps           = "degraded_steps"
	MetricWarnings                = "warnings"
	MetricSecondaryCorrelation    = "secondary_primary_correlation"
)

const probabilityCutoff = 0.5

// Checker is the quality-control stage handler.
type Checker struct {
	opts          config.QualityControl
	referencePath string
	reference     *volume.Volume
	loaded        bool
	logger        *slog.Logger
}

// New constructs the stage. referencePath is the template registrations are
// scored against; it is optional.
func New(opts config.QualityControl, referencePath string, logger *slog.Logger) *Checker {
	c := &Checker{opts: opts, referencePath: strings.TrimSpace(referencePath)}
	c.SetLogger(logger)
	return c
}

// NewWithReference uses an in-memory reference image (used in tests).
func NewWithReference(opts config.QualityControl, reference *volume.Volume, logger *slog.Logger) *Checker {
	c := New(opts, "", logger)
	c.reference = reference
	c.loaded = true
	return c
}

// SetLogger implements stage.LoggerAware.
func (c *Checker) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = logging.NewNop()
	}
	c.logger = logging.NewComponentLogger(logger, "qc")
}

func (c *Checker) ID() spatial.Step            { return spatial.StepQualityControl }
func (c *Checker) Dependencies() []spatial.Step { return nil }

func (c *Checker) After() []spatial.Step {
	return []spatial.Step{
		spatial.StepSkullStripping,
		spatial.StepSegmentation,
		spatial.StepRegistration,
		spatial.StepSecondaryIntegration,
		spatial.StepROIExtraction,
	}
}

func (c *Checker) Preconditions() []spatial.Ref {
	return []spatial.Ref{spatial.Native(spatial.FieldOriginalImage)}
}

func (c *Checker) Effects() []spatial.Ref {
	return []spatial.Ref{spatial.RefQCMetrics}
}

// Execute computes metrics and stores them in qc_metrics.
func (c *Checker) Execute(ctx context.Context, data *spatial.Data, _ string) (stage.Outcome, error) {
	logger := logging.WithContext(ctx, c.logger)
	metrics := make(map[string]any)
	native := data.Native()

	if native.BrainMask != nil {
		if snr, ok := SNR(native.OriginalImage(), native.BrainMask); ok {
			metrics[MetricSNR] = snr
		}
		metrics[MetricBrainVolume] = float64(native.BrainMask.Count(0)) * native.BrainMask.Grid.VoxelVolume()
	}

	if data.HasRegistration() {
		tmpl, err := data.Template()
		if err == nil && tmpl.Image != nil {
			if ref := c.loadReference(logger); ref != nil {
				if ref.SameGrid(tmpl.Image) {
					if mi, ok := MutualInformation(tmpl.Image, ref, c.opts.HistogramBins); ok {
						metrics[MetricRegistrationMI] = mi
					}
					if r, ok := Correlation(tmpl.Image, ref); ok {
						metrics[MetricRegistrationCorrelation] = r
					}
				} else {
					logging.WarnWithContext(logger, "qc reference grid differs from template image", "qc_reference_mismatch",
						logging.String("reference_grid", ref.Grid.String()),
						logging.String("template_grid", tmpl.Image.Grid.String()),
						logging.String(logging.FieldErrorHint, "Point quality_control.template at the registration template"),
						logging.String(logging.FieldImpact, "registration quality metrics are not computed"),
					)
				}
			}
		}
	}

	c.tissueMetrics(data, metrics)

	if sec, ok := data.Secondary(); ok && sec.RegisteredToPrimary != nil {
		if r, ok := Correlation(sec.RegisteredToPrimary, native.OriginalImage()); ok {
			metrics[MetricSecondaryCorrelation] = r
		}
	}

	steps := data.ProcessingSteps()
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = string(s)
	}
	metrics[MetricProcessingSteps] = names
	metrics[MetricNumSteps] = len(steps)
	if degradations := data.Degradations(); len(degradations) > 0 {
		degraded := make([]string, len(degradations))
		for i, d := range degradations {
			degraded[i] = string(d.Step)
		}
		metrics[MetricDegradedSteps] = degraded
	}

	warnings := CheckThresholds(metrics, c.opts.Thresholds)
	metrics[MetricWarnings] = warnings
	for _, w := range warnings {
		logging.WarnWithContext(logger, "quality threshold not met", "qc_threshold",
			logging.String("detail", w),
			logging.String(logging.FieldErrorHint, "Inspect the subject's outputs before using them"),
			logging.String(logging.FieldImpact, "outputs were written but may be unreliable"),
		)
	}
	data.SetQCMetrics(metrics)
	logger.Info("quality metrics computed", logging.Int("metrics", len(metrics)), logging.Int("warnings", len(warnings)))
	return stage.Completed(), nil
}

func (c *Checker) tissueMetrics(data *spatial.Data, metrics map[string]any) {
	gm, wm := data.Native().GMProbability, data.Native().WMProbability
	space := spatial.SpaceNative
	if data.HasRegistration() {
		if tmpl, err := data.Template(); err == nil && tmpl.GMProbability != nil {
			gm, wm = tmpl.GMProbability, tmpl.WMProbability
			space = spatial.SpaceTemplate
		}
	}
	if gm == nil && wm == nil {
		return
	}
	metrics[MetricTissueSpace] = string(space)
	if gm != nil {
		n := gm.Count(probabilityCutoff)
		metrics[MetricGMVolume] = float64(n)
		metrics[MetricGMVolumeMM3] = float64(n) * gm.Grid.VoxelVolume()
	}
	if wm != nil {
		n := wm.Count(probabilityCutoff)
		metrics[MetricWMVolume] = float64(n)
		metrics[MetricWMVolumeMM3] = float64(n) * wm.Grid.VoxelVolume()
	}
}

func (c *Checker) loadReference(logger *slog.Logger) *volume.Volume {
	if c.loaded {
		return c.reference
	}
	c.loaded = true
	if c.referencePath == "" {
		return nil
	}
	ref, err := niftiio.Read(c.referencePath)
	if err != nil {
		logging.WarnWithContext(logger, "qc reference unreadable", "qc_reference_unavailable",
			logging.String("path", c.referencePath),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "Check quality_control.template"),
			logging.String(logging.FieldImpact, "registration quality metrics are not computed"),
		)
		return nil
	}
	c.reference = ref
	return ref
}

// CheckThresholds returns a message for every metric below its minimum.
// Zero thresholds are disabled.
func CheckThresholds(metrics map[string]any, t config.Thresholds) []string {
	var warnings []string
	if snr, ok := metrics[MetricSNR].(float64); ok && t.SNRMin > 0 && snr < t.SNRMin {
		warnings = append(warnings, fmt.Sprintf("SNR (%.2f) below threshold (%g)", snr, t.SNRMin))
	}
	if mi, ok := metrics[MetricRegistrationMI].(float64); ok && t.RegistrationMIMin > 0 && mi < t.RegistrationMIMin {
		warnings = append(warnings, fmt.Sprintf("Registration MI (%.4f) below threshold (%g)", mi, t.RegistrationMIMin))
	}
	if warnings == nil {
		warnings = []string{}
	}
	return warnings
}
