package config

import (
	"errors"
	"fmt"
	"slices"
)

// Validate checks individual values. Cross-stage dependency rules are the
// orchestrator's job and run when the plan is built.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateSkullStripping(); err != nil {
		return err
	}
	if err := c.validateSegmentation(); err != nil {
		return err
	}
	if err := c.validateRegistration(); err != nil {
		return err
	}
	if err := c.validateSecondary(); err != nil {
		return err
	}
	if err := c.validateROI(); err != nil {
		return err
	}
	if err := c.validateQualityControl(); err != nil {
		return err
	}
	return c.validateANTs()
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	seen := make(map[string]struct{}, len(c.Pipeline.Order))
	for _, id := range c.Pipeline.Order {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("pipeline.order lists %q more than once", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func (c *Config) validateSkullStripping() error {
	switch c.SkullStripping.Method {
	case SkullStripOtsu, SkullStripThreshold:
	default:
		return fmt.Errorf("skull_stripping.method must be otsu or threshold, got %q", c.SkullStripping.Method)
	}
	if c.SkullStripping.Threshold <= 0 || c.SkullStripping.Threshold >= 1 {
		return errors.New("skull_stripping.threshold must be between 0 and 1 (fraction of the maximum intensity)")
	}
	return nil
}

func (c *Config) validateSegmentation() error {
	switch c.Segmentation.Method {
	case SegmentationKMeans, SegmentationAtropos:
	default:
		return fmt.Errorf("segmentation.method must be kmeans or atropos, got %q", c.Segmentation.Method)
	}
	if c.Segmentation.NumClasses != 3 {
		return errors.New("segmentation.num_classes must be 3 (CSF, GM, WM)")
	}
	if c.Segmentation.Iterations < 1 {
		return errors.New("segmentation.iterations must be positive")
	}
	return nil
}

func (c *Config) validateRegistration() error {
	switch c.Registration.Engine {
	case EngineBuiltin, EngineANTs:
	default:
		return fmt.Errorf("registration.engine must be builtin or ants, got %q", c.Registration.Engine)
	}
	switch c.Registration.Family {
	case "rigid", "affine":
	case "nonlinear":
		if c.Registration.Engine != EngineANTs {
			return errors.New("registration.family = nonlinear requires registration.engine = ants")
		}
	default:
		return fmt.Errorf("registration.family must be rigid, affine, or nonlinear, got %q", c.Registration.Family)
	}
	return nil
}

func (c *Config) validateSecondary() error {
	if c.Secondary.RegistrationFamily != "rigid" {
		return fmt.Errorf("secondary.registration_family must be rigid (same-subject alignment), got %q", c.Secondary.RegistrationFamily)
	}
	return nil
}

var validStatistics = []string{"mean", "std", "volume", "median", "min", "max"}

func (c *Config) validateROI() error {
	for _, stat := range c.ROIExtraction.Statistics {
		if !slices.Contains(validStatistics, stat) {
			return fmt.Errorf("roi_extraction.statistics: unknown statistic %q", stat)
		}
	}
	for _, tissue := range c.ROIExtraction.Tissues {
		switch tissue {
		case "gm", "wm", "csf":
		default:
			return fmt.Errorf("roi_extraction.tissues: unknown tissue %q", tissue)
		}
	}
	return nil
}

func (c *Config) validateQualityControl() error {
	if c.QualityControl.HistogramBins < 2 {
		return errors.New("quality_control.histogram_bins must be at least 2")
	}
	if c.QualityControl.Thresholds.SNRMin < 0 {
		return errors.New("quality_control.thresholds.snr_min must be non-negative")
	}
	if c.QualityControl.Thresholds.RegistrationMIMin < 0 {
		return errors.New("quality_control.thresholds.registration_mi_min must be non-negative")
	}
	return nil
}

func (c *Config) validateANTs() error {
	if c.ANTs.Threads < 1 {
		return errors.New("ants.threads must be positive")
	}
	if c.ANTs.TimeoutSeconds < 0 {
		return errors.New("ants.timeout_seconds must be non-negative")
	}
	return nil
}
