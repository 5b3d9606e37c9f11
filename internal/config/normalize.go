package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	c.applyEnv()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeStages()
	return nil
}

func (c *Config) applyEnv() {
	if value, ok := os.LookupEnv("MRIPREP_OUTPUT_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.OutputDir = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Registration.Template) == "" {
		if value, ok := os.LookupEnv("MRIPREP_TEMPLATE"); ok {
			c.Registration.Template = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.ROIExtraction.AtlasPath) == "" {
		if value, ok := os.LookupEnv("MRIPREP_ATLAS"); ok {
			c.ROIExtraction.AtlasPath = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		key   string
		value *string
	}{
		{"paths.output_dir", &c.Paths.OutputDir},
		{"paths.log_dir", &c.Paths.LogDir},
		{"paths.ledger_path", &c.Paths.LedgerPath},
		{"paths.work_dir", &c.Paths.WorkDir},
		{"registration.template", &c.Registration.Template},
		{"roi_extraction.atlas_path", &c.ROIExtraction.AtlasPath},
		{"quality_control.template", &c.QualityControl.Template},
		{"ants.bin_dir", &c.ANTs.BinDir},
	}
	for _, field := range fields {
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.key, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeStages() {
	order := make([]string, 0, len(c.Pipeline.Order))
	for _, id := range c.Pipeline.Order {
		if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
			order = append(order, strings.ReplaceAll(id, "_", "-"))
		}
	}
	c.Pipeline.Order = order

	c.SkullStripping.Method = lowerOr(c.SkullStripping.Method, SkullStripOtsu)
	c.Segmentation.Method = lowerOr(c.Segmentation.Method, SegmentationKMeans)
	if c.Segmentation.NumClasses == 0 {
		c.Segmentation.NumClasses = defaultNumClasses
	}
	if c.Segmentation.Iterations == 0 {
		c.Segmentation.Iterations = defaultKMeansIterations
	}

	c.Registration.Engine = lowerOr(c.Registration.Engine, EngineBuiltin)
	c.Registration.Family = canonicalFamily(lowerOr(c.Registration.Family, defaultRegistrationFamily))

	c.Secondary.Modality = strings.TrimSpace(c.Secondary.Modality)
	if c.Secondary.Modality == "" {
		c.Secondary.Modality = defaultSecondaryModality
	}
	c.Secondary.RegistrationFamily = canonicalFamily(lowerOr(c.Secondary.RegistrationFamily, "rigid"))

	c.ROIExtraction.AtlasName = strings.TrimSpace(c.ROIExtraction.AtlasName)
	if c.ROIExtraction.AtlasName == "" {
		c.ROIExtraction.AtlasName = defaultAtlasName
	}
	c.ROIExtraction.Statistics = lowerAll(c.ROIExtraction.Statistics)
	if len(c.ROIExtraction.Statistics) == 0 {
		c.ROIExtraction.Statistics = []string{"mean"}
	}
	c.ROIExtraction.Tissues = lowerAll(c.ROIExtraction.Tissues)
	if len(c.ROIExtraction.Tissues) == 0 {
		c.ROIExtraction.Tissues = []string{"gm", "wm"}
	}

	if c.QualityControl.HistogramBins == 0 {
		c.QualityControl.HistogramBins = defaultHistogramBins
	}
	if c.ANTs.Threads == 0 {
		c.ANTs.Threads = defaultANTsThreads
	}
}

func canonicalFamily(value string) string {
	switch value {
	case "syn", "diffeomorphic":
		return "nonlinear"
	default:
		return value
	}
}

func lowerOr(value, fallback string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return fallback
	}
	return value
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
