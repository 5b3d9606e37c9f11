package testsupport

import (
	"path/filepath"
	"slices"
	"testing"

	"mriprep/internal/config"
)

// ConfigOption mutates the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig returns a builtin-engine config rooted in a fresh temp directory.
// The reference template and atlas are phantom volumes written under
// refs/, so every stage can run without external tools.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.OutputDir = filepath.Join(base, "output")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.WorkDir = filepath.Join(base, "work")
	cfg.Paths.LedgerPath = filepath.Join(base, "ledger.db")
	cfg.Logging.Level = "error"

	refs := filepath.Join(base, "refs")
	origin := [3]float64{}
	cfg.Registration.Template = WriteVolume(t, refs, "template.nii.gz", Brain(TemplateGrid(), origin))
	cfg.ROIExtraction.AtlasPath = WriteVolume(t, refs, "atlas.nii.gz", Atlas(TemplateGrid(), origin))
	cfg.ROIExtraction.AtlasName = "quadrants"

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithStages enables exactly the named stage IDs and disables the rest.
func WithStages(ids ...string) ConfigOption {
	return func(cfg *config.Config) {
		on := func(id string) bool { return slices.Contains(ids, id) }
		cfg.SkullStripping.Enabled = on("skull-stripping")
		cfg.Segmentation.Enabled = on("segmentation")
		cfg.Registration.Enabled = on("registration")
		cfg.Secondary.Enabled = on("secondary-integration")
		cfg.ROIExtraction.Enabled = on("roi-extraction")
		cfg.QualityControl.Enabled = on("quality-control")
	}
}

// WithConfig applies an arbitrary mutation.
func WithConfig(fn func(*config.Config)) ConfigOption {
	return ConfigOption(fn)
}

// BaseDir returns the temp directory that backs cfg.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.OutputDir)
}
