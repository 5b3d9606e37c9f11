package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains output and bookkeeping locations.
type Paths struct {
	OutputDir  string `toml:"output_dir" yaml:"output_dir"`
	LogDir     string `toml:"log_dir" yaml:"log_dir"`
	LedgerPath string `toml:"ledger_path" yaml:"ledger_path"`
	WorkDir    string `toml:"work_dir" yaml:"work_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format" yaml:"format"`
	Level  string `toml:"level" yaml:"level"`
}

// Output controls which artifacts are persisted.
type Output struct {
	SaveIntermediate bool `toml:"save_intermediate" yaml:"save_intermediate"`
	SaveTransforms   bool `toml:"save_transforms" yaml:"save_transforms"`
	Metrics          bool `toml:"metrics" yaml:"metrics"`
}

// Pipeline optionally overrides the canonical stage order. Stages left out of
// Order are not scheduled.
type Pipeline struct {
	Order []string `toml:"order" yaml:"order"`
}

// SkullStripping configures brain mask estimation.
type SkullStripping struct {
	Enabled   bool    `toml:"enabled" yaml:"enabled"`
	Method    string  `toml:"method" yaml:"method"`
	Threshold float64 `toml:"threshold" yaml:"threshold"`
}

// Segmentation configures tissue classification.
type Segmentation struct {
	Enabled    bool   `toml:"enabled" yaml:"enabled"`
	Method     string `toml:"method" yaml:"method"`
	NumClasses int    `toml:"num_classes" yaml:"num_classes"`
	Iterations int    `toml:"iterations" yaml:"iterations"`
}

// Registration configures alignment of the primary image to the template.
type Registration struct {
	Enabled  bool   `toml:"enabled" yaml:"enabled"`
	Engine   string `toml:"engine" yaml:"engine"`
	Family   string `toml:"family" yaml:"family"`
	Template string `toml:"template" yaml:"template"`
}

// Secondary configures integration of an optional second modality.
type Secondary struct {
	Enabled            bool   `toml:"enabled" yaml:"enabled"`
	Modality           string `toml:"modality" yaml:"modality"`
	RegistrationFamily string `toml:"registration_family" yaml:"registration_family"`
}

// ROIExtraction configures atlas-based feature extraction in template space.
type ROIExtraction struct {
	Enabled    bool     `toml:"enabled" yaml:"enabled"`
	AtlasPath  string   `toml:"atlas_path" yaml:"atlas_path"`
	AtlasName  string   `toml:"atlas_name" yaml:"atlas_name"`
	Statistics []string `toml:"statistics" yaml:"statistics"`
	Tissues    []string `toml:"tissues" yaml:"tissues"`
}

// Thresholds holds the QC limits that raise warnings.
type Thresholds struct {
	SNRMin            float64 `toml:"snr_min" yaml:"snr_min"`
	RegistrationMIMin float64 `toml:"registration_mi_min" yaml:"registration_mi_min"`
}

// QualityControl configures metric computation and reporting.
type QualityControl struct {
	Enabled        bool       `toml:"enabled" yaml:"enabled"`
	Template       string     `toml:"template" yaml:"template"`
	GenerateReport bool       `toml:"generate_report" yaml:"generate_report"`
	HistogramBins  int        `toml:"histogram_bins" yaml:"histogram_bins"`
	Thresholds     Thresholds `toml:"thresholds" yaml:"thresholds"`
}

// ANTs configures the external ANTs command-line tools.
type ANTs struct {
	BinDir         string `toml:"bin_dir" yaml:"bin_dir"`
	Threads        int    `toml:"threads" yaml:"threads"`
	TimeoutSeconds int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
}

// Config encapsulates all configuration values for mriprep.
//
// Configuration sections by subsystem:
//   - Paths, Logging, Output: where results and logs go
//   - Pipeline: optional explicit stage order
//   - SkullStripping .. QualityControl: one section per stage
//   - ANTs: external registration and segmentation tools
type Config struct {
	Paths          Paths          `toml:"paths" yaml:"paths"`
	Logging        Logging        `toml:"logging" yaml:"logging"`
	Output         Output         `toml:"output" yaml:"output"`
	Pipeline       Pipeline       `toml:"pipeline" yaml:"pipeline"`
	SkullStripping SkullStripping `toml:"skull_stripping" yaml:"skull_stripping"`
	Segmentation   Segmentation   `toml:"segmentation" yaml:"segmentation"`
	Registration   Registration   `toml:"registration" yaml:"registration"`
	Secondary      Secondary      `toml:"secondary" yaml:"secondary"`
	ROIExtraction  ROIExtraction  `toml:"roi_extraction" yaml:"roi_extraction"`
	QualityControl QualityControl `toml:"quality_control" yaml:"quality_control"`
	ANTs           ANTs           `toml:"ants" yaml:"ants"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/mriprep/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		if err := decode(file, resolvedPath, &cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func decode(r io.Reader, path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(r)
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	default:
		decoder := toml.NewDecoder(r)
		decoder.DisallowUnknownFields()
		return decoder.Decode(cfg)
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("mriprep.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the output, log, and scratch directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.OutputDir, c.Paths.LogDir, c.Paths.WorkDir, filepath.Dir(c.Paths.LedgerPath)} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// UsesANTs reports whether any enabled stage shells out to ANTs.
func (c *Config) UsesANTs() bool {
	if c.Registration.Enabled && c.Registration.Engine == EngineANTs {
		return true
	}
	return c.Segmentation.Enabled && c.Segmentation.Method == SegmentationAtropos
}

// ANTsBinary returns the path of an ANTs executable, honouring ants.bin_dir.
func (c *Config) ANTsBinary(name string) string {
	if c.ANTs.BinDir == "" {
		return name
	}
	return filepath.Join(c.ANTs.BinDir, name)
}

// QCTemplate returns the reference image QC compares registrations against.
func (c *Config) QCTemplate() string {
	if c.QualityControl.Template != "" {
		return c.QualityControl.Template
	}
	return c.Registration.Template
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
