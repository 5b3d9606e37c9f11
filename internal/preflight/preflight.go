package preflight

import (
	"context"
	"fmt"
	"strings"

	"mriprep/internal/config"
	"mriprep/internal/deps"
	"mriprep/internal/services"
)

// Result reports the outcome of a single preflight check. Optional results
// never block a run.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding stage is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Output directory (always checked)
	results = append(results, CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir))
	results = append(results, CheckFreeSpace("Output free space", cfg.Paths.OutputDir, minFreeBytes))

	if cfg.Registration.Enabled {
		results = append(results, CheckImage("Registration template", cfg.Registration.Template))
	}
	if cfg.ROIExtraction.Enabled {
		results = append(results, CheckImage("ROI atlas", cfg.ROIExtraction.AtlasPath))
	}

	// QC scores registration against a reference when one is available.
	if cfg.QualityControl.Enabled && strings.TrimSpace(cfg.QCTemplate()) != "" {
		check := CheckImage("QC reference", cfg.QCTemplate())
		check.Optional = true
		results = append(results, check)
	}

	if cfg.UsesANTs() {
		results = append(results, CheckWorkDir(cfg.Paths.WorkDir))
		for _, status := range CheckSystemDeps(ctx, cfg) {
			result := Result{Name: status.Name, Passed: status.Available, Optional: status.Optional}
			if status.Available {
				result.Detail = status.Path
			} else {
				result.Detail = status.Detail
			}
			results = append(results, result)
		}
	}

	return results
}

// Failures returns the required checks that did not pass.
func Failures(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			out = append(out, r)
		}
	}
	return out
}

// Err folds failed required checks into a single missing-resource error, or
// returns nil when every required check passed.
func Err(results []Result) error {
	failed := Failures(results)
	if len(failed) == 0 {
		return nil
	}
	parts := make([]string, 0, len(failed))
	for _, r := range failed {
		parts = append(parts, fmt.Sprintf("%s: %s", r.Name, r.Detail))
	}
	return services.Wrap(
		services.ErrMissingResource,
		"preflight",
		"check resources",
		"Fix the listed paths or tools, then rerun `mriprep preflight`",
		fmt.Errorf("%s", strings.Join(parts, "; ")),
	)
}

// CheckSystemDeps evaluates the external tools required by the enabled stages.
func CheckSystemDeps(_ context.Context, cfg *config.Config) []deps.Status {
	registration := cfg.Registration.Enabled && cfg.Registration.Engine == config.EngineANTs
	segmentation := cfg.Segmentation.Enabled && cfg.Segmentation.Method == config.SegmentationAtropos
	return deps.CheckBinaries(deps.ANTsRequirements(cfg.ANTs.BinDir, registration, segmentation))
}
