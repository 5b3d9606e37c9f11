package deps

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	antsRegistration = "antsRegistrationSyNQuick.sh"
	antsApply        = "antsApplyTransforms"
	antsAtropos      = "Atropos"
)

// ANTsRequirements lists the ANTs tools needed by the enabled stages.
// registration covers the registration and resampling tools, segmentation
// covers Atropos.
func ANTsRequirements(binDir string, registration, segmentation bool) []Requirement {
	var reqs []Requirement
	if registration {
		reqs = append(reqs,
			Requirement{
				Name:        "antsRegistrationSyNQuick",
				Command:     ResolveBinary(binDir, antsRegistration),
				Description: "Required for ANTs template registration",
			},
			Requirement{
				Name:        "antsApplyTransforms",
				Command:     ResolveBinary(binDir, antsApply),
				Description: "Required to resample through ANTs transforms",
			},
		)
	}
	if segmentation {
		reqs = append(reqs, Requirement{
			Name:        "Atropos",
			Command:     ResolveBinary(binDir, antsAtropos),
			Description: "Required for Atropos tissue segmentation",
		})
	}
	return reqs
}

// ResolveBinary prefers an executable named name inside binDir and falls
// back to the bare name so PATH lookup applies.
func ResolveBinary(binDir, name string) string {
	dir := strings.TrimSpace(binDir)
	if dir == "" {
		return name
	}
	candidate := filepath.Join(dir, name)
	if info, err := os.Stat(candidate); err == nil && isExecutable(info) {
		return candidate
	}
	return name
}

func isExecutable(info os.FileInfo) bool {
	if info == nil {
		return false
	}
	if info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
