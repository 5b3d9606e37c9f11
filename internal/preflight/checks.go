package preflight

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"mriprep/internal/niftiio"
)

// Outputs for one subject are a handful of compressed volumes; half a GiB
// leaves room for intermediates and ANTs scratch files.
const minFreeBytes = 512 << 20

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "path not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace warns when the filesystem holding path has less than min
// bytes available. It is advisory.
func CheckFreeSpace(name, path string, min uint64) Result {
	result := Result{Name: name, Optional: true}
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		result.Detail = fmt.Sprintf("%s (error: statfs: %v)", path, err)
		return result
	}
	free := stat.Bavail * uint64(stat.Bsize)
	if free < min {
		result.Detail = fmt.Sprintf("%s (%d MiB free, want %d MiB)", path, free>>20, min>>20)
		return result
	}
	result.Passed = true
	result.Detail = fmt.Sprintf("%s (%d MiB free)", path, free>>20)
	return result
}

// CheckImage verifies that path is a readable NIfTI volume with a valid
// 3-D grid. Only the header is decoded.
func CheckImage(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "path not configured"}
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	header, err := niftiio.ReadHeader(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	grid, err := header.Grid()
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", path, grid)}
}

// CheckWorkDir verifies the scratch directory used by external tools.
func CheckWorkDir(path string) Result {
	return CheckDirectoryAccess("Work directory", path)
}
