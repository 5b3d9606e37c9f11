// Package deps resolves the external command-line tools enabled stages
// shell out to.
package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement is one external tool. Command is a bare name resolved on PATH
// or an absolute path.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status is a Requirement after lookup. Path is the resolved executable when
// Available is set; Detail says why it is not.
type Status struct {
	Requirement
	Available bool
	Path      string
	Detail    string
}

// CheckBinaries resolves every requirement in order.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, len(requirements))
	for i, req := range requirements {
		results[i] = check(req)
	}
	return results
}

func check(req Requirement) Status {
	req.Command = strings.TrimSpace(req.Command)
	req.Description = strings.TrimSpace(req.Description)
	status := Status{Requirement: req}
	if req.Command == "" {
		status.Detail = "command not configured"
		return status
	}
	path, err := exec.LookPath(req.Command)
	if err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", req.Command)
		if req.Description != "" {
			status.Detail += "; " + strings.ToLower(req.Description[:1]) + req.Description[1:]
		}
		return status
	}
	status.Available = true
	status.Path = path
	return status
}

// Missing returns the required statuses that are unavailable.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			out = append(out, s)
		}
	}
	return out
}
