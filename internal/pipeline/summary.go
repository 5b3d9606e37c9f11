package pipeline

import (
	"time"

	"mriprep/internal/outputs"
	"mriprep/internal/services"
	"mriprep/internal/spatial"
)

// RunSummary is the document written to <subject>_summary.json.
type RunSummary struct {
	RunID     string             `json:"run_id"`
	Status    string             `json:"status"`
	StartedAt time.Time          `json:"started_at"`
	Duration  string             `json:"duration"`
	Error     *ErrorSummary      `json:"error,omitempty"`
	Stages    []StageSummary     `json:"stages"`
	Subject   spatial.Summary    `json:"subject"`
	Artifacts []outputs.Artifact `json:"artifacts,omitempty"`
}

// ErrorSummary names the stage, the failing operation and the remediation
// hint of a fatal error.
type ErrorSummary struct {
	Kind      string `json:"kind"`
	Stage     string `json:"stage,omitempty"`
	Operation string `json:"operation,omitempty"`
	Hint      string `json:"hint,omitempty"`
	Message   string `json:"message"`
}

// StageSummary is one attempted stage.
type StageSummary struct {
	Step     spatial.Step `json:"step"`
	Outcome  string       `json:"outcome"`
	Reason   string       `json:"reason,omitempty"`
	Duration string       `json:"duration"`
}

func newRunSummary(result *Result, started time.Time, fatal error) RunSummary {
	s := RunSummary{
		RunID:     result.RunID,
		Status:    string(result.Status),
		StartedAt: started.UTC(),
		Duration:  result.Duration.Round(time.Millisecond).String(),
		Stages:    make([]StageSummary, 0, len(result.Reports)),
		Subject:   result.Data.Summary(),
		Artifacts: result.Manifest.Artifacts,
	}
	for _, r := range result.Reports {
		s.Stages = append(s.Stages, StageSummary{
			Step:     r.Step,
			Outcome:  r.Status(),
			Reason:   r.Reason(),
			Duration: r.Duration.Round(time.Millisecond).String(),
		})
	}
	if fatal != nil {
		s.Error = summarizeError(fatal)
	}
	return s
}

func summarizeError(err error) *ErrorSummary {
	details := services.Details(err)
	kind := "unknown"
	if details.Marker != nil {
		kind = details.Marker.Error()
	}
	return &ErrorSummary{
		Kind:      kind,
		Stage:     details.Stage,
		Operation: details.Operation,
		Hint:      details.Hint,
		Message:   err.Error(),
	}
}
