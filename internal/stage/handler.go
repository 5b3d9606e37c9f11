package stage

import (
	"context"
	"log/slog"

	"mriprep/internal/spatial"
)

// Handler describes the contract the orchestrator needs from each stage.
type Handler interface {
	// ID is the identifier recorded in processing_steps.
	ID() spatial.Step
	// Dependencies must be enabled and scheduled earlier.
	Dependencies() []spatial.Step
	// After must be scheduled earlier when they are enabled.
	After() []spatial.Step
	// Preconditions must be populated when Execute is called.
	Preconditions() []spatial.Ref
	// Effects are the only slots Execute may populate.
	Effects() []spatial.Ref
	Execute(ctx context.Context, data *spatial.Data, outDir string) (Outcome, error)
}

// LoggerAware handlers accept a stage-scoped logger before execution.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}
