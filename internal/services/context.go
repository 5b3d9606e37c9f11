package services

import "context"

// contextKey indexes the per-run labels carried through a subject's stages.
type contextKey int

const (
	subjectKey contextKey = iota
	stageKey
	runIDKey
)

func withLabel(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func label(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, _ := ctx.Value(key).(string)
	return value, value != ""
}

// WithSubject tags ctx with the subject being processed. Blank ids are ignored.
func WithSubject(ctx context.Context, subject string) context.Context {
	return withLabel(ctx, subjectKey, subject)
}

// SubjectFromContext returns the subject id set by WithSubject.
func SubjectFromContext(ctx context.Context) (string, bool) { return label(ctx, subjectKey) }

// WithStage tags ctx with the pipeline step currently executing.
func WithStage(ctx context.Context, stage string) context.Context {
	return withLabel(ctx, stageKey, stage)
}

// StageFromContext returns the step set by WithStage.
func StageFromContext(ctx context.Context) (string, bool) { return label(ctx, stageKey) }

// WithRunID tags ctx with the ledger run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	return withLabel(ctx, runIDKey, id)
}

// RunIDFromContext returns the run id set by WithRunID.
func RunIDFromContext(ctx context.Context) (string, bool) { return label(ctx, runIDKey) }
