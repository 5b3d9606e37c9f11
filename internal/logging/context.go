package logging

import (
	"context"
	"log/slog"

	"mriprep/internal/services"
)

// Structured keys shared by every component.
const (
	FieldComponent = "component"
	FieldSubject   = "subject"
	FieldStage     = "stage"
	FieldRunID     = "run_id"

	// FieldEventType classifies a record (stage_start, stage_failure, ...).
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to do next.
	FieldErrorHint = "error_hint"
	// FieldImpact states what a warning costs the subject's outputs.
	FieldImpact = "impact"
)

// WithContext returns logger with subject, stage and run_id attached when
// ctx carries them.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if ctx == nil {
		return logger
	}
	var args []any
	if subject, ok := services.SubjectFromContext(ctx); ok {
		args = append(args, slog.String(FieldSubject, subject))
	}
	if step, ok := services.StageFromContext(ctx); ok {
		args = append(args, slog.String(FieldStage, step))
	}
	if runID, ok := services.RunIDFromContext(ctx); ok {
		args = append(args, slog.String(FieldRunID, runID))
	}
	if len(args) == 0 {
		return logger
	}
	return logger.With(args...)
}
