// Package stageexec runs a single stage handler against a subject record and
// applies the bookkeeping every stage shares: logging, precondition and
// effect checks, outcome classification and processing_steps updates.
package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"mriprep/internal/logging"
	"mriprep/internal/services"
	"mriprep/internal/spatial"
	"mriprep/internal/stage"
)

// StatusFailed labels a report whose stage returned an error.
const StatusFailed = "failed"

// Options controls one stage execution.
type Options struct {
	Logger  *slog.Logger
	Handler stage.Handler
	Data    *spatial.Data
	OutDir  string
}

// Report describes how a stage finished.
type Report struct {
	Step      spatial.Step
	Outcome   stage.Outcome
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// Fatal reports whether the failure must stop the remaining stages.
func (r Report) Fatal() bool {
	return r.Err != nil && services.IsFatalForSubject(r.Err)
}

// Status is the outcome kind, or "failed" when the stage errored.
func (r Report) Status() string {
	if r.Err != nil {
		return StatusFailed
	}
	return string(r.Outcome.Kind)
}

// Reason is the degradation or skip reason, or the error message.
func (r Report) Reason() string {
	if r.Err != nil {
		return strings.TrimSpace(r.Err.Error())
	}
	return r.Outcome.Reason
}

// Run executes a stage and records its outcome on the subject record.
// Completed and degraded stages are appended to processing_steps; degraded
// stages and non-fatal failures are also recorded as degradations.
func Run(ctx context.Context, opts Options) Report {
	report := Report{StartedAt: time.Now()}
	if opts.Handler == nil {
		report.Err = services.Wrap(services.ErrConfiguration, "", "run stage", "", errors.New("stage handler unavailable"))
		return report
	}
	if opts.Data == nil {
		report.Step = opts.Handler.ID()
		report.Err = stage.Fail(report.Step, services.ErrValidation, "run stage", "", errors.New("subject record is required"))
		return report
	}

	step := opts.Handler.ID()
	report.Step = step
	stageCtx := services.WithStage(ctx, string(step))
	stageLogger := logging.WithContext(stageCtx, opts.Logger)
	if aware, ok := opts.Handler.(stage.LoggerAware); ok {
		aware.SetLogger(stageLogger)
	}

	stageLogger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("stage_label", stage.Label(step)),
	)

	report.Outcome, report.Err = execute(stageCtx, opts, step)
	report.Duration = time.Since(report.StartedAt)

	if report.Err != nil {
		return handleFailure(stageLogger, opts.Data, report)
	}

	switch report.Outcome.Kind {
	case stage.KindCompleted, stage.KindDegraded:
		if err := opts.Data.MarkCompleted(step); err != nil {
			report.Err = stage.Fail(step, services.ErrValidation, "record step", "Each stage may only run once per subject", err)
			return handleFailure(stageLogger, opts.Data, report)
		}
	}

	switch report.Outcome.Kind {
	case stage.KindDegraded:
		opts.Data.RecordDegradation(step, report.Outcome.Reason)
		logging.WarnWithContext(stageLogger, "stage completed with fallback", "stage_degraded",
			logging.String("reason", report.Outcome.Reason),
			logging.Duration("duration", report.Duration),
			logging.String(logging.FieldErrorHint, "review the fallback reason; results are usable but lower quality"),
		)
	case stage.KindSkipped:
		stageLogger.Info(
			"stage skipped",
			logging.String(logging.FieldEventType, "stage_skipped"),
			logging.String("reason", report.Outcome.Reason),
		)
	default:
		stageLogger.Info(
			"stage completed",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.Duration("duration", report.Duration),
		)
	}
	return report
}

func execute(ctx context.Context, opts Options, step spatial.Step) (stage.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return stage.Outcome{}, stage.Fail(step, services.ErrValidation, "start stage", "Run was cancelled", err)
	}
	if missing := stage.Missing(opts.Data, opts.Handler.Preconditions()); len(missing) > 0 {
		return stage.Outcome{}, stage.Fail(step, services.ErrDependencyOrder, "check preconditions",
			"Enable and schedule the stages that produce these fields",
			fmt.Errorf("unpopulated: %s", stage.JoinRefs(missing)))
	}

	before := opts.Data.Populated()
	outcome, err := opts.Handler.Execute(ctx, opts.Data, opts.OutDir)
	if err != nil {
		return stage.Outcome{}, err
	}
	if outcome.Kind == "" {
		outcome = stage.Completed()
	}

	if undeclared := undeclaredEffects(before, opts.Data.Populated(), opts.Handler.Effects()); len(undeclared) > 0 {
		return stage.Outcome{}, stage.Fail(step, services.ErrValidation, "check effects",
			"Stage wrote fields it does not declare",
			fmt.Errorf("undeclared: %s", stage.JoinRefs(undeclared)))
	}
	return outcome, nil
}

func undeclaredEffects(before, after, declared []spatial.Ref) []spatial.Ref {
	var out []spatial.Ref
	for _, ref := range after {
		if slices.Contains(before, ref) || slices.Contains(declared, ref) {
			continue
		}
		out = append(out, ref)
	}
	return out
}

func handleFailure(logger *slog.Logger, data *spatial.Data, report Report) Report {
	details := services.Details(report.Err)
	message := strings.TrimSpace(report.Err.Error())

	if !report.Fatal() {
		data.RecordDegradation(report.Step, message)
		logging.WarnWithContext(logger, "stage failed; continuing without it", "stage_failure",
			logging.String("error_message", message),
			logging.String(logging.FieldErrorHint, hintOr(details.Hint, "inspect the secondary input")),
			logging.String(logging.FieldImpact, "secondary-modality outputs are incomplete; primary outputs are unaffected"),
			logging.Error(report.Err),
		)
		return report
	}

	logging.ErrorWithContext(logger, "stage failed", "stage_failure",
		logging.String("error_message", message),
		logging.String(logging.FieldErrorHint, hintOr(details.Hint, "check logs for details")),
		logging.Error(report.Err),
	)
	return report
}

func hintOr(hint, fallback string) string {
	if strings.TrimSpace(hint) == "" {
		return fallback
	}
	return hint
}
