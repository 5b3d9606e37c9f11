package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"mriprep/internal/config"
	"mriprep/internal/ledger"
	"mriprep/internal/logging"
	"mriprep/internal/metrics"
	"mriprep/internal/niftiio"
	"mriprep/internal/outputs"
	"mriprep/internal/preflight"
	"mriprep/internal/services"
	"mriprep/internal/services/ants"
	"mriprep/internal/spatial"
	"mriprep/internal/stage"
	"mriprep/internal/stageexec"
	"mriprep/internal/volume"
)

// Input is one subject's acquisitions. Secondary is optional.
type Input struct {
	Subject   string
	Primary   *volume.Volume
	Secondary *volume.Volume
	// Modality names the secondary acquisition; defaults to secondary.modality.
	Modality string
}

// Result describes a finished subject run. It is returned alongside the
// fatal error, if any, so callers can still report partial progress.
type Result struct {
	RunID    string
	Subject  string
	Status   ledger.Status
	Data     *spatial.Data
	Reports  []stageexec.Report
	Layout   outputs.Layout
	Manifest outputs.Manifest
	Duration time.Duration
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithHandlers replaces the configured handler for each handler's stage.
func WithHandlers(handlers ...stage.Handler) Option {
	return func(o *Orchestrator) {
		for _, h := range handlers {
			if h != nil {
				o.handlers[h.ID()] = h
			}
		}
	}
}

// WithLedger records runs and stage outcomes in store.
func WithLedger(store *ledger.Store) Option {
	return func(o *Orchestrator) {
		o.ledger = store
	}
}

// Orchestrator runs the validated plan for one subject at a time.
type Orchestrator struct {
	cfg         *config.Config
	logger      *slog.Logger
	handlers    map[spatial.Step]stage.Handler
	plan        Plan
	ledger      *ledger.Store
	preflighted bool
}

// New builds the handlers and validates the plan. Configuration and
// dependency-ordering errors surface here, before any image is read.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "create orchestrator", "", errors.New("config is nil"))
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	handlers, err := NewHandlers(cfg, logger)
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "pipeline"),
		handlers: handlers,
	}
	for _, opt := range opts {
		opt(o)
	}

	plan, err := BuildPlan(cfg)
	if err != nil {
		return nil, err
	}
	if err := ValidatePlan(plan, o.handlers); err != nil {
		return nil, err
	}
	o.plan = plan
	return o, nil
}

// Plan returns the validated stage order.
func (o *Orchestrator) Plan() Plan {
	return append(Plan(nil), o.plan...)
}

// Preflight prepares directories and checks reference files and external
// tools. A successful check is remembered for later runs.
func (o *Orchestrator) Preflight(ctx context.Context) error {
	if o.preflighted {
		return nil
	}
	if err := o.cfg.EnsureDirectories(); err != nil {
		return services.Wrap(services.ErrConfiguration, "preflight", "create directories",
			"Check paths.output_dir and paths.work_dir permissions", err)
	}
	results := preflight.RunAll(ctx, o.cfg)
	for _, r := range results {
		if !r.Passed && r.Optional {
			logging.WarnWithContext(o.logger, "optional preflight check failed", "preflight_warning",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
				logging.String(logging.FieldImpact, "the dependent metric or check will be skipped"),
			)
		}
	}
	if err := preflight.Err(results); err != nil {
		return err
	}
	o.preflighted = true
	return nil
}

// Run processes one subject. The returned Result is non-nil whenever the
// subject record was constructed, even when err reports a fatal stage
// failure.
func (o *Orchestrator) Run(ctx context.Context, in Input) (*Result, error) {
	if err := o.Preflight(ctx); err != nil {
		return nil, err
	}

	modality := strings.TrimSpace(in.Modality)
	if modality == "" {
		modality = o.cfg.Secondary.Modality
	}
	data, err := spatial.New(in.Subject, in.Primary, spatial.WithSecondary(modality, in.Secondary))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "construct subject record",
			"Supply a subject id and a valid 3-D primary image", err)
	}

	result := &Result{
		RunID:   uuid.NewString(),
		Subject: data.SubjectID(),
		Status:  ledger.StatusRunning,
		Data:    data,
		Layout:  outputs.NewLayout(o.cfg.Paths.OutputDir, data.SubjectID()),
	}
	if err := result.Layout.Ensure(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "create output directories", "", err)
	}

	lock := flock.New(result.Layout.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "lock subject directory", "", err)
	}
	if !locked {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "lock subject directory",
			"Another mriprep run is writing this subject; wait for it to finish",
			fmt.Errorf("%s is locked", result.Layout.Root))
	}
	defer lock.Unlock()

	ctx = services.WithRunID(services.WithSubject(ctx, result.Subject), result.RunID)
	logger, closer, err := logging.WithFile(o.logger, result.Layout.LogPath(), o.cfg.Logging.Level)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "open subject log", "", err)
	}
	defer closer.Close()
	logger = logging.WithContext(ctx, logger)

	err = o.run(ctx, logger, result)
	return result, err
}

// removeScratch deletes the external tools' per-run working files. Anything
// worth keeping has been copied into the output tree by then.
func (o *Orchestrator) removeScratch(logger *slog.Logger, runID string) {
	if strings.TrimSpace(o.cfg.Paths.WorkDir) == "" || runID == "" {
		return
	}
	dir := ants.RunDir(o.cfg.Paths.WorkDir, runID)
	if err := os.RemoveAll(dir); err != nil {
		logging.WarnWithContext(logger, "scratch cleanup failed", "scratch_cleanup_failed",
			logging.Error(err),
			logging.String("path", dir),
			logging.String(logging.FieldImpact, "intermediate files remain under paths.work_dir"),
		)
	}
}

func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, result *Result) error {
	started := time.Now()
	data := result.Data
	_, hasSecondary := data.Secondary()

	var collector *metrics.Metrics
	if o.cfg.Output.Metrics {
		collector = metrics.New(result.Subject)
	}
	o.beginLedger(ctx, logger, ledger.Run{
		ID:           result.RunID,
		Subject:      result.Subject,
		OutputDir:    result.Layout.Root,
		HasSecondary: hasSecondary,
		StartedAt:    started,
	})

	logger.Info(
		"subject run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.Int("stages", len(o.plan)),
		logging.Bool("has_secondary", hasSecondary),
	)

	var fatal error
	for _, step := range o.plan {
		report := stageexec.Run(ctx, stageexec.Options{
			Logger:  logger,
			Handler: o.handlers[step],
			Data:    data,
			OutDir:  result.Layout.Root,
		})
		result.Reports = append(result.Reports, report)
		collector.ObserveStage(string(step), report.Status(), report.Duration)
		o.recordStage(ctx, logger, result.RunID, report)
		if report.Fatal() {
			fatal = report.Err
			break
		}
	}

	if fatal == nil {
		manifest, err := outputs.Persist(data, result.Layout, outputs.Options{
			SaveIntermediate: o.cfg.Output.SaveIntermediate,
			SaveTransforms:   o.cfg.Output.SaveTransforms,
			GenerateReport:   o.cfg.QualityControl.GenerateReport,
		})
		result.Manifest = manifest
		if err != nil {
			fatal = services.Wrap(services.ErrValidation, "outputs", "persist results",
				"Check free space and permissions under paths.output_dir", err)
		}
	}
	o.removeScratch(logger, result.RunID)

	result.Duration = time.Since(started)
	result.Status = ledger.StatusCompleted
	if fatal != nil {
		result.Status = ledger.StatusFailed
	}

	collector.SetQC(data.QCMetrics())
	collector.Finish(fatal == nil, result.Duration)
	if collector != nil {
		path := result.Layout.MetricsPath()
		if err := collector.WriteTextfile(path); err != nil {
			logging.WarnWithContext(logger, "metrics export failed", "metrics_export_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "pipeline metrics are missing for this run"),
			)
		} else {
			result.Manifest.Artifacts = append(result.Manifest.Artifacts, outputs.Artifact{Category: outputs.CategoryQC, Kind: "metrics", Path: path})
		}
	}

	if err := outputs.WriteSummary(result.Layout, newRunSummary(result, started, fatal)); err != nil {
		logging.WarnWithContext(logger, "summary write failed", "summary_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the run summary is missing"),
		)
	}
	o.finishLedger(ctx, logger, result.RunID, result.Status, fatal)

	if fatal != nil {
		logging.ErrorWithContext(logger, "subject run failed", "run_failure",
			logging.Error(fatal),
			logging.String(logging.FieldErrorHint, services.Details(fatal).Hint),
			logging.Duration("duration", result.Duration),
		)
		return fatal
	}
	logger.Info(
		"subject run completed",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.Any("processing_steps", data.ProcessingSteps()),
		logging.Int("degradations", len(data.Degradations())),
		logging.Int("artifacts", len(result.Manifest.Artifacts)),
		logging.Duration("duration", result.Duration),
	)
	return nil
}

// RunFiles reads the subject's NIfTI inputs and runs the pipeline.
// secondaryPath is optional.
func (o *Orchestrator) RunFiles(ctx context.Context, subject, primaryPath, secondaryPath string) (*Result, error) {
	if err := o.Preflight(ctx); err != nil {
		return nil, err
	}
	primary, err := readInput(primaryPath, "primary")
	if err != nil {
		return nil, err
	}
	var sec *volume.Volume
	if strings.TrimSpace(secondaryPath) != "" {
		if sec, err = readInput(secondaryPath, "secondary"); err != nil {
			return nil, err
		}
	}
	return o.Run(ctx, Input{Subject: subject, Primary: primary, Secondary: sec})
}

func readInput(path, role string) (*volume.Volume, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, services.Wrap(services.ErrMissingResource, "pipeline", "read "+role+" image",
			"Check the input path", err)
	}
	vol, err := niftiio.Read(path)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "read "+role+" image",
			"Input must be a 3-D NIfTI-1 volume", err)
	}
	return vol, nil
}

func (o *Orchestrator) beginLedger(ctx context.Context, logger *slog.Logger, run ledger.Run) {
	if o.ledger == nil {
		return
	}
	if err := o.ledger.BeginRun(ctx, run); err != nil {
		logging.WarnWithContext(logger, "ledger write failed", "ledger_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "run history will not list this run"),
		)
	}
}

func (o *Orchestrator) recordStage(ctx context.Context, logger *slog.Logger, runID string, report stageexec.Report) {
	if o.ledger == nil {
		return
	}
	row := ledger.StageRun{
		RunID:     runID,
		Step:      string(report.Step),
		Outcome:   report.Status(),
		StartedAt: report.StartedAt,
		Duration:  report.Duration,
	}
	if report.Err != nil {
		row.ErrorMessage = report.Reason()
	} else {
		row.Reason = report.Reason()
	}
	if err := o.ledger.RecordStage(ctx, row); err != nil {
		logging.WarnWithContext(logger, "ledger write failed", "ledger_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "run history is missing a stage"),
		)
	}
}

func (o *Orchestrator) finishLedger(ctx context.Context, logger *slog.Logger, runID string, status ledger.Status, fatal error) {
	if o.ledger == nil {
		return
	}
	msg := ""
	if fatal != nil {
		msg = fatal.Error()
	}
	if err := o.ledger.FinishRun(context.WithoutCancel(ctx), runID, status, msg); err != nil {
		logging.WarnWithContext(logger, "ledger write failed", "ledger_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "run history shows this run as still running"),
		)
	}
}
