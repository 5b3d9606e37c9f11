package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mriprep/internal/pipeline"
	"mriprep/internal/services"
	"mriprep/internal/spatial"
)

type runOptions struct {
	subject   string
	primary   string
	secondary string
	modality  string
	json      bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run --primary <image.nii.gz> [--secondary <image.nii.gz>]",
		Short: "Preprocess one subject",
		Long: "Run the configured stages on one subject. The subject id defaults to the primary\n" +
			"file name up to its last underscore (sub-01_T1w.nii.gz becomes sub-01).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			primary := strings.TrimSpace(opts.primary)
			if primary == "" {
				return fmt.Errorf("--primary is required")
			}
			subject := strings.TrimSpace(opts.subject)
			if subject == "" {
				subject = pipeline.SubjectIDFromPath(primary)
			}
			if modality := strings.TrimSpace(opts.modality); modality != "" {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				cfg.Secondary.Modality = modality
			}

			return ctx.withOrchestrator(func(orch *pipeline.Orchestrator) error {
				result, err := orch.RunFiles(cmd.Context(), subject, primary, strings.TrimSpace(opts.secondary))
				if result == nil {
					return err
				}
				if opts.json {
					if encErr := writeJSON(cmd.OutOrStdout(), newRunView(result, err)); encErr != nil {
						return encErr
					}
				} else {
					printRunResult(newPrinter(cmd.OutOrStdout()), result, err)
				}
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&opts.subject, "subject", "s", "", "Subject identifier")
	cmd.Flags().StringVarP(&opts.primary, "primary", "p", "", "Primary (T1-weighted) NIfTI image")
	cmd.Flags().StringVar(&opts.secondary, "secondary", "", "Optional secondary modality NIfTI image")
	cmd.Flags().StringVar(&opts.modality, "modality", "", "Secondary modality name (overrides secondary.modality)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Emit the run result as JSON")
	return cmd
}

type runView struct {
	RunID        string                `json:"run_id"`
	Subject      string                `json:"subject"`
	Status       string                `json:"status"`
	Output       string                `json:"output"`
	Steps        []spatial.Step        `json:"processing_steps"`
	Degradations []spatial.Degradation `json:"degradations,omitempty"`
	Stages       []stageView           `json:"stages"`
	Error        string                `json:"error,omitempty"`
	Hint         string                `json:"hint,omitempty"`
}

type stageView struct {
	Step     spatial.Step `json:"step"`
	Status   string       `json:"status"`
	Reason   string       `json:"reason,omitempty"`
	Duration string       `json:"duration"`
}

func newRunView(result *pipeline.Result, err error) runView {
	view := runView{
		RunID:        result.RunID,
		Subject:      result.Subject,
		Status:       string(result.Status),
		Output:       result.Layout.Root,
		Steps:        result.Data.ProcessingSteps(),
		Degradations: result.Data.Degradations(),
	}
	for _, r := range result.Reports {
		view.Stages = append(view.Stages, stageView{
			Step:     r.Step,
			Status:   r.Status(),
			Reason:   r.Reason(),
			Duration: formatDuration(r.Duration),
		})
	}
	if err != nil {
		view.Error = err.Error()
		view.Hint = services.Details(err).Hint
	}
	return view
}

func printRunResult(p *printer, result *pipeline.Result, err error) {
	p.section("Subject " + result.Subject)
	p.stageTable(result.Reports)

	outcome := toneOK
	switch {
	case err != nil:
		outcome = toneError
	case len(result.Data.Degradations()) > 0:
		outcome = toneWarn
	}
	p.status("Run", outcome, fmt.Sprintf("%s (%s)", result.Status, result.RunID))
	p.status("Outputs", toneInfo, result.Layout.Root)
	if hint := services.Details(err).Hint; err != nil && hint != "" {
		p.status("Hint", toneInfo, hint)
	}
}
