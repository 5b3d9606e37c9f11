package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mriprep/internal/pipeline"
)

type batchOptions struct {
	inputDir         string
	pattern          string
	secondaryPattern string
	subjectsFile     string
	json             bool
}

func newBatchCommand(ctx *commandContext) *cobra.Command {
	var opts batchOptions

	cmd := &cobra.Command{
		Use:   "batch --input-dir <dir>",
		Short: "Preprocess every subject found in a directory",
		Long: "Discover primary images by glob pattern (or by a subject list) and process them\n" +
			"one after another. A failing subject is reported and the batch continues.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := strings.TrimSpace(opts.inputDir)
			if dir == "" {
				return fmt.Errorf("--input-dir is required")
			}
			var ids []string
			if path := strings.TrimSpace(opts.subjectsFile); path != "" {
				list, err := pipeline.ReadSubjectList(path)
				if err != nil {
					return err
				}
				ids = list
			}
			subjects, unmatched, err := pipeline.DiscoverSubjects(dir, opts.pattern, opts.secondaryPattern, ids)
			if err != nil {
				return err
			}
			warnings := newPrinter(cmd.ErrOrStderr())
			for _, id := range unmatched {
				warnings.status(id, toneWarn, "no primary image found")
			}
			if len(subjects) == 0 {
				return fmt.Errorf("no subjects found in %s", dir)
			}

			return ctx.withOrchestrator(func(orch *pipeline.Orchestrator) error {
				report, err := orch.Batch(cmd.Context(), subjects)
				out := cmd.OutOrStdout()
				if opts.json {
					if encErr := writeJSON(out, newBatchView(report)); encErr != nil {
						return encErr
					}
				} else if len(report.Results) > 0 {
					newPrinter(out).table(
						[]string{"Subject", "Status", "Steps", "Degraded", "Duration", "Error"},
						batchRows(report),
						3, 4, 5,
					)
					fmt.Fprintf(out, "%d succeeded, %d failed\n", report.Succeeded(), report.Failed())
				}
				if err != nil {
					return err
				}
				if failed := report.Failed(); failed > 0 {
					return fmt.Errorf("%d of %d subjects failed", failed, len(report.Results))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&opts.inputDir, "input-dir", "i", "", "Directory containing subject images")
	cmd.Flags().StringVar(&opts.pattern, "pattern", "*.nii.gz", "Glob selecting primary images")
	cmd.Flags().StringVar(&opts.secondaryPattern, "secondary-pattern", "", "Suffix selecting secondary images (for example _T2w.nii.gz)")
	cmd.Flags().StringVar(&opts.subjectsFile, "subjects", "", "File listing subject ids, one per line")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Emit the batch report as JSON")
	return cmd
}

func batchRows(report pipeline.BatchReport) [][]string {
	rows := make([][]string, 0, len(report.Results))
	for _, res := range report.Results {
		errText := ""
		if res.Err != nil {
			errText = res.Err.Error()
		}
		rows = append(rows, []string{
			res.Subject.ID,
			string(res.Status),
			strconv.Itoa(len(res.Steps)),
			strconv.Itoa(res.Degradations),
			formatDuration(res.Duration),
			errText,
		})
	}
	return rows
}

type batchSubjectView struct {
	Subject      string   `json:"subject"`
	Primary      string   `json:"primary"`
	Secondary    string   `json:"secondary,omitempty"`
	RunID        string   `json:"run_id,omitempty"`
	Status       string   `json:"status"`
	Steps        []string `json:"processing_steps"`
	Degradations int      `json:"degradations"`
	Duration     string   `json:"duration"`
	Error        string   `json:"error,omitempty"`
}

type batchView struct {
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Subjects  []batchSubjectView `json:"subjects"`
}

func newBatchView(report pipeline.BatchReport) batchView {
	view := batchView{Succeeded: report.Succeeded(), Failed: report.Failed(), Subjects: []batchSubjectView{}}
	for _, res := range report.Results {
		entry := batchSubjectView{
			Subject:      res.Subject.ID,
			Primary:      res.Subject.Primary,
			Secondary:    res.Subject.Secondary,
			RunID:        res.RunID,
			Status:       string(res.Status),
			Steps:        make([]string, len(res.Steps)),
			Degradations: res.Degradations,
			Duration:     formatDuration(res.Duration),
		}
		for i, step := range res.Steps {
			entry.Steps[i] = string(step)
		}
		if res.Err != nil {
			entry.Error = res.Err.Error()
		}
		view.Subjects = append(view.Subjects, entry)
	}
	return view
}
