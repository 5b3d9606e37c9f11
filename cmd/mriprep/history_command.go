package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mriprep/internal/ledger"
	"mriprep/internal/spatial"
	"mriprep/internal/stage"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [subject]",
		Short: "List recorded runs, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var subject string
			if len(args) == 1 {
				subject = args[0]
			}
			return ctx.withLedger(func(store *ledger.Store) error {
				runs, err := store.ListRuns(cmd.Context(), subject, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					rows = append(rows, []string{
						run.ID,
						run.Subject,
						string(run.Status),
						run.StartedAt.Local().Format(time.DateTime),
						runDuration(run),
						yesNo(run.HasSecondary),
					})
				}
				newPrinter(out).table([]string{"Run", "Subject", "Status", "Started", "Duration", "Secondary"}, rows, 5)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list (0 for all)")
	cmd.AddCommand(newHistoryShowCommand(ctx))
	return cmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the stages of one recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withLedger(func(store *ledger.Store) error {
				run, err := store.GetRun(cmd.Context(), id)
				if err != nil {
					return err
				}
				if run == nil {
					return fmt.Errorf("run %s not found", id)
				}
				p := newPrinter(cmd.OutOrStdout())
				p.section("Run " + run.ID)
				outcome := toneOK
				switch run.Status {
				case ledger.StatusFailed:
					outcome = toneError
				case ledger.StatusRunning:
					outcome = toneInfo
				}
				p.status("Subject", toneInfo, run.Subject)
				p.status("Status", outcome, string(run.Status))
				p.status("Outputs", toneInfo, run.OutputDir)
				if run.ErrorMessage != "" {
					p.status("Error", toneError, run.ErrorMessage)
				}

				rows := make([][]string, 0, len(run.Stages))
				for _, s := range run.Stages {
					detail := s.Reason
					if s.ErrorMessage != "" {
						detail = s.ErrorMessage
					}
					rows = append(rows, []string{stage.Label(spatial.Step(s.Step)), s.Outcome, formatDuration(s.Duration), detail})
				}
				p.table([]string{"Stage", "Status", "Duration", "Detail"}, rows, 3)
				return nil
			})
		},
	}
}

func runDuration(run ledger.Run) string {
	if run.FinishedAt.IsZero() {
		return "-"
	}
	return formatDuration(run.Duration())
}
