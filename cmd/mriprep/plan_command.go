package main

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mriprep/internal/logging"
	"mriprep/internal/pipeline"
	"mriprep/internal/spatial"
	"mriprep/internal/stage"
)

func newPlanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the stage order the configuration produces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			plan, err := pipeline.BuildPlan(cfg)
			if err != nil {
				return err
			}
			handlers, err := pipeline.NewHandlers(cfg, logging.NewNop())
			if err != nil {
				return err
			}

			p := newPrinter(cmd.OutOrStdout())
			rows := make([][]string, 0, len(plan))
			for i, step := range plan {
				var requires, after string
				if h, ok := handlers[step]; ok {
					requires = joinSteps(h.Dependencies())
					after = joinSteps(h.After())
				}
				rows = append(rows, []string{strconv.Itoa(i + 1), stage.Label(step), string(step), requires, after})
			}
			p.table([]string{"#", "Stage", "ID", "Requires", "After"}, rows, 1)

			enabled := pipeline.EnabledSteps(cfg)
			for _, step := range spatial.CanonicalSteps() {
				if !enabled[step] {
					p.status(stage.Label(step), toneInfo, "disabled")
				}
			}
			if err := pipeline.ValidatePlan(plan, handlers); err != nil {
				p.status("Plan", toneError, err.Error())
				return err
			}
			p.status("Plan", toneOK, "valid")
			return nil
		},
	}
}

func joinSteps(steps []spatial.Step) string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
