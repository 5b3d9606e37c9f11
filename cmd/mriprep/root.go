package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag, levelFlag string
	ctx := newCommandContext(&configFlag, &levelFlag)

	rootCmd := &cobra.Command{
		Use:   "mriprep",
		Short: "Structural MRI preprocessing pipeline",
		Long: "mriprep skull-strips, segments and registers T1-weighted NIfTI images, optionally\n" +
			"brings a secondary modality into the same space, and extracts ROI statistics and\n" +
			"quality metrics. Runs are recorded in a local ledger (see 'mriprep history').",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&levelFlag, "log-level", "", "Override logging.level (debug, info, warn, error)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "process", Title: "Processing:"},
		&cobra.Group{ID: "inspect", Title: "Inspection:"},
	)
	for _, sub := range []*cobra.Command{newRunCommand(ctx), newBatchCommand(ctx)} {
		sub.GroupID = "process"
		rootCmd.AddCommand(sub)
	}
	for _, sub := range []*cobra.Command{newPlanCommand(ctx), newPreflightCommand(ctx), newHistoryCommand(ctx)} {
		sub.GroupID = "inspect"
		rootCmd.AddCommand(sub)
	}
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
