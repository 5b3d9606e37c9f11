package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mriprep/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check reference files, output paths and external tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}

			p := newPrinter(cmd.OutOrStdout())
			p.section("Preflight")
			results := preflight.RunAll(cmd.Context(), cfg)
			for _, r := range results {
				outcome := toneOK
				switch {
				case !r.Passed && r.Optional:
					outcome = toneWarn
				case !r.Passed:
					outcome = toneError
				}
				p.status(r.Name, outcome, r.Detail)
			}
			return preflight.Err(results)
		},
	}
}
