package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dvetransfer/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check directories, rename chains and remote services",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			if jsonOut {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				writeSection(out, "Preflight", colorize)
				for _, r := range results {
					fmt.Fprintln(out, renderStatusLine(r.Name, statusKindFor(r.Passed, statusError), r.Detail, colorize))
				}
			}
			if failures := preflight.Failures(results); len(failures) > 0 {
				return fmt.Errorf("%d of %d checks failed", len(failures), len(results))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the results as JSON")
	return cmd
}
