package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dvetransfer/internal/api"
)

func newFlushCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Submit the current batch without waiting for its limits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withAPI(func(client *api.Client) error {
				resp, err := client.Flush(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				return nil
			})
		},
	}
}
