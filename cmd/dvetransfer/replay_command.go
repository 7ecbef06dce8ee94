package main

import (
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"dvetransfer/internal/batching"
	"dvetransfer/internal/config"
	"dvetransfer/internal/extraction"
	"dvetransfer/internal/inbox"
	"dvetransfer/internal/ordering"
	"dvetransfer/internal/registration"
)

type replayRoute struct {
	stage string
	from  string
	to    string
}

// replayRoutes lists the outboxes an operator re-feeds, in pipeline order.
func replayRoutes(cfg *config.Config, includeRejected bool) []replayRoute {
	routes := []replayRoute{
		{stage: extraction.Name, from: cfg.Extract.Failed, to: cfg.Extract.Inbox},
	}
	if includeRejected {
		routes = append(routes, replayRoute{stage: extraction.Name, from: cfg.Extract.Rejected, to: cfg.Extract.Inbox})
	}
	return append(routes,
		replayRoute{stage: ordering.Name, from: cfg.Order.Failed, to: cfg.Order.Inbox},
		replayRoute{stage: batching.Name, from: cfg.Batch.Failed, to: cfg.Batch.Inbox},
		replayRoute{stage: registration.Name, from: cfg.Register.Failed, to: cfg.Register.Inbox},
	)
}

func newReplayCommand(ctx *commandContext) *cobra.Command {
	var includeRejected bool
	stages := []string{extraction.Name, ordering.Name, batching.Name, registration.Name}
	cmd := &cobra.Command{
		Use:       "replay [stage...]",
		Short:     "Move failed items back into their stage inbox",
		Long:      "Move failed items back into their stage inbox and drop their error sidecars.\nWithout arguments every stage is replayed.",
		ValidArgs: stages,
		Args:      cobra.OnlyValidArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			total := 0
			for _, route := range replayRoutes(cfg, includeRejected) {
				if len(args) > 0 && !slices.Contains(args, route.stage) {
					continue
				}
				replayed, err := inbox.Replay(route.from, route.to, time.Now())
				for _, item := range replayed {
					fmt.Fprintf(out, "  %s -> %s\n", filepath.Base(item.From), item.To)
				}
				total += len(replayed)
				if err != nil {
					return fmt.Errorf("replay %s: %w", route.stage, err)
				}
				if len(replayed) > 0 {
					fmt.Fprintf(out, "Replayed %d item(s) from %s\n", len(replayed), route.from)
				}
			}
			if total == 0 {
				fmt.Fprintln(out, "Nothing to replay")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeRejected, "rejected", false, "Also replay the extraction rejected outbox")
	return cmd
}
