package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"dvetransfer/internal/api"
)

type statusSnapshot struct {
	Status api.DaemonStatus   `json:"status"`
	Health api.HealthResponse `json:"health"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, stage and batch status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var snap statusSnapshot
			err := ctx.withAPI(func(client *api.Client) error {
				var err error
				if snap.Status, err = client.Status(cmd.Context()); err != nil {
					return err
				}
				snap.Health, err = client.Health(cmd.Context())
				return err
			})
			if jsonOut {
				if err != nil {
					return err
				}
				return writeJSON(cmd, snap)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)
			writeSection(stdout, "Daemon", colorize)
			if err != nil {
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusError, err.Error(), colorize))
				return nil
			}
			renderStatus(stdout, snap, colorize)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the status as JSON")
	return cmd
}

func renderStatus(w io.Writer, snap statusSnapshot, colorize bool) {
	status := snap.Status
	fmt.Fprintln(w, renderStatusLine("Daemon", statusKindFor(status.Running, statusError), fmt.Sprintf("Running (pid %d)", status.PID), colorize))
	fmt.Fprintln(w, renderStatusLine("Catalog", statusInfo, status.Catalog, colorize))
	fmt.Fprintln(w, renderStatusLine("Ready", statusKindFor(snap.Health.Ready, statusWarn), yesNo(snap.Health.Ready), colorize))
	fmt.Fprintln(w)

	writeSection(w, "Stages", colorize)
	fmt.Fprint(w, renderTable(
		[]string{"Stage", "Running", "Cycles", "In flight", "Processed", "Rejected", "Failed", "Claimed", "Poll errors"},
		buildStageRows(status.Stages),
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
	fmt.Fprintln(w)
	for _, st := range status.Stages {
		fmt.Fprintln(w, renderStatusLine(st.Name, stageKind(st), stageSummary(st), colorize))
	}
	fmt.Fprintln(w)

	writeSection(w, "Batch", colorize)
	for _, line := range batchLines(status.Batch, colorize) {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)

	writeSection(w, "Health", colorize)
	for _, h := range snap.Health.Stages {
		fmt.Fprintln(w, renderStatusLine(h.Name, statusKindFor(h.Ready, statusError), h.Detail, colorize))
	}
	for _, c := range snap.Health.Checks {
		fmt.Fprintln(w, renderStatusLine(c.Name, statusKindFor(c.Passed, statusError), c.Detail, colorize))
	}
}

func buildStageRows(stages []api.StageStatus) [][]string {
	rows := make([][]string, 0, len(stages))
	for _, st := range stages {
		rows = append(rows, []string{
			st.Name,
			yesNo(st.Running),
			strconv.FormatInt(st.Cycles, 10),
			strconv.Itoa(st.InFlight),
			strconv.FormatInt(st.Processed, 10),
			strconv.FormatInt(st.Rejected, 10),
			strconv.FormatInt(st.Failed, 10),
			strconv.FormatInt(st.Claimed, 10),
			strconv.FormatInt(st.PollErrors, 10),
		})
	}
	return rows
}

func batchLines(batch api.BatchStatus, colorize bool) []string {
	if batch.Name == "" {
		return []string{
			renderStatusLine("Batch", statusInfo, "No open batch", colorize),
			renderStatusLine("Top layer", statusInfo, topLayerText(batch.TopLayerBytes), colorize),
		}
	}
	lines := []string{
		renderStatusLine("Batch", statusInfo, batch.Name, colorize),
		renderStatusLine("Items", statusInfo, strconv.Itoa(batch.Items), colorize),
		renderStatusLine("Size", statusInfo, formatBytes(batch.Bytes), colorize),
		renderStatusLine("Top layer", statusInfo, topLayerText(batch.TopLayerBytes), colorize),
	}
	if batch.FlushPending {
		lines = append(lines, renderStatusLine("Flush", statusWarn, "Requested", colorize))
	}
	return lines
}

func topLayerText(bytes int64) string {
	if bytes < 0 {
		return "Unknown (queried before the next submission)"
	}
	return formatBytes(bytes)
}
