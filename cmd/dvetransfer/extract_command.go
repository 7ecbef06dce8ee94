package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"dvetransfer/internal/config"
	"dvetransfer/internal/dve"
	"dvetransfer/internal/metadata"
)

func newExtractCommand() *cobra.Command {
	var summary bool
	cmd := &cobra.Command{
		Use:         "extract <dve>",
		Short:       "Print the metadata record of a zip or bag directory export",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			d, err := dve.Stat(path)
			if err != nil {
				return err
			}
			rec, err := metadata.Extract(d)
			if err != nil {
				return fmt.Errorf("extract %s: %w", d.Name, err)
			}
			if !summary {
				return writeJSON(cmd, rec)
			}
			rows := [][]string{
				{"NBN", rec.NBN},
				{"Bag id", rec.BagID},
				{"Dataset PID", rec.DatasetPID},
				{"Object version", strconv.Itoa(rec.ObjectVersion)},
				{"Dataset version", rec.DatasetVersion},
				{"Title", rec.Title},
				{"Other id", rec.OtherID},
				{"Files", strconv.Itoa(len(rec.Files))},
				{"Size", formatBytes(rec.TotalSize())},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().BoolVar(&summary, "summary", false, "Print a table of the identifying fields instead of JSON")
	return cmd
}
