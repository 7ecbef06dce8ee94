package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"dvetransfer/internal/catalog"
)

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Query the version catalog",
	}
	catalogCmd.AddCommand(newCatalogListCommand(ctx))
	catalogCmd.AddCommand(newCatalogShowCommand(ctx))
	return catalogCmd
}

func (c *commandContext) withCatalog(fn func(catalog.Service) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	service, store, err := catalog.FromConfig(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}
	return fn(service)
}

func newCatalogListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the NBNs of all catalogued datasets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withCatalog(func(service catalog.Service) error {
				lister, ok := service.(catalog.Lister)
				if !ok {
					return errors.New("catalog does not support listing")
				}
				nbns, err := lister.ListDatasets(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, nbns)
				}
				out := cmd.OutOrStdout()
				if len(nbns) == 0 {
					fmt.Fprintln(out, "Catalog is empty")
					return nil
				}
				for _, nbn := range nbns {
					fmt.Fprintln(out, nbn)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the list as JSON")
	return cmd
}

func newCatalogShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "show <nbn>",
		Short: "Show a dataset and its version exports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nbn := strings.TrimSpace(args[0])
			return ctx.withCatalog(func(service catalog.Service) error {
				dataset, err := service.GetDataset(cmd.Context(), nbn)
				if errors.Is(err, catalog.ErrNotFound) {
					return fmt.Errorf("dataset %s is not in the catalog", nbn)
				}
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, dataset)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "NBN:         %s\n", dataset.NBN)
				fmt.Fprintf(out, "Datastation: %s\n", dataset.Datastation)
				fmt.Fprintf(out, "Dataset PID: %s\n", dataset.DatasetPID)
				fmt.Fprintln(out, renderTable(
					[]string{"Version", "Bag id", "Created", "Dataset version", "Files", "Skeleton"},
					buildVersionRows(dataset.Versions),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the dataset as JSON")
	return cmd
}

func buildVersionRows(versions []catalog.VersionExport) [][]string {
	rows := make([][]string, 0, len(versions))
	for _, v := range versions {
		created := ""
		if !v.Created.IsZero() {
			created = v.Created.UTC().Format("2006-01-02 15:04:05")
		}
		rows = append(rows, []string{
			strconv.Itoa(v.ObjectVersion),
			v.BagID,
			created,
			v.DatasetVersion,
			strconv.Itoa(len(v.Files)),
			yesNo(v.Skeleton),
		})
	}
	return rows
}
