package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/fadedpez/cantina/pkg/storage"
	"github.com/fadedpez/cantina/pkg/storage/file"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show where each namespace is stored and how many entities it holds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := file.New(cfg.StorageDir, logger)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAMESPACE\tENTITIES\tPATH")
		for _, ns := range storage.Namespaces() {
			doc, err := store.Load(cmd.Context(), ns)
			if err != nil {
				return fmt.Errorf("error loading %s: %w", ns, err)
			}
			fmt.Fprintf(w, "%s\t%d\t%s\n", ns, len(doc), store.Path(ns))
		}
		return w.Flush()
	},
}
