package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lokutor-ai/speechd/pkg/speechd"
)

func newCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Load and print the model catalog, without starting the orchestrator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := speechd.LoadCatalog(activeCfg.CatalogPath)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no models in catalog %q\n", activeCfg.CatalogPath)
				return nil
			}
			for _, e := range entries {
				marker := " "
				if e.DefaultForLang {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-24s %-8s %-12s %s\n", marker, e.ID, e.LangID, e.EngineKind, e.Name)
			}
			return nil
		},
	}
}
