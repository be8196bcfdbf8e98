package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aexy-app/aexy/internal/catalog"
	"github.com/aexy-app/aexy/internal/domain"
	"github.com/aexy-app/aexy/internal/quota"
)

func scenariosCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "Validate and list the scenario catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load(path)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tDIFFICULTY\tPREMIUM")
			for _, s := range cat.All() {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%t\n", s.ID, s.Title, s.Difficulty, s.IsPremium)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d scenarios; daily limits: FREE %s, STANDARD %s, PREMIUM %s\n",
				len(cat.All()),
				quota.DisplayLimit(domain.TierFree),
				quota.DisplayLimit(domain.TierStandard),
				quota.DisplayLimit(domain.TierPremium),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "catalog", "", "Catalog YAML path (default: embedded catalog)")
	return cmd
}
