package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBackfillCmd() *cobra.Command {
	var (
		limit  int
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Re-collect domains that still have null metadata fields",
		Long: `Visits the home page of every domain with a null enrichable field and
merges what the collector finds into its row. Fields already set are kept.
--dry-run collects and reports without writing.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative, got %d", limit)
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := a.Backfill(cmd.Context(), limit, dryRun)
			fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, updated %d, unchanged %d, failed %d\n",
				res.Scanned, res.Updated, res.Unchanged, res.Failed)
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum domains to re-collect (0 for all)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "collect without writing")
	return cmd
}
