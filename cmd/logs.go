package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/domain-mapper/internal/archive"
)

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Maintain the collection log",
	}
	cmd.AddCommand(newLogsArchiveCmd())
	return cmd
}

func newLogsArchiveCmd() *cobra.Command {
	var (
		olderThanDays int
		output        string
		deleteAfter   bool
	)
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Export old collection log rows as CSV",
		Long: `Writes every collection log row older than --older-than-days to --output
as CSV ("-" for stdout). With --delete the rows are removed after the file
has been written.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThanDays <= 0 {
				return fmt.Errorf("--older-than-days must be > 0")
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			var w io.Writer = cmd.OutOrStdout()
			if output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create archive file: %w", err)
				}
				defer f.Close()
				w = f
			}
			cutoff := a.Clock.Now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
			res, err := archive.Logs(cmd.Context(), a.Store, w, cutoff, deleteAfter)
			if err != nil {
				return err
			}
			a.Logger.Info("collection logs archived",
				zap.Time("cutoff", res.Cutoff),
				zap.Int("written", res.Written),
				zap.Int64("deleted", res.Deleted),
				zap.String("output", output),
			)
			if output != "-" {
				fmt.Fprintf(cmd.OutOrStdout(), "archived %d rows to %s, deleted %d\n", res.Written, output, res.Deleted)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&olderThanDays, "older-than-days", 30, "archive rows collected more than this many days ago")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "CSV file to write, - for stdout")
	cmd.Flags().BoolVar(&deleteAfter, "delete", false, "delete archived rows after writing")
	return cmd
}
