package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
	"github.com/JakeFAU/domain-mapper/internal/metrics"
)

func newReclaimCmd() *cobra.Command {
	var (
		dryRun  bool
		limit   int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Return stale processing items to pending",
		Long: `Moves items that have been processing for longer than lease.timeout_seconds
back to pending so another worker can claim them. --timeout overrides the
lease timeout for this run. --dry-run lists them instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("timeout") {
				if timeout < time.Second {
					return fmt.Errorf("--timeout must be at least 1s, got %s", timeout)
				}
				a.Config.Lease.TimeoutSeconds = int(timeout / time.Second)
			}
			r, err := a.Reclaimer()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dryRun {
				items, err := r.Preview(cmd.Context(), limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tURL\tCLAIMED BY\tCLAIMED AT")
				for _, item := range items {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", item.ID, item.URL, deref(item.ClaimedBy), formatTime(item.ClaimedAt))
				}
				if err := tw.Flush(); err != nil {
					return fmt.Errorf("write preview: %w", err)
				}
				fmt.Fprintf(out, "%d stale items (cutoff %s)\n", len(items), r.Cutoff().Format(time.RFC3339))
				return nil
			}
			n, err := r.ReclaimStale(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "reclaimed %d items\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list stale items without changing them")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum items to list with --dry-run (0 for all)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "treat items claimed longer ago than this as stale (default lease.timeout_seconds)")
	return cmd
}

func newRetryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-queue failed items that have attempts left",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := a.RetryFailed(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "re-queued %d failed items\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum items to re-queue (0 for all)")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print queue and collection log statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := a.Store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			logs, err := a.Store.LogStats(cmd.Context())
			if err != nil {
				return err
			}
			metrics.Init()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STATUS\tQUEUE\tLOGS")
			for _, status := range discovery.AllStatuses {
				metrics.SetQueueDepth(string(status), stats.Counts[status])
				fmt.Fprintf(tw, "%s\t%d\t%d\n", status, stats.Counts[status], logs.Counts[status])
			}
			fmt.Fprintf(tw, "total\t%d\t\n", stats.Total())
			fmt.Fprintf(tw, "oldest claim\t%s\t\n", formatTime(stats.OldestClaimedAt))
			fmt.Fprintf(tw, "newest claim\t%s\t\n", formatTime(stats.NewestClaimedAt))
			fmt.Fprintf(tw, "oldest log\t%s\t\n", formatTime(logs.Oldest))
			fmt.Fprintf(tw, "newest log\t%s\t\n", formatTime(logs.Newest))
			if err := tw.Flush(); err != nil {
				return fmt.Errorf("write stats: %w", err)
			}
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database tables and indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
