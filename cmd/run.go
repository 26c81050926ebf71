package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd() *cobra.Command {
	var (
		once          bool
		noReclaim     bool
		maxItems      int
		maxDepth      int
		forceShutdown time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run collection workers against the queue",
		Long: `Starts collection.workers workers. Each claims up to collection.max_items
items at a time until interrupted. With --once every worker runs a single
batch and the totals are printed.

--max-items and --max-depth override the configured values for this run.
After an interrupt, workers finish their in-flight items; a second interrupt,
or --force-shutdown-after elapsing, exits without waiting.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-items") {
				if maxItems <= 0 {
					return fmt.Errorf("--max-items must be positive, got %d", maxItems)
				}
				a.Config.Collection.MaxItems = maxItems
			}
			if cmd.Flags().Changed("max-depth") {
				if maxDepth < 0 {
					return fmt.Errorf("--max-depth must not be negative, got %d", maxDepth)
				}
				a.Config.Collection.MaxDepth = maxDepth
			}
			d, err := a.NewDispatcher(cmd.Context(), !once && !noReclaim)
			if err != nil {
				return err
			}
			if once {
				res, err := d.RunOnce(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(),
					"claimed %d, completed %d, failed %d, skipped %d, released %d, urls discovered %d, relationships %d\n",
					res.Claimed, res.Completed, res.Failed, res.Skipped, res.Released,
					res.URLsDiscovered, res.RelationshipsFound)
				return err
			}
			if forceShutdown > 0 {
				defer watchShutdown(cmd.Context(), forceShutdown, a.Logger, osExit)()
			}
			a.Logger.Info("workers starting",
				zap.Int("workers", a.Config.Collection.Workers),
				zap.Int("max_items", a.Config.Collection.MaxItems),
				zap.Int("max_depth", a.Config.Collection.MaxDepth),
			)
			if err := d.Run(cmd.Context()); err != nil {
				return fmt.Errorf("run workers: %w", err)
			}
			a.Logger.Info("workers stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single batch per worker and exit")
	cmd.Flags().BoolVar(&noReclaim, "no-reclaim", false, "do not run lease recovery next to the workers")
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "items each worker claims per batch (default collection.max_items)")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "deepest link level to queue (default collection.max_depth)")
	cmd.Flags().DurationVar(&forceShutdown, "force-shutdown-after", 0, "exit this long after an interrupt even if items are still in flight (0 waits)")
	return cmd
}
