package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var apiOnly bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin API, optionally alongside the workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			server, err := a.APIServer()
			if err != nil {
				return err
			}
			var runWorkers func(context.Context) error
			if !apiOnly {
				d, err := a.NewDispatcher(cmd.Context(), true)
				if err != nil {
					return err
				}
				runWorkers = d.Run
			}
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
				Handler:           server.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				a.Logger.Info("http server started", zap.Int("port", a.Config.Server.Port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				a.Logger.Info("shutdown initiated")
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.ShutdownTimeout())
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("http shutdown: %w", err)
				}
				return nil
			})
			if runWorkers != nil {
				g.Go(func() error {
					return runWorkers(ctx)
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			a.Logger.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&apiOnly, "api-only", false, "serve the API without starting workers")
	return cmd
}
