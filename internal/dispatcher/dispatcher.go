// Package dispatcher runs a pool of queue workers side by side.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/domain-mapper/internal/worker"
)

// Runner is one queue worker.
type Runner interface {
	ID() string
	RunBatch(ctx context.Context) (worker.BatchResult, error)
	RunContinuous(ctx context.Context) error
}

// Background is a housekeeping loop that runs next to the workers, such as
// lease recovery.
type Background interface {
	Run(ctx context.Context) error
}

// Dispatcher fans work out to a fixed set of workers. Workers share nothing
// but the store; the claim query keeps them off each other's items.
type Dispatcher struct {
	runners    []Runner
	background []Background
	logger     *zap.Logger
}

// New creates a Dispatcher.
func New(runners []Runner, background []Background, logger *zap.Logger) (*Dispatcher, error) {
	if len(runners) == 0 {
		return nil, fmt.Errorf("at least one worker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{runners: runners, background: background, logger: logger}, nil
}

// RunOnce runs a single batch on every worker concurrently and sums the
// results. The first claim error is returned after all batches finish.
func (d *Dispatcher) RunOnce(ctx context.Context) (worker.BatchResult, error) {
	var (
		mu    sync.Mutex
		total worker.BatchResult
		g     errgroup.Group
	)
	for _, r := range d.runners {
		g.Go(func() error {
			res, err := r.RunBatch(ctx)
			mu.Lock()
			total = sum(total, res)
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("worker %s: %w", r.ID(), err)
			}
			return nil
		})
	}
	err := g.Wait()
	return total, err
}

// Run starts every worker and background loop and blocks until ctx is
// cancelled or one of them fails, in which case the rest are stopped.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range d.runners {
		g.Go(func() error {
			d.logger.Info("worker started", zap.String("worker_id", r.ID()))
			if err := r.RunContinuous(gctx); err != nil {
				d.logger.Error("worker stopped", zap.String("worker_id", r.ID()), zap.Error(err))
				return fmt.Errorf("worker %s: %w", r.ID(), err)
			}
			d.logger.Info("worker stopped", zap.String("worker_id", r.ID()))
			return nil
		})
	}
	for _, b := range d.background {
		g.Go(func() error {
			return b.Run(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

func sum(a, b worker.BatchResult) worker.BatchResult {
	a.Claimed += b.Claimed
	a.Completed += b.Completed
	a.Failed += b.Failed
	a.Skipped += b.Skipped
	a.Released += b.Released
	a.LeasesLost += b.LeasesLost
	a.URLsDiscovered += b.URLsDiscovered
	a.RelationshipsFound += b.RelationshipsFound
	return a
}
