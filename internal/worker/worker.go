// Package worker implements the crawl orchestrator: claim a batch, collect
// each item, expand the frontier and record the outcome.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
	"github.com/JakeFAU/domain-mapper/internal/frontier"
	"github.com/JakeFAU/domain-mapper/internal/metrics"
)

// Config controls Worker behavior.
type Config struct {
	WorkerID string
	// MaxItems bounds both the claim size and the new items one batch may queue.
	MaxItems int
	// MaxURLsPerDomain skips items whose domain already has this many
	// history entries; 0 disables the cap.
	MaxURLsPerDomain     int
	SkipAlreadyProcessed bool
	ItemTimeout          time.Duration
	IdleSleep            time.Duration
	// Topic receives one event per finished item; empty disables publishing.
	Topic string
}

// Limiter paces requests.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Expander turns a page's links into queue items and relationships.
type Expander interface {
	Expand(ctx context.Context, source frontier.Source, links []discovery.Link, budget *frontier.Budget) (frontier.Result, error)
}

// BatchResult counts what one batch did.
type BatchResult struct {
	Claimed            int
	Completed          int
	Failed             int
	Skipped            int
	Released           int
	LeasesLost         int
	URLsDiscovered     int
	RelationshipsFound int
}

// Worker claims queue items and runs the collection pipeline on them.
type Worker struct {
	store     discovery.Store
	collector discovery.Collector
	expander  Expander
	limiter   Limiter
	publisher discovery.Publisher
	clock     discovery.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. limiter and publisher may be nil.
func New(
	store discovery.Store,
	collector discovery.Collector,
	expander Expander,
	limiter Limiter,
	publisher discovery.Publisher,
	clock discovery.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Worker, error) {
	if cfg.WorkerID == "" {
		return nil, fmt.Errorf("worker id is required")
	}
	if cfg.MaxItems <= 0 {
		return nil, fmt.Errorf("max items must be > 0")
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = 60 * time.Second
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Worker{
		store:     store,
		collector: collector,
		expander:  expander,
		limiter:   limiter,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.With(zap.String("worker_id", cfg.WorkerID)),
	}, nil
}

// ID returns the lease owner name this worker claims under.
func (w *Worker) ID() string {
	return w.cfg.WorkerID
}

// RunBatch claims up to MaxItems items and processes them in claim order.
// Cancelling ctx stops between items; the unstarted remainder is released.
// Only a failed claim is returned as an error.
func (w *Worker) RunBatch(ctx context.Context) (BatchResult, error) {
	var res BatchResult
	items, err := w.store.ClaimBatch(ctx, w.cfg.WorkerID, w.cfg.MaxItems, w.clock.Now())
	if err != nil {
		return res, fmt.Errorf("claim batch: %w", err)
	}
	metrics.ObserveClaim(len(items))
	res.Claimed = len(items)
	if len(items) == 0 {
		return res, nil
	}
	w.logger.Info("batch claimed", zap.Int("items", len(items)))

	budget := frontier.NewBudget(w.cfg.MaxItems)
	for i, item := range items {
		if ctx.Err() == nil && w.limiter != nil {
			if err := w.limiter.Wait(ctx, item.URL); err != nil && ctx.Err() == nil {
				w.logger.Warn("rate limit wait failed", zap.String("url", item.URL), zap.Error(err))
			}
		}
		if ctx.Err() != nil {
			res.Released = w.release(ctx, items[i:])
			break
		}
		out := w.processItem(ctx, item, budget)
		res.add(out)
	}
	w.logger.Info("batch finished",
		zap.Int("claimed", res.Claimed),
		zap.Int("completed", res.Completed),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Int("released", res.Released),
		zap.Int("urls_discovered", res.URLsDiscovered),
	)
	return res, nil
}

// RunContinuous runs batches until ctx is cancelled, sleeping IdleSleep
// whenever the queue had nothing to claim.
func (w *Worker) RunContinuous(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := w.RunBatch(ctx)
		if err != nil {
			return err
		}
		if res.Claimed > 0 {
			continue
		}
		timer := time.NewTimer(w.cfg.IdleSleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// release returns unstarted claims to pending. ctx is already cancelled, so
// the store call runs detached with a short deadline.
func (w *Worker) release(ctx context.Context, items []discovery.QueueItem) int {
	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedWriteTimeout)
	defer cancel()
	n, err := w.store.ReleaseClaims(releaseCtx, w.cfg.WorkerID, ids)
	if err != nil {
		w.logger.Warn("release claims failed; lease recovery will pick them up",
			zap.Int("items", len(ids)),
			zap.Error(err),
		)
		return 0
	}
	w.logger.Info("released unstarted claims", zap.Int64("items", n))
	return int(n)
}

func (r *BatchResult) add(out itemOutcome) {
	switch {
	case out.leaseLost:
		r.LeasesLost++
	case out.status == discovery.StatusCompleted:
		r.Completed++
	case out.status == discovery.StatusSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
	r.URLsDiscovered += out.expansion.URLsDiscovered
	r.RelationshipsFound += out.expansion.RelationshipsFound
}
