// Package lease recovers queue items whose worker stopped renewing progress.
package lease

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
	"github.com/JakeFAU/domain-mapper/internal/metrics"
)

// Store is the part of the queue lease recovery needs.
type Store interface {
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]discovery.QueueItem, error)
}

// Config controls lease recovery.
type Config struct {
	// Timeout is how long an item may stay in processing before it is reclaimed.
	Timeout time.Duration
	// Interval is how often Run reclaims.
	Interval time.Duration
}

// Reclaimer returns stale processing items to pending.
type Reclaimer struct {
	store  Store
	clock  discovery.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Reclaimer.
func New(store Store, clock discovery.Clock, cfg Config, logger *zap.Logger) (*Reclaimer, error) {
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("lease timeout must be > 0")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = cfg.Timeout / 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Reclaimer{store: store, clock: clock, cfg: cfg, logger: logger}, nil
}

// Cutoff is the claim time before which a lease counts as stale.
func (r *Reclaimer) Cutoff() time.Time {
	return r.clock.Now().Add(-r.cfg.Timeout)
}

// ReclaimStale moves every stale item back to pending and reports how many.
func (r *Reclaimer) ReclaimStale(ctx context.Context) (int64, error) {
	cutoff := r.Cutoff()
	n, err := r.store.ReclaimStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale leases: %w", err)
	}
	metrics.ObserveReclaimed(n)
	if n > 0 {
		r.logger.Info("reclaimed stale leases", zap.Int64("items", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// Preview lists what ReclaimStale would move without changing anything.
func (r *Reclaimer) Preview(ctx context.Context, limit int) ([]discovery.QueueItem, error) {
	items, err := r.store.ListStale(ctx, r.Cutoff(), limit)
	if err != nil {
		return nil, fmt.Errorf("preview stale leases: %w", err)
	}
	return items, nil
}

// Run reclaims immediately and then every Interval until ctx is done. Store
// errors are logged and retried on the next tick.
func (r *Reclaimer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.ReclaimStale(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("lease recovery pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
