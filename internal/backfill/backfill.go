// Package backfill re-collects domains whose metadata still has null fields
// and merges whatever the collector finds into their rows.
package backfill

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
	"github.com/JakeFAU/domain-mapper/internal/frontier"
)

// Limiter paces requests.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Result counts what one run did.
type Result struct {
	Scanned   int
	Updated   int
	Unchanged int
	Failed    int
}

// Filler runs backfills.
type Filler struct {
	store     discovery.DomainStore
	collector discovery.Collector
	limiter   Limiter
	clock     discovery.Clock
	logger    *zap.Logger
}

// New constructs a Filler. limiter may be nil.
func New(store discovery.DomainStore, collector discovery.Collector, limiter Limiter, clock discovery.Clock, logger *zap.Logger) *Filler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filler{store: store, collector: collector, limiter: limiter, clock: clock, logger: logger}
}

// Run re-collects up to limit incomplete domains (0 for all). dryRun
// collects and counts without writing. Collection failures are counted and
// skipped; only a failed listing or write is returned.
func (f *Filler) Run(ctx context.Context, limit int, dryRun bool) (Result, error) {
	var res Result
	names, err := f.store.ListIncompleteDomains(ctx, limit)
	if err != nil {
		return res, fmt.Errorf("backfill: %w", err)
	}
	f.logger.Info("backfill starting", zap.Int("domains", len(names)), zap.Bool("dry_run", dryRun))

	for _, name := range names {
		if ctx.Err() != nil {
			f.logger.Info("backfill interrupted", zap.Int("scanned", res.Scanned))
			break
		}
		res.Scanned++
		filled, err := f.fill(ctx, name, dryRun)
		switch {
		case errors.As(err, new(writeError)):
			return res, err
		case err != nil:
			res.Failed++
			f.logger.Warn("backfill collection failed", zap.String("domain", name), zap.Error(err))
		case filled:
			res.Updated++
		default:
			res.Unchanged++
		}
	}
	f.logger.Info("backfill finished",
		zap.Int("scanned", res.Scanned),
		zap.Int("updated", res.Updated),
		zap.Int("unchanged", res.Unchanged),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

type writeError struct{ err error }

func (e writeError) Error() string { return e.err.Error() }
func (e writeError) Unwrap() error { return e.err }

// fill reports whether collection produced any field the row was missing.
func (f *Filler) fill(ctx context.Context, name string, dryRun bool) (bool, error) {
	current, err := f.store.GetDomain(ctx, name)
	if err != nil {
		return false, fmt.Errorf("load domain %s: %w", name, err)
	}
	missing := current.Missing()
	if len(missing) == 0 {
		return false, nil
	}

	url := frontier.SeedURL(name)
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, url); err != nil {
			return false, fmt.Errorf("rate limit %s: %w", name, err)
		}
	}
	found, err := f.collector.Collect(ctx, discovery.CollectRequest{URL: url, DomainName: name})
	if err != nil {
		return false, err
	}
	meta := found.Metadata
	meta.DomainName = name
	merged := current.DomainMetadata.Merge(meta)
	stillMissing := len(merged.Missing())
	f.logger.Debug("backfill collected",
		zap.String("domain", name),
		zap.Strings("missing", missing),
		zap.Int("still_missing", stillMissing),
	)
	if stillMissing == len(missing) {
		return false, nil
	}
	if dryRun {
		return true, nil
	}
	if _, err := f.store.UpsertDomain(ctx, meta, f.clock.Now()); err != nil {
		return false, writeError{fmt.Errorf("update domain %s: %w", name, err)}
	}
	return true, nil
}
