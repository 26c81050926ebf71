package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
	"github.com/JakeFAU/domain-mapper/internal/frontier"
	"github.com/JakeFAU/domain-mapper/internal/metrics"
)

const (
	reasonAlreadyProcessed = "already processed"
	reasonDomainLimit      = "domain processing limit reached"

	// detachedWriteTimeout bounds store writes made after the item deadline
	// or a stop request.
	detachedWriteTimeout = 10 * time.Second
)

type itemOutcome struct {
	status    discovery.QueueStatus
	errMsg    string
	expansion frontier.Result
	// frontierErr is set when expansion stopped early; the item still completes.
	frontierErr string
	// collected is set when the collector ran, so the history ledger gets a row.
	collected bool
	leaseLost bool
}

// processItem runs one claimed item to a terminal status. Collection runs on
// a context detached from the batch so a stop request lets it finish, bounded
// by ItemTimeout. The terminal writes get their own deadline so an item that
// used up its timeout is still recorded as failed.
func (w *Worker) processItem(ctx context.Context, item discovery.QueueItem, budget *frontier.Budget) itemOutcome {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	itemCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.ItemTimeout)
	defer cancel()

	start := time.Now()
	log := w.logger.With(
		zap.Int64("item_id", item.ID),
		zap.String("url", item.URL),
		zap.Int("depth", item.Depth),
	)

	out := w.collect(itemCtx, item, budget, log)
	cancel()

	writeCtx, cancelWrites := context.WithTimeout(context.WithoutCancel(ctx), detachedWriteTimeout)
	defer cancelWrites()
	out = w.finish(writeCtx, item, out, log)
	duration := time.Since(start)
	if out.leaseLost {
		return out
	}

	metrics.ObserveItem(string(out.status), duration)
	w.recordHistory(writeCtx, item, out, log)
	w.appendLog(writeCtx, item, out, duration, log)
	w.publish(writeCtx, item, out, duration, log)
	return out
}

func (w *Worker) collect(ctx context.Context, item discovery.QueueItem, budget *frontier.Budget, log *zap.Logger) itemOutcome {
	if w.cfg.SkipAlreadyProcessed {
		done, err := w.store.WasProcessed(ctx, item.URL)
		if err != nil {
			return failed(fmt.Errorf("history lookup: %w", err))
		}
		if done {
			log.Debug("skipping processed url")
			return itemOutcome{status: discovery.StatusSkipped, errMsg: reasonAlreadyProcessed}
		}
	}
	if w.cfg.MaxURLsPerDomain > 0 {
		n, err := w.store.CountByDomain(ctx, item.DomainName)
		if err != nil {
			return failed(fmt.Errorf("domain history count: %w", err))
		}
		if n >= w.cfg.MaxURLsPerDomain {
			log.Debug("domain limit reached", zap.String("domain", item.DomainName), zap.Int("processed", n))
			return itemOutcome{status: discovery.StatusSkipped, errMsg: reasonDomainLimit}
		}
	}

	result, err := w.collector.Collect(ctx, discovery.CollectRequest{
		URL:        item.URL,
		DomainName: item.DomainName,
		Depth:      item.Depth,
	})
	if err != nil {
		log.Warn("collection failed", zap.Error(err))
		return itemOutcome{status: discovery.StatusForError(err), errMsg: err.Error(), collected: true}
	}

	meta := result.Metadata
	meta.DomainName = item.DomainName
	domainID, err := w.store.UpsertDomain(ctx, meta, w.clock.Now())
	if err != nil {
		out := failed(fmt.Errorf("upsert domain: %w", err))
		out.collected = true
		return out
	}

	out := itemOutcome{status: discovery.StatusCompleted, collected: true}
	expansion, err := w.expander.Expand(ctx, frontier.Source{Item: item, DomainID: domainID}, result.Links, budget)
	if err != nil {
		log.Error("frontier expansion stopped; item stays completed",
			zap.Int("urls_discovered", expansion.URLsDiscovered),
			zap.Int("relationships_found", expansion.RelationshipsFound),
			zap.Error(err),
		)
		metrics.ObserveFrontierError()
		out.frontierErr = fmt.Sprintf("expand frontier: %v", err)
	}
	observeExpansion(expansion)
	out.expansion = expansion
	return out
}

// finish writes the terminal status. A store error on a completed item is
// retried as failed so the item never silently stays in processing.
func (w *Worker) finish(ctx context.Context, item discovery.QueueItem, out itemOutcome, log *zap.Logger) itemOutcome {
	err := w.updateStatus(ctx, item, out)
	if err == nil {
		return out
	}
	if errors.Is(err, discovery.ErrStaleUpdate) || errors.Is(err, discovery.ErrNotFound) {
		log.Warn("lease lost before completion", zap.Error(err))
		out.leaseLost = true
		return out
	}
	if out.status == discovery.StatusFailed {
		log.Error("mark item failed", zap.Error(err))
		return out
	}

	log.Error("update status failed; marking item failed", zap.String("status", string(out.status)), zap.Error(err))
	fallback := failed(fmt.Errorf("update status: %w", err))
	fallback.collected = out.collected
	fallback.expansion = out.expansion
	if err := w.updateStatus(ctx, item, fallback); err != nil {
		log.Error("mark item failed", zap.Error(err))
	}
	return fallback
}

func (w *Worker) updateStatus(ctx context.Context, item discovery.QueueItem, out itemOutcome) error {
	update := discovery.StatusUpdate{
		ID:        item.ID,
		From:      discovery.StatusProcessing,
		To:        out.status,
		ClaimedBy: w.cfg.WorkerID,
		At:        w.clock.Now(),
	}
	if out.errMsg != "" {
		msg := out.errMsg
		update.ErrorMessage = &msg
	}
	return w.store.UpdateStatus(ctx, update)
}

func (w *Worker) recordHistory(ctx context.Context, item discovery.QueueItem, out itemOutcome, log *zap.Logger) {
	if !out.collected {
		return
	}
	outcome := discovery.OutcomeFailed
	switch out.status {
	case discovery.StatusCompleted:
		outcome = discovery.OutcomeSuccess
	case discovery.StatusSkipped:
		outcome = discovery.OutcomeSkipped
	}
	err := w.store.Record(ctx, discovery.HistoryEntry{
		URL:         item.URL,
		DomainName:  item.DomainName,
		Outcome:     outcome,
		LinksFound:  out.expansion.URLsDiscovered,
		ProcessedAt: w.clock.Now(),
	})
	if err != nil {
		log.Error("record history", zap.Error(err))
	}
}

func (w *Worker) appendLog(ctx context.Context, item discovery.QueueItem, out itemOutcome, duration time.Duration, log *zap.Logger) {
	entry := discovery.CollectionLog{
		DomainName:         item.DomainName,
		URL:                item.URL,
		Status:             out.status,
		CollectedAt:        w.clock.Now(),
		Duration:           duration,
		RelationshipsFound: out.expansion.RelationshipsFound,
		URLsDiscovered:     out.expansion.URLsDiscovered,
		WorkerID:           w.cfg.WorkerID,
	}
	switch {
	case out.errMsg != "":
		msg := out.errMsg
		entry.ErrorMessage = &msg
	case out.frontierErr != "":
		msg := out.frontierErr
		entry.ErrorMessage = &msg
	}
	if err := w.store.AppendLog(ctx, entry); err != nil {
		log.Error("append collection log", zap.Error(err))
	}
}

func (w *Worker) publish(ctx context.Context, item discovery.QueueItem, out itemOutcome, duration time.Duration, log *zap.Logger) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	event := Event{
		WorkerID:           w.cfg.WorkerID,
		ItemID:             item.ID,
		URL:                item.URL,
		Domain:             item.DomainName,
		Depth:              item.Depth,
		Status:             string(out.status),
		Error:              out.errMsg,
		DurationMs:         duration.Milliseconds(),
		URLsDiscovered:     out.expansion.URLsDiscovered,
		RelationshipsFound: out.expansion.RelationshipsFound,
		CollectedAt:        w.clock.Now(),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		log.Warn("publish collection event", zap.Error(err))
	}
}

func failed(err error) itemOutcome {
	return itemOutcome{status: discovery.StatusFailed, errMsg: err.Error()}
}

func observeExpansion(res frontier.Result) {
	metrics.ObserveFrontierEnqueues("inserted", res.URLsDiscovered)
	metrics.ObserveFrontierEnqueues("capped_domain", res.CappedDomain)
	metrics.ObserveFrontierEnqueues("capped_budget", res.CappedBudget)
	metrics.ObserveFrontierEnqueues("dropped_depth", res.DroppedDepth)
	for relType, n := range res.Relationships {
		metrics.ObserveRelationships(string(relType), n)
	}
}
