package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
)

// Enqueue adds a pending item unless the URL is already queued.
func (s *Store) Enqueue(_ context.Context, req discovery.EnqueueRequest) (discovery.EnqueueResult, error) {
	if req.URL == "" {
		return discovery.AlreadyExists, fmt.Errorf("url is required")
	}
	if req.Depth < 0 {
		return discovery.AlreadyExists, fmt.Errorf("depth must be >= 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.itemByURL[req.URL]; ok {
		return discovery.AlreadyExists, nil
	}
	s.nextItemID++
	item := &discovery.QueueItem{
		ID:             s.nextItemID,
		URL:            req.URL,
		DomainName:     req.DomainName,
		SourceDomainID: req.SourceDomainID,
		Priority:       req.Priority,
		Depth:          req.Depth,
		Status:         discovery.StatusPending,
		DiscoveredAt:   req.At,
		QueuedAt:       req.At,
	}
	s.items[item.ID] = item
	s.itemByURL[item.URL] = item.ID
	return discovery.Inserted, nil
}

// Get fetches an item by URL.
func (s *Store) Get(_ context.Context, url string) (discovery.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.itemByURL[url]
	if !ok {
		return discovery.QueueItem{}, discovery.ErrNotFound
	}
	return *s.items[id], nil
}

// ListByStatus returns up to limit items in the given status in claim order.
func (s *Store) ListByStatus(_ context.Context, status discovery.QueueStatus, limit int) ([]discovery.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectLocked(func(item *discovery.QueueItem) bool { return item.Status == status }, limit), nil
}

// UpdateStatus applies a guarded transition.
func (s *Store) UpdateStatus(_ context.Context, update discovery.StatusUpdate) error {
	if err := discovery.ValidateTransition(update.From, update.To); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[update.ID]
	if !ok {
		return discovery.ErrNotFound
	}
	if item.Status != update.From {
		return fmt.Errorf("%w: item %d is %s", discovery.ErrStaleUpdate, item.ID, item.Status)
	}
	if update.ClaimedBy != "" && (item.ClaimedBy == nil || *item.ClaimedBy != update.ClaimedBy) {
		return fmt.Errorf("%w: item %d lease lost", discovery.ErrStaleUpdate, item.ID)
	}
	item.Status = update.To
	item.ErrorMessage = update.ErrorMessage
	if update.To.Terminal() {
		at := update.At
		item.ProcessedAt = &at
	}
	if update.To == discovery.StatusPending {
		item.ClaimedBy = nil
		item.ClaimedAt = nil
	}
	return nil
}

// ClaimBatch leases up to limit pending items, highest priority and oldest first.
func (s *Store) ClaimBatch(_ context.Context, workerID string, limit int, at time.Time) ([]discovery.QueueItem, error) {
	if workerID == "" {
		return nil, fmt.Errorf("worker id is required")
	}
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.selectLocked(func(item *discovery.QueueItem) bool {
		return item.Status == discovery.StatusPending
	}, limit)
	claimed := make([]discovery.QueueItem, 0, len(pending))
	for _, p := range pending {
		item := s.items[p.ID]
		owner := workerID
		claimedAt := at
		item.Status = discovery.StatusProcessing
		item.ClaimedBy = &owner
		item.ClaimedAt = &claimedAt
		claimed = append(claimed, *item)
	}
	return claimed, nil
}

// ReleaseClaims returns ids still leased by workerID to pending.
func (s *Store) ReleaseClaims(_ context.Context, workerID string, ids []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var released int64
	for _, id := range ids {
		item, ok := s.items[id]
		if !ok || item.Status != discovery.StatusProcessing {
			continue
		}
		if item.ClaimedBy == nil || *item.ClaimedBy != workerID {
			continue
		}
		resetLease(item)
		released++
	}
	return released, nil
}

// ReclaimStale returns items leased before cutoff to pending.
func (s *Store) ReclaimStale(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var reclaimed int64
	for _, item := range s.items {
		if isStale(item, cutoff) {
			resetLease(item)
			reclaimed++
		}
	}
	return reclaimed, nil
}

// ListStale lists items leased before cutoff without changing them.
func (s *Store) ListStale(_ context.Context, cutoff time.Time, limit int) ([]discovery.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.selectLocked(func(item *discovery.QueueItem) bool { return isStale(item, cutoff) }, 0)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ClaimedAt.Before(*out[j].ClaimedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RetryFailed re-queues failed items that have attempts left.
func (s *Store) RetryFailed(_ context.Context, limit, maxAttempts int, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var failed []*discovery.QueueItem
	for _, item := range s.items {
		if item.Status != discovery.StatusFailed {
			continue
		}
		if maxAttempts > 0 && item.Attempts >= maxAttempts {
			continue
		}
		failed = append(failed, item)
	}
	sort.Slice(failed, func(i, j int) bool {
		a, b := failed[i], failed[j]
		if a.ProcessedAt != nil && b.ProcessedAt != nil && !a.ProcessedAt.Equal(*b.ProcessedAt) {
			return a.ProcessedAt.Before(*b.ProcessedAt)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(failed) > limit {
		failed = failed[:limit]
	}
	for _, item := range failed {
		resetLease(item)
		item.Attempts++
		item.ErrorMessage = nil
		item.ProcessedAt = nil
		item.QueuedAt = at
	}
	return int64(len(failed)), nil
}

// Stats counts items per status.
func (s *Store) Stats(_ context.Context) (discovery.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := discovery.QueueStats{Counts: map[discovery.QueueStatus]int64{}}
	for _, item := range s.items {
		stats.Counts[item.Status]++
		if item.Status != discovery.StatusProcessing || item.ClaimedAt == nil {
			continue
		}
		at := *item.ClaimedAt
		if stats.OldestClaimedAt == nil || at.Before(*stats.OldestClaimedAt) {
			stats.OldestClaimedAt = &at
		}
		if stats.NewestClaimedAt == nil || at.After(*stats.NewestClaimedAt) {
			stats.NewestClaimedAt = &at
		}
	}
	return stats, nil
}

// selectLocked returns copies of matching items ordered by priority
// descending, discovered_at ascending, id ascending.
func (s *Store) selectLocked(match func(*discovery.QueueItem) bool, limit int) []discovery.QueueItem {
	var out []discovery.QueueItem
	for _, item := range s.items {
		if match(item) {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.DiscoveredAt.Equal(b.DiscoveredAt) {
			return a.DiscoveredAt.Before(b.DiscoveredAt)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func isStale(item *discovery.QueueItem, cutoff time.Time) bool {
	return item.Status == discovery.StatusProcessing && item.ClaimedAt != nil && item.ClaimedAt.Before(cutoff)
}

func resetLease(item *discovery.QueueItem) {
	item.Status = discovery.StatusPending
	item.ClaimedBy = nil
	item.ClaimedAt = nil
}
