package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
)

const itemColumns = `id, url, domain_name, source_domain_id, priority, depth, status, attempts,
	discovered_at, queued_at, processed_at, error_message, claimed_by, claimed_at`

const enqueueSQL = `
INSERT INTO discovery_queue (url, domain_name, source_domain_id, priority, depth, status, discovered_at, queued_at)
VALUES ($1, $2, $3, $4, $5, 'pending', $6, $6)
ON CONFLICT (url) DO NOTHING`

const updateStatusSQL = `
UPDATE discovery_queue
SET status = $3,
	error_message = $4,
	processed_at = COALESCE($5, processed_at),
	claimed_by = CASE WHEN $6 THEN NULL ELSE claimed_by END,
	claimed_at = CASE WHEN $6 THEN NULL ELSE claimed_at END
WHERE id = $1 AND status = $2 AND ($7::text = '' OR claimed_by = $7)`

const releaseSQL = `
UPDATE discovery_queue
SET status = 'pending', claimed_by = NULL, claimed_at = NULL
WHERE status = 'processing' AND claimed_by = $1 AND id = ANY($2)`

const reclaimSQL = `
UPDATE discovery_queue
SET status = 'pending', claimed_by = NULL, claimed_at = NULL
WHERE status = 'processing' AND claimed_at < $1`

const retrySQL = `
WITH picked AS (
	SELECT id FROM discovery_queue
	WHERE status = 'failed' AND ($2::int <= 0 OR attempts < $2::int)
	ORDER BY processed_at ASC NULLS LAST, id ASC
	LIMIT $1
	FOR UPDATE SKIP LOCKED
)
UPDATE discovery_queue q
SET status = 'pending',
	attempts = q.attempts + 1,
	error_message = NULL,
	processed_at = NULL,
	claimed_by = NULL,
	claimed_at = NULL,
	queued_at = $3
FROM picked
WHERE q.id = picked.id`

const statsSQL = `
SELECT status, COUNT(*), MIN(claimed_at), MAX(claimed_at)
FROM discovery_queue
GROUP BY status`

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (discovery.QueueItem, error) {
	var (
		item   discovery.QueueItem
		status string
	)
	err := row.Scan(
		&item.ID,
		&item.URL,
		&item.DomainName,
		&item.SourceDomainID,
		&item.Priority,
		&item.Depth,
		&status,
		&item.Attempts,
		&item.DiscoveredAt,
		&item.QueuedAt,
		&item.ProcessedAt,
		&item.ErrorMessage,
		&item.ClaimedBy,
		&item.ClaimedAt,
	)
	if err != nil {
		return discovery.QueueItem{}, err
	}
	item.Status = discovery.QueueStatus(status)
	return item, nil
}

func collectItems(rows pgx.Rows) ([]discovery.QueueItem, error) {
	defer rows.Close()
	var out []discovery.QueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Enqueue inserts a pending row; an existing URL is left untouched.
func (s *Store) Enqueue(ctx context.Context, req discovery.EnqueueRequest) (discovery.EnqueueResult, error) {
	if req.URL == "" {
		return discovery.AlreadyExists, fmt.Errorf("url is required")
	}
	if req.Depth < 0 {
		return discovery.AlreadyExists, fmt.Errorf("depth must be >= 0")
	}
	tag, err := s.pool.Exec(ctx, enqueueSQL,
		req.URL,
		req.DomainName,
		req.SourceDomainID,
		req.Priority,
		req.Depth,
		req.At,
	)
	if err != nil {
		return discovery.AlreadyExists, fmt.Errorf("enqueue %s: %w", req.URL, err)
	}
	if tag.RowsAffected() == 1 {
		return discovery.Inserted, nil
	}
	return discovery.AlreadyExists, nil
}

// Get fetches a queue row by URL.
func (s *Store) Get(ctx context.Context, url string) (discovery.QueueItem, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM discovery_queue WHERE url = $1`, url)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return discovery.QueueItem{}, discovery.ErrNotFound
	}
	if err != nil {
		return discovery.QueueItem{}, fmt.Errorf("get queue item: %w", err)
	}
	return item, nil
}

// ListByStatus returns rows in status, in claim order.
func (s *Store) ListByStatus(ctx context.Context, status discovery.QueueStatus, limit int) ([]discovery.QueueItem, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+itemColumns+` FROM discovery_queue
WHERE status = $1
ORDER BY priority DESC, discovered_at ASC, id ASC
LIMIT $2`, string(status), limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	return items, nil
}

// UpdateStatus applies a guarded transition. Zero affected rows means the row
// moved on (or the lease changed hands) since the caller read it.
func (s *Store) UpdateStatus(ctx context.Context, update discovery.StatusUpdate) error {
	if err := discovery.ValidateTransition(update.From, update.To); err != nil {
		return err
	}
	var processedAt *time.Time
	if update.To.Terminal() {
		at := update.At
		processedAt = &at
	}
	tag, err := s.pool.Exec(ctx, updateStatusSQL,
		update.ID,
		string(update.From),
		string(update.To),
		update.ErrorMessage,
		processedAt,
		update.To == discovery.StatusPending,
		update.ClaimedBy,
	)
	if err != nil {
		return fmt.Errorf("update queue item %d: %w", update.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM discovery_queue WHERE id = $1`, update.ID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return discovery.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update queue item %d: %w", update.ID, err)
	}
	return fmt.Errorf("%w: item %d is %s", discovery.ErrStaleUpdate, update.ID, current)
}

// ReleaseClaims returns ids still leased by workerID to pending.
func (s *Store) ReleaseClaims(ctx context.Context, workerID string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, releaseSQL, workerID, ids)
	if err != nil {
		return 0, fmt.Errorf("release claims: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReclaimStale returns items leased before cutoff to pending.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, reclaimSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale leases: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListStale lists items leased before cutoff, oldest lease first.
func (s *Store) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]discovery.QueueItem, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+itemColumns+` FROM discovery_queue
WHERE status = 'processing' AND claimed_at < $1
ORDER BY claimed_at ASC, id ASC
LIMIT $2`, cutoff, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list stale leases: %w", err)
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, fmt.Errorf("list stale leases: %w", err)
	}
	return items, nil
}

// RetryFailed re-queues failed items with attempts left, bumping attempts.
func (s *Store) RetryFailed(ctx context.Context, limit, maxAttempts int, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, retrySQL, limitArg(limit), maxAttempts, at)
	if err != nil {
		return 0, fmt.Errorf("retry failed items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats counts rows per status.
func (s *Store) Stats(ctx context.Context) (discovery.QueueStats, error) {
	rows, err := s.pool.Query(ctx, statsSQL)
	if err != nil {
		return discovery.QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()
	stats := discovery.QueueStats{Counts: map[discovery.QueueStatus]int64{}}
	for rows.Next() {
		var (
			status         string
			count          int64
			oldest, newest *time.Time
		)
		if err := rows.Scan(&status, &count, &oldest, &newest); err != nil {
			return discovery.QueueStats{}, fmt.Errorf("scan queue stats: %w", err)
		}
		stats.Counts[discovery.QueueStatus(status)] = count
		if discovery.QueueStatus(status) == discovery.StatusProcessing {
			stats.OldestClaimedAt = oldest
			stats.NewestClaimedAt = newest
		}
	}
	if err := rows.Err(); err != nil {
		return discovery.QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	return stats, nil
}

// sortClaimOrder restores priority/age order, which RETURNING does not keep.
func sortClaimOrder(items []discovery.QueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.DiscoveredAt.Equal(b.DiscoveredAt) {
			return a.DiscoveredAt.Before(b.DiscoveredAt)
		}
		return a.ID < b.ID
	})
}
