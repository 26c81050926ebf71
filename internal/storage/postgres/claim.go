package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
)

// claimSQL selects and flips pending rows in one statement. SKIP LOCKED lets
// concurrent claimers pass over rows another transaction is taking, so each
// row is returned to exactly one caller.
const claimSQL = `
WITH picked AS (
	SELECT id FROM discovery_queue
	WHERE status = 'pending'
	ORDER BY priority DESC, discovered_at ASC, id ASC
	LIMIT $3
	FOR UPDATE SKIP LOCKED
)
UPDATE discovery_queue q
SET status = 'processing', claimed_by = $1, claimed_at = $2
FROM picked
WHERE q.id = picked.id
RETURNING q.id, q.url, q.domain_name, q.source_domain_id, q.priority, q.depth, q.status, q.attempts,
	q.discovered_at, q.queued_at, q.processed_at, q.error_message, q.claimed_by, q.claimed_at`

// ClaimBatch leases up to limit pending rows to workerID. A failed claim rolls
// back and leaves every row pending.
func (s *Store) ClaimBatch(ctx context.Context, workerID string, limit int, at time.Time) ([]discovery.QueueItem, error) {
	if workerID == "" {
		return nil, fmt.Errorf("worker id is required")
	}
	if limit <= 0 {
		return nil, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	rows, err := tx.Query(ctx, claimSQL, workerID, at, limit)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	items, err := collectItems(rows)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	sortClaimOrder(items)
	return items, nil
}
