package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
)

const recordHistorySQL = `
INSERT INTO url_processing_history (url, domain_name, outcome, links_found, processed_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (url) DO UPDATE SET
	domain_name = EXCLUDED.domain_name,
	outcome = EXCLUDED.outcome,
	links_found = EXCLUDED.links_found,
	processed_at = EXCLUDED.processed_at`

const appendLogSQL = `
INSERT INTO collection_logs (
	domain_name, url, status, error_message, collected_at,
	duration_ms, relationships_found, urls_discovered, worker_id
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const listLogsSQL = `
SELECT id, domain_name, url, status, error_message, collected_at,
	duration_ms, relationships_found, urls_discovered, worker_id
FROM collection_logs
WHERE collected_at < $1
ORDER BY collected_at ASC, id ASC
LIMIT $2`

// WasProcessed reports whether url has a successful history entry.
func (s *Store) WasProcessed(ctx context.Context, url string) (bool, error) {
	var done bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM url_processing_history WHERE url = $1 AND outcome = 'success')`,
		url,
	).Scan(&done)
	if err != nil {
		return false, fmt.Errorf("check history: %w", err)
	}
	return done, nil
}

// Record upserts the history entry for entry.URL.
func (s *Store) Record(ctx context.Context, entry discovery.HistoryEntry) error {
	_, err := s.pool.Exec(ctx, recordHistorySQL,
		entry.URL,
		entry.DomainName,
		string(entry.Outcome),
		entry.LinksFound,
		entry.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

// CountByDomain counts history entries for domain.
func (s *Store) CountByDomain(ctx context.Context, domain string) (int, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM url_processing_history WHERE domain_name = $1`,
		domain,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return int(n), nil
}

// AppendLog inserts a collection log row.
func (s *Store) AppendLog(ctx context.Context, entry discovery.CollectionLog) error {
	_, err := s.pool.Exec(ctx, appendLogSQL,
		entry.DomainName,
		entry.URL,
		string(entry.Status),
		entry.ErrorMessage,
		entry.CollectedAt,
		entry.Duration.Milliseconds(),
		entry.RelationshipsFound,
		entry.URLsDiscovered,
		entry.WorkerID,
	)
	if err != nil {
		return fmt.Errorf("append collection log: %w", err)
	}
	return nil
}

// LogStats counts log rows per status.
func (s *Store) LogStats(ctx context.Context) (discovery.LogStats, error) {
	rows, err := s.pool.Query(ctx, `
SELECT status, COUNT(*), MIN(collected_at), MAX(collected_at)
FROM collection_logs
GROUP BY status`)
	if err != nil {
		return discovery.LogStats{}, fmt.Errorf("log stats: %w", err)
	}
	defer rows.Close()
	stats := discovery.LogStats{Counts: map[discovery.QueueStatus]int64{}}
	for rows.Next() {
		var (
			status         string
			count          int64
			oldest, newest time.Time
		)
		if err := rows.Scan(&status, &count, &oldest, &newest); err != nil {
			return discovery.LogStats{}, fmt.Errorf("scan log stats: %w", err)
		}
		stats.Counts[discovery.QueueStatus(status)] = count
		if stats.Oldest == nil || oldest.Before(*stats.Oldest) {
			o := oldest
			stats.Oldest = &o
		}
		if stats.Newest == nil || newest.After(*stats.Newest) {
			n := newest
			stats.Newest = &n
		}
	}
	if err := rows.Err(); err != nil {
		return discovery.LogStats{}, fmt.Errorf("log stats: %w", err)
	}
	return stats, nil
}

// ListLogsBefore returns up to limit rows collected before cutoff, oldest first.
func (s *Store) ListLogsBefore(ctx context.Context, cutoff time.Time, limit int) ([]discovery.CollectionLog, error) {
	rows, err := s.pool.Query(ctx, listLogsSQL, cutoff, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list collection logs: %w", err)
	}
	defer rows.Close()
	var out []discovery.CollectionLog
	for rows.Next() {
		var (
			entry      discovery.CollectionLog
			status     string
			durationMS int64
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.DomainName,
			&entry.URL,
			&status,
			&entry.ErrorMessage,
			&entry.CollectedAt,
			&durationMS,
			&entry.RelationshipsFound,
			&entry.URLsDiscovered,
			&entry.WorkerID,
		); err != nil {
			return nil, fmt.Errorf("scan collection log: %w", err)
		}
		entry.Status = discovery.QueueStatus(status)
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list collection logs: %w", err)
	}
	return out, nil
}

// DeleteLogsBefore removes rows collected before cutoff.
func (s *Store) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM collection_logs WHERE collected_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete collection logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
