// Package archive exports old collection log rows as CSV.
package archive

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
)

// Store is the part of the log store archiving needs.
type Store interface {
	ListLogsBefore(ctx context.Context, cutoff time.Time, limit int) ([]discovery.CollectionLog, error)
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Result reports what Logs did.
type Result struct {
	Cutoff  time.Time
	Written int
	Deleted int64
}

var header = []string{
	"id",
	"domain_name",
	"url",
	"status",
	"error_message",
	"collected_at",
	"duration_ms",
	"relationships_found",
	"urls_discovered",
	"worker_id",
}

// Logs writes every row collected before cutoff to w, oldest first. With
// deleteAfter the rows are removed once the CSV has been flushed.
func Logs(ctx context.Context, store Store, w io.Writer, cutoff time.Time, deleteAfter bool) (Result, error) {
	res := Result{Cutoff: cutoff}
	rows, err := store.ListLogsBefore(ctx, cutoff, 0)
	if err != nil {
		return res, fmt.Errorf("list logs: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return res, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(record(row)); err != nil {
			return res, fmt.Errorf("write csv row %d: %w", row.ID, err)
		}
		res.Written++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return res, fmt.Errorf("flush csv: %w", err)
	}

	if !deleteAfter || res.Written == 0 {
		return res, nil
	}
	deleted, err := store.DeleteLogsBefore(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("delete archived logs: %w", err)
	}
	res.Deleted = deleted
	return res, nil
}

func record(row discovery.CollectionLog) []string {
	errMsg := ""
	if row.ErrorMessage != nil {
		errMsg = *row.ErrorMessage
	}
	return []string{
		strconv.FormatInt(row.ID, 10),
		row.DomainName,
		row.URL,
		string(row.Status),
		errMsg,
		row.CollectedAt.UTC().Format(time.RFC3339),
		strconv.FormatInt(row.Duration.Milliseconds(), 10),
		strconv.Itoa(row.RelationshipsFound),
		strconv.Itoa(row.URLsDiscovered),
		row.WorkerID,
	}
}
