package discovery

import (
	"context"
	"io"
	"time"
)

// QueueStore is the durable work queue shared by every worker.
type QueueStore interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResult, error)
	Get(ctx context.Context, url string) (QueueItem, error)
	ListByStatus(ctx context.Context, status QueueStatus, limit int) ([]QueueItem, error)
	UpdateStatus(ctx context.Context, update StatusUpdate) error
	// ClaimBatch atomically leases up to limit pending items to workerID.
	ClaimBatch(ctx context.Context, workerID string, limit int, at time.Time) ([]QueueItem, error)
	ReleaseClaims(ctx context.Context, workerID string, ids []int64) (int64, error)
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]QueueItem, error)
	RetryFailed(ctx context.Context, limit, maxAttempts int, at time.Time) (int64, error)
	Stats(ctx context.Context) (QueueStats, error)
}

// DomainStore persists domain rows.
type DomainStore interface {
	// UpsertDomain merges meta into the row keyed by its domain name.
	UpsertDomain(ctx context.Context, meta DomainMetadata, at time.Time) (int64, error)
	// EnsureDomain returns the id of name, creating a bare row when missing.
	EnsureDomain(ctx context.Context, name string, at time.Time) (int64, error)
	GetDomain(ctx context.Context, name string) (Domain, error)
	// ListIncompleteDomains names domains with at least one enrichable
	// field still null, in name order.
	ListIncompleteDomains(ctx context.Context, limit int) ([]string, error)
}

// RelationshipStore persists the domain graph.
type RelationshipStore interface {
	// UpsertRelationship records an edge and reports whether it was new.
	UpsertRelationship(ctx context.Context, rel Relationship) (bool, error)
	ListRelationships(ctx context.Context, sourceDomainID int64) ([]Relationship, error)
}

// HistoryLedger remembers processed URLs independently of the queue.
type HistoryLedger interface {
	WasProcessed(ctx context.Context, url string) (bool, error)
	Record(ctx context.Context, entry HistoryEntry) error
	CountByDomain(ctx context.Context, domain string) (int, error)
}

// LogStore keeps the collection audit trail.
type LogStore interface {
	AppendLog(ctx context.Context, entry CollectionLog) error
	LogStats(ctx context.Context) (LogStats, error)
	ListLogsBefore(ctx context.Context, cutoff time.Time, limit int) ([]CollectionLog, error)
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store bundles every persistence contract behind one handle.
type Store interface {
	QueueStore
	DomainStore
	RelationshipStore
	HistoryLedger
	LogStore
	Ping(ctx context.Context) error
	Close()
}

// CollectRequest describes one page collection.
type CollectRequest struct {
	URL        string
	DomainName string
	Depth      int
}

// CollectResult is what a Collector found on a page.
type CollectResult struct {
	Metadata DomainMetadata
	// Links is already truncated to the configured per-page cap.
	Links    []Link
	FinalURL string
}

// Collector fetches a page and gathers domain metadata.
type Collector interface {
	Collect(ctx context.Context, req CollectRequest) (CollectResult, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes collection events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}
