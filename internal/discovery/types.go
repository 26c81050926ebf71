// Package discovery defines the queue, graph and metadata types shared by the
// domain-mapper engine together with the contracts of its collaborators.
package discovery

import "time"

// QueueItem is one URL's unit of crawl work.
type QueueItem struct {
	ID             int64
	URL            string
	DomainName     string
	SourceDomainID *int64
	Priority       int
	Depth          int
	Status         QueueStatus
	Attempts       int
	DiscoveredAt   time.Time
	QueuedAt       time.Time
	ProcessedAt    *time.Time
	ErrorMessage   *string
	ClaimedBy      *string
	ClaimedAt      *time.Time
}

// EnqueueRequest describes a URL to add to the queue.
type EnqueueRequest struct {
	URL            string
	DomainName     string
	SourceDomainID *int64
	Depth          int
	Priority       int
	At             time.Time
}

// EnqueueResult reports whether Enqueue created a row.
type EnqueueResult int

const (
	// AlreadyExists means the URL was queued before; nothing changed.
	AlreadyExists EnqueueResult = iota
	// Inserted means a new pending row was created.
	Inserted
)

func (r EnqueueResult) String() string {
	if r == Inserted {
		return "inserted"
	}
	return "already_exists"
}

// StatusUpdate moves a queue item between states. From is the status the
// caller believes the row is in; ClaimedBy, when set, must match the lease
// holder.
type StatusUpdate struct {
	ID           int64
	From         QueueStatus
	To           QueueStatus
	ClaimedBy    string
	ErrorMessage *string
	At           time.Time
}

// QueueStats summarises the queue.
type QueueStats struct {
	Counts          map[QueueStatus]int64
	OldestClaimedAt *time.Time
	NewestClaimedAt *time.Time
}

// Total returns the number of rows across all statuses.
func (s QueueStats) Total() int64 {
	var total int64
	for _, n := range s.Counts {
		total += n
	}
	return total
}

// Link is one outbound link extracted from a page.
type Link struct {
	URL  string
	Text string
	// Type is a collector hint; empty means no hint.
	Type RelationshipType
}

// Relationship is a directed edge between two domains.
type Relationship struct {
	ID             int64
	SourceDomainID int64
	TargetDomainID int64
	Type           RelationshipType
	LinkText       string
	LinkURL        string
	DiscoveredAt   time.Time
}

// HistoryOutcome is the result recorded in the processing history.
type HistoryOutcome string

const (
	// OutcomeSuccess marks a URL whose page was collected.
	OutcomeSuccess HistoryOutcome = "success"
	// OutcomeFailed marks a URL whose collection failed.
	OutcomeFailed HistoryOutcome = "failed"
	// OutcomeSkipped marks a URL refused by policy.
	OutcomeSkipped HistoryOutcome = "skipped"
)

// HistoryEntry records that a URL was processed.
type HistoryEntry struct {
	URL         string
	DomainName  string
	Outcome     HistoryOutcome
	LinksFound  int
	ProcessedAt time.Time
}

// CollectionLog is one append-only audit row per collection attempt.
type CollectionLog struct {
	ID                 int64
	DomainName         string
	URL                string
	Status             QueueStatus
	ErrorMessage       *string
	CollectedAt        time.Time
	Duration           time.Duration
	RelationshipsFound int
	URLsDiscovered     int
	WorkerID           string
}

// LogStats counts collection log rows per status.
type LogStats struct {
	Counts map[QueueStatus]int64
	Oldest *time.Time
	Newest *time.Time
}
