// Package memory provides in-memory implementations of the persistence
// contracts for development and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
)

type relKey struct {
	source int64
	target int64
	typ    discovery.RelationshipType
}

// Store keeps queue, graph, history and log rows in process memory. A single
// mutex serialises every operation, which makes ClaimBatch atomic.
type Store struct {
	mu sync.Mutex

	nextItemID   int64
	nextDomainID int64
	nextRelID    int64
	nextLogID    int64

	items        map[int64]*discovery.QueueItem
	itemByURL    map[string]int64
	domains      map[int64]*discovery.Domain
	domainByName map[string]int64
	rels         map[relKey]discovery.Relationship
	history      map[string]discovery.HistoryEntry
	logs         []discovery.CollectionLog
}

var _ discovery.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		items:        make(map[int64]*discovery.QueueItem),
		itemByURL:    make(map[string]int64),
		domains:      make(map[int64]*discovery.Domain),
		domainByName: make(map[string]int64),
		rels:         make(map[relKey]discovery.Relationship),
		history:      make(map[string]discovery.HistoryEntry),
	}
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() {}

// UpsertDomain merges meta into the domain row, creating it when missing.
func (s *Store) UpsertDomain(_ context.Context, meta discovery.DomainMetadata, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.domainByName[meta.DomainName]; ok {
		d := s.domains[id]
		d.DomainMetadata = d.DomainMetadata.Merge(meta)
		d.UpdatedAt = at
		return id, nil
	}
	return s.insertDomainLocked(meta, at), nil
}

// EnsureDomain returns the id for name, creating a bare row when missing.
func (s *Store) EnsureDomain(_ context.Context, name string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.domainByName[name]; ok {
		return id, nil
	}
	return s.insertDomainLocked(discovery.DomainMetadata{DomainName: name}, at), nil
}

func (s *Store) insertDomainLocked(meta discovery.DomainMetadata, at time.Time) int64 {
	s.nextDomainID++
	id := s.nextDomainID
	s.domains[id] = &discovery.Domain{
		ID:             id,
		DomainMetadata: discovery.DomainMetadata{}.Merge(meta),
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	s.domainByName[meta.DomainName] = id
	return id
}

// GetDomain fetches a domain by name.
func (s *Store) GetDomain(_ context.Context, name string) (discovery.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.domainByName[name]
	if !ok {
		return discovery.Domain{}, discovery.ErrNotFound
	}
	return *s.domains[id], nil
}

// ListIncompleteDomains names domains with a null enrichable field.
func (s *Store) ListIncompleteDomains(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for name, id := range s.domainByName {
		if len(s.domains[id].Missing()) > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpsertRelationship records an edge unless the triple already exists.
func (s *Store) UpsertRelationship(_ context.Context, rel discovery.Relationship) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := relKey{source: rel.SourceDomainID, target: rel.TargetDomainID, typ: rel.Type}
	if _, ok := s.rels[key]; ok {
		return false, nil
	}
	s.nextRelID++
	rel.ID = s.nextRelID
	s.rels[key] = rel
	return true, nil
}

// ListRelationships returns the edges leaving sourceDomainID in insertion order.
func (s *Store) ListRelationships(_ context.Context, sourceDomainID int64) ([]discovery.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []discovery.Relationship
	for _, rel := range s.rels {
		if rel.SourceDomainID == sourceDomainID {
			out = append(out, rel)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// WasProcessed reports whether url has a successful history entry.
func (s *Store) WasProcessed(_ context.Context, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.history[url]
	return ok && entry.Outcome == discovery.OutcomeSuccess, nil
}

// Record upserts the history entry for entry.URL.
func (s *Store) Record(_ context.Context, entry discovery.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[entry.URL] = entry
	return nil
}

// CountByDomain counts history entries for a domain.
func (s *Store) CountByDomain(_ context.Context, domain string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, entry := range s.history {
		if entry.DomainName == domain {
			n++
		}
	}
	return n, nil
}

// AppendLog adds a collection log row.
func (s *Store) AppendLog(_ context.Context, entry discovery.CollectionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLogID++
	entry.ID = s.nextLogID
	s.logs = append(s.logs, entry)
	return nil
}

// LogStats counts log rows per status.
func (s *Store) LogStats(_ context.Context) (discovery.LogStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := discovery.LogStats{Counts: map[discovery.QueueStatus]int64{}}
	for i := range s.logs {
		entry := s.logs[i]
		stats.Counts[entry.Status]++
		at := entry.CollectedAt
		if stats.Oldest == nil || at.Before(*stats.Oldest) {
			stats.Oldest = &at
		}
		if stats.Newest == nil || at.After(*stats.Newest) {
			stats.Newest = &at
		}
	}
	return stats, nil
}

// ListLogsBefore returns up to limit rows collected before cutoff, oldest first.
func (s *Store) ListLogsBefore(_ context.Context, cutoff time.Time, limit int) ([]discovery.CollectionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []discovery.CollectionLog
	for _, entry := range s.logs {
		if entry.CollectedAt.Before(cutoff) {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CollectedAt.Before(out[j].CollectedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteLogsBefore removes rows collected before cutoff.
func (s *Store) DeleteLogsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.logs[:0]
	var removed int64
	for _, entry := range s.logs {
		if entry.CollectedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	s.logs = kept
	return removed, nil
}
