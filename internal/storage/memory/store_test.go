package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func enqueue(t *testing.T, s *Store, url string, priority int, at time.Time) {
	t.Helper()
	res, err := s.Enqueue(context.Background(), discovery.EnqueueRequest{
		URL:        url,
		DomainName: "example.com",
		Priority:   priority,
		At:         at,
	})
	require.NoError(t, err)
	require.Equal(t, discovery.Inserted, res)
}

func TestEnqueueIsIdempotentPerURL(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	enqueue(t, s, "http://example.com", 5, epoch)

	res, err := s.Enqueue(ctx, discovery.EnqueueRequest{
		URL:        "http://example.com",
		DomainName: "example.com",
		Priority:   99,
		Depth:      3,
		At:         epoch.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, discovery.AlreadyExists, res)

	item, err := s.Get(ctx, "http://example.com")
	require.NoError(t, err)
	require.Equal(t, 5, item.Priority)
	require.Equal(t, 0, item.Depth)
	require.Equal(t, discovery.StatusPending, item.Status)

	_, err = s.Get(ctx, "http://missing.example")
	require.ErrorIs(t, err, discovery.ErrNotFound)
}

func TestEnqueueValidatesRequest(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_, err := s.Enqueue(context.Background(), discovery.EnqueueRequest{})
	require.Error(t, err)
	_, err = s.Enqueue(context.Background(), discovery.EnqueueRequest{URL: "http://a.com", Depth: -1})
	require.Error(t, err)
}

func TestClaimBatchOrdersByPriorityThenAge(t *testing.T) {
	t.Parallel()

	s := NewStore()
	enqueue(t, s, "http://old-low.com", 1, epoch)
	enqueue(t, s, "http://new-high.com", 10, epoch.Add(2*time.Minute))
	enqueue(t, s, "http://old-high.com", 10, epoch.Add(time.Minute))

	claimed, err := s.ClaimBatch(context.Background(), "w1", 2, epoch.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.Equal(t, "http://old-high.com", claimed[0].URL)
	require.Equal(t, "http://new-high.com", claimed[1].URL)
	for _, item := range claimed {
		require.Equal(t, discovery.StatusProcessing, item.Status)
		require.NotNil(t, item.ClaimedBy)
		require.Equal(t, "w1", *item.ClaimedBy)
		require.NotNil(t, item.ClaimedAt)
	}
}

func TestClaimBatchTakesOnlyLimit(t *testing.T) {
	t.Parallel()

	s := NewStore()
	for i := 0; i < 20; i++ {
		enqueue(t, s, fmt.Sprintf("http://site%02d.com", i), 0, epoch.Add(time.Duration(i)*time.Second))
	}
	claimed, err := s.ClaimBatch(context.Background(), "w1", 5, epoch)
	require.NoError(t, err)
	require.Len(t, claimed, 5)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(5), stats.Counts[discovery.StatusProcessing])
	require.Equal(t, int64(15), stats.Counts[discovery.StatusPending])
	require.Equal(t, int64(20), stats.Total())

	none, err := s.ClaimBatch(context.Background(), "w1", 0, epoch)
	require.NoError(t, err)
	require.Empty(t, none)
	_, err = s.ClaimBatch(context.Background(), "", 1, epoch)
	require.Error(t, err)
}

func TestConcurrentClaimsNeverOverlap(t *testing.T) {
	t.Parallel()

	s := NewStore()
	for i := 0; i < 50; i++ {
		enqueue(t, s, fmt.Sprintf("http://site%02d.com", i), i%3, epoch)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]string{}
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				batch, err := s.ClaimBatch(context.Background(), worker, 3, epoch)
				if err != nil || len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, item := range batch {
					if prev, dup := seen[item.ID]; dup {
						t.Errorf("item %d claimed by %s and %s", item.ID, prev, worker)
					}
					seen[item.ID] = worker
				}
				mu.Unlock()
			}
		}(fmt.Sprintf("w%d", w))
	}
	wg.Wait()
	require.Len(t, seen, 50)
}

func TestUpdateStatusGuards(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	enqueue(t, s, "http://example.com", 0, epoch)
	claimed, err := s.ClaimBatch(ctx, "w1", 1, epoch)
	require.NoError(t, err)
	id := claimed[0].ID

	err = s.UpdateStatus(ctx, discovery.StatusUpdate{
		ID: id, From: discovery.StatusPending, To: discovery.StatusCompleted,
	})
	require.ErrorIs(t, err, discovery.ErrInvalidTransition)

	err = s.UpdateStatus(ctx, discovery.StatusUpdate{
		ID: id, From: discovery.StatusProcessing, To: discovery.StatusCompleted, ClaimedBy: "w2",
	})
	require.ErrorIs(t, err, discovery.ErrStaleUpdate)

	msg := "boom"
	err = s.UpdateStatus(ctx, discovery.StatusUpdate{
		ID:           id,
		From:         discovery.StatusProcessing,
		To:           discovery.StatusFailed,
		ClaimedBy:    "w1",
		ErrorMessage: &msg,
		At:           epoch.Add(time.Minute),
	})
	require.NoError(t, err)

	item, err := s.Get(ctx, "http://example.com")
	require.NoError(t, err)
	require.Equal(t, discovery.StatusFailed, item.Status)
	require.NotNil(t, item.ProcessedAt)
	require.True(t, item.ProcessedAt.Equal(epoch.Add(time.Minute)))
	require.Equal(t, "boom", *item.ErrorMessage)

	err = s.UpdateStatus(ctx, discovery.StatusUpdate{
		ID: id, From: discovery.StatusProcessing, To: discovery.StatusCompleted, ClaimedBy: "w1",
	})
	require.ErrorIs(t, err, discovery.ErrStaleUpdate)

	err = s.UpdateStatus(ctx, discovery.StatusUpdate{
		ID: 999, From: discovery.StatusProcessing, To: discovery.StatusCompleted,
	})
	require.ErrorIs(t, err, discovery.ErrNotFound)
}

func TestReclaimStaleOnlyTouchesExpiredLeases(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	enqueue(t, s, "http://stale.com", 5, epoch)
	_, err := s.ClaimBatch(ctx, "dead-worker", 1, epoch)
	require.NoError(t, err)
	enqueue(t, s, "http://fresh.com", 5, epoch)
	_, err = s.ClaimBatch(ctx, "live-worker", 1, epoch.Add(50*time.Minute))
	require.NoError(t, err)

	cutoff := epoch.Add(30 * time.Minute)
	stale, err := s.ListStale(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, "http://stale.com", stale[0].URL)

	n, err := s.ReclaimStale(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	item, err := s.Get(ctx, "http://stale.com")
	require.NoError(t, err)
	require.Equal(t, discovery.StatusPending, item.Status)
	require.Nil(t, item.ClaimedBy)
	require.Nil(t, item.ClaimedAt)

	fresh, err := s.Get(ctx, "http://fresh.com")
	require.NoError(t, err)
	require.Equal(t, discovery.StatusProcessing, fresh.Status)

	n, err = s.ReclaimStale(ctx, cutoff)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestReleaseClaimsOnlyReleasesOwnLeases(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	enqueue(t, s, "http://a.com", 0, epoch)
	enqueue(t, s, "http://b.com", 0, epoch.Add(time.Second))
	mine, err := s.ClaimBatch(ctx, "w1", 1, epoch)
	require.NoError(t, err)
	theirs, err := s.ClaimBatch(ctx, "w2", 1, epoch)
	require.NoError(t, err)

	n, err := s.ReleaseClaims(ctx, "w1", []int64{mine[0].ID, theirs[0].ID})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	a, _ := s.Get(ctx, "http://a.com")
	b, _ := s.Get(ctx, "http://b.com")
	require.Equal(t, discovery.StatusPending, a.Status)
	require.Equal(t, discovery.StatusProcessing, b.Status)
}

func TestRetryFailedRespectsAttempts(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	enqueue(t, s, "http://a.com", 0, epoch)
	fail := func() {
		t.Helper()
		batch, err := s.ClaimBatch(ctx, "w1", 1, epoch)
		require.NoError(t, err)
		require.Len(t, batch, 1)
		require.NoError(t, s.UpdateStatus(ctx, discovery.StatusUpdate{
			ID: batch[0].ID, From: discovery.StatusProcessing, To: discovery.StatusFailed, ClaimedBy: "w1", At: epoch,
		}))
	}

	fail()
	n, err := s.RetryFailed(ctx, 10, 2, epoch.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	item, _ := s.Get(ctx, "http://a.com")
	require.Equal(t, discovery.StatusPending, item.Status)
	require.Equal(t, 1, item.Attempts)
	require.Nil(t, item.ProcessedAt)

	fail()
	n, err = s.RetryFailed(ctx, 10, 2, epoch.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	fail()
	n, err = s.RetryFailed(ctx, 10, 2, epoch.Add(time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDomainsMergeAndEnsure(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	id, err := s.EnsureDomain(ctx, "example.com", epoch)
	require.NoError(t, err)
	again, err := s.EnsureDomain(ctx, "example.com", epoch.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, id, again)

	upserted, err := s.UpsertDomain(ctx, discovery.DomainMetadata{
		DomainName: "example.com",
		Title:      discovery.Ptr("Example"),
	}, epoch.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, id, upserted)

	_, err = s.UpsertDomain(ctx, discovery.DomainMetadata{
		DomainName: "example.com",
		IPAddress:  discovery.Ptr("93.184.216.34"),
	}, epoch.Add(2*time.Minute))
	require.NoError(t, err)

	d, err := s.GetDomain(ctx, "example.com")
	require.NoError(t, err)
	require.Equal(t, "Example", *d.Title)
	require.Equal(t, "93.184.216.34", *d.IPAddress)
	require.True(t, d.CreatedAt.Equal(epoch))
	require.True(t, d.UpdatedAt.Equal(epoch.Add(2*time.Minute)))

	_, err = s.GetDomain(ctx, "missing.com")
	require.ErrorIs(t, err, discovery.ErrNotFound)
}

func TestListIncompleteDomains(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	_, err := s.EnsureDomain(ctx, "bare.com", epoch)
	require.NoError(t, err)
	_, err = s.EnsureDomain(ctx, "another.com", epoch)
	require.NoError(t, err)

	full := discovery.DomainMetadata{DomainName: "full.com"}
	require.Len(t, full.Missing(), 17)
	now := epoch
	full.Title, full.Description, full.FaviconURL = discovery.Ptr("t"), discovery.Ptr("d"), discovery.Ptr("f")
	full.CreatedDate, full.ExpiryDate, full.Registrar = &now, &now, discovery.Ptr("r")
	full.Nameservers, full.IPAddress = discovery.Ptr("ns"), discovery.Ptr("1.2.3.4")
	full.ASN, full.ASNDescription = discovery.Ptr("AS1"), discovery.Ptr("x")
	full.SSLValid, full.SSLExpiry = discovery.Ptr(true), &now
	full.Country, full.Latitude, full.Longitude = discovery.Ptr("US"), discovery.Ptr(1.0), discovery.Ptr(2.0)
	full.Category, full.Tags = discovery.Ptr("other"), discovery.Ptr("")
	require.Empty(t, full.Missing())
	_, err = s.UpsertDomain(ctx, full, epoch)
	require.NoError(t, err)

	names, err := s.ListIncompleteDomains(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"another.com", "bare.com"}, names)

	names, err = s.ListIncompleteDomains(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"another.com"}, names)
}

func TestRelationshipsAreUniquePerTriple(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	rel := discovery.Relationship{SourceDomainID: 1, TargetDomainID: 2, Type: discovery.RelationshipLink}

	created, err := s.UpsertRelationship(ctx, rel)
	require.NoError(t, err)
	require.True(t, created)
	created, err = s.UpsertRelationship(ctx, rel)
	require.NoError(t, err)
	require.False(t, created)

	rel.Type = discovery.RelationshipRedirect
	created, err = s.UpsertRelationship(ctx, rel)
	require.NoError(t, err)
	require.True(t, created)

	rels, err := s.ListRelationships(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rels, 2)
	require.Equal(t, discovery.RelationshipLink, rels[0].Type)
	require.Equal(t, discovery.RelationshipRedirect, rels[1].Type)
}

func TestHistoryCountsOnlySuccessAsProcessed(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Record(ctx, discovery.HistoryEntry{
		URL: "http://a.com", DomainName: "a.com", Outcome: discovery.OutcomeFailed,
	}))
	done, err := s.WasProcessed(ctx, "http://a.com")
	require.NoError(t, err)
	require.False(t, done)

	require.NoError(t, s.Record(ctx, discovery.HistoryEntry{
		URL: "http://a.com", DomainName: "a.com", Outcome: discovery.OutcomeSuccess,
	}))
	require.NoError(t, s.Record(ctx, discovery.HistoryEntry{
		URL: "http://a.com/about", DomainName: "a.com", Outcome: discovery.OutcomeSuccess,
	}))
	done, err = s.WasProcessed(ctx, "http://a.com")
	require.NoError(t, err)
	require.True(t, done)

	n, err := s.CountByDomain(ctx, "a.com")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestLogsStatsListAndDelete(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	for i, status := range []discovery.QueueStatus{
		discovery.StatusCompleted, discovery.StatusFailed, discovery.StatusCompleted,
	} {
		require.NoError(t, s.AppendLog(ctx, discovery.CollectionLog{
			DomainName:  "a.com",
			URL:         "http://a.com",
			Status:      status,
			CollectedAt: epoch.Add(time.Duration(i) * 24 * time.Hour),
		}))
	}

	stats, err := s.LogStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.Counts[discovery.StatusCompleted])
	require.Equal(t, int64(1), stats.Counts[discovery.StatusFailed])
	require.True(t, stats.Oldest.Equal(epoch))
	require.True(t, stats.Newest.Equal(epoch.Add(48*time.Hour)))

	cutoff := epoch.Add(36 * time.Hour)
	old, err := s.ListLogsBefore(ctx, cutoff, 0)
	require.NoError(t, err)
	require.Len(t, old, 2)
	require.Equal(t, int64(1), old[0].ID)

	removed, err := s.DeleteLogsBefore(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)
	rest, err := s.ListLogsBefore(ctx, epoch.Add(100*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, rest, 1)
}
