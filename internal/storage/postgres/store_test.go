package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
)

var now = time.Unix(1700000000, 0).UTC()

var itemColumnNames = []string{
	"id", "url", "domain_name", "source_domain_id", "priority", "depth", "status", "attempts",
	"discovered_at", "queued_at", "processed_at", "error_message", "claimed_by", "claimed_at",
}

func ptr[T any](v T) *T { return &v }

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
	_, err = NewWithPool(nil)
	require.Error(t, err)
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS domains").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueReportsInsertOutcome(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	req := discovery.EnqueueRequest{
		URL:        "http://a.com",
		DomainName: "a.com",
		Depth:      1,
		Priority:   3,
		At:         now,
	}
	mock.ExpectExec("INSERT INTO discovery_queue").
		WithArgs("http://a.com", "a.com", pgxmock.AnyArg(), 3, 1, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO discovery_queue").
		WithArgs("http://a.com", "a.com", pgxmock.AnyArg(), 3, 1, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	res, err := store.Enqueue(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, discovery.Inserted, res)

	res, err = store.Enqueue(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, discovery.AlreadyExists, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimBatchCommitsAndOrders(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rows := pgxmock.NewRows(itemColumnNames).
		AddRow(int64(2), "http://low.com", "low.com", nil, 1, 0, "processing", 0,
			now, now, nil, nil, ptr("w1"), ptr(now)).
		AddRow(int64(1), "http://high.com", "high.com", ptr(int64(9)), 10, 1, "processing", 0,
			now, now, nil, nil, ptr("w1"), ptr(now))

	mock.ExpectBegin()
	mock.ExpectQuery("WITH picked AS").
		WithArgs("w1", now, 5).
		WillReturnRows(rows)
	mock.ExpectCommit()

	items, err := store.ClaimBatch(context.Background(), "w1", 5, now)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "http://high.com", items[0].URL)
	require.Equal(t, discovery.StatusProcessing, items[0].Status)
	require.NotNil(t, items[0].SourceDomainID)
	require.Equal(t, int64(9), *items[0].SourceDomainID)
	require.Equal(t, "w1", *items[0].ClaimedBy)
	require.Nil(t, items[1].SourceDomainID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimBatchRollsBackOnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("WITH picked AS").
		WithArgs("w1", now, 5).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	items, err := store.ClaimBatch(context.Background(), "w1", 5, now)
	require.Error(t, err)
	require.Nil(t, items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimBatchSkipsNonPositiveLimit(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	items, err := store.ClaimBatch(context.Background(), "w1", 0, now)
	require.NoError(t, err)
	require.Empty(t, items)
	_, err = store.ClaimBatch(context.Background(), "", 1, now)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusAppliesGuardedTransition(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE discovery_queue").
		WithArgs(int64(7), "processing", "completed", pgxmock.AnyArg(), pgxmock.AnyArg(), false, "w1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.UpdateStatus(context.Background(), discovery.StatusUpdate{
		ID:        7,
		From:      discovery.StatusProcessing,
		To:        discovery.StatusCompleted,
		ClaimedBy: "w1",
		At:        now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusDetectsStaleAndMissingRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	update := discovery.StatusUpdate{
		ID:        7,
		From:      discovery.StatusProcessing,
		To:        discovery.StatusFailed,
		ClaimedBy: "w1",
		At:        now,
	}

	mock.ExpectExec("UPDATE discovery_queue").
		WithArgs(int64(7), "processing", "failed", pgxmock.AnyArg(), pgxmock.AnyArg(), false, "w1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM discovery_queue").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("pending"))
	err := store.UpdateStatus(context.Background(), update)
	require.ErrorIs(t, err, discovery.ErrStaleUpdate)

	mock.ExpectExec("UPDATE discovery_queue").
		WithArgs(int64(7), "processing", "failed", pgxmock.AnyArg(), pgxmock.AnyArg(), false, "w1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM discovery_queue").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"status"}))
	err = store.UpdateStatus(context.Background(), update)
	require.ErrorIs(t, err, discovery.ErrNotFound)

	err = store.UpdateStatus(context.Background(), discovery.StatusUpdate{
		ID: 7, From: discovery.StatusCompleted, To: discovery.StatusPending,
	})
	require.ErrorIs(t, err, discovery.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaseMaintenance(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	cutoff := now.Add(-30 * time.Minute)

	mock.ExpectExec("UPDATE discovery_queue").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectExec("UPDATE discovery_queue").
		WithArgs("w1", []int64{4, 5}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectExec("WITH picked AS").
		WithArgs(10, 3, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	n, err := store.ReclaimStale(context.Background(), cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	n, err = store.ReleaseClaims(context.Background(), "w1", []int64{4, 5})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	n, err = store.ReleaseClaims(context.Background(), "w1", nil)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = store.RetryFailed(context.Background(), 10, 3, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListStaleScansRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	cutoff := now.Add(-time.Hour)
	claimedAt := now.Add(-2 * time.Hour)
	mock.ExpectQuery("(?s)SELECT (.+) FROM discovery_queue").
		WithArgs(cutoff, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(itemColumnNames).
			AddRow(int64(1), "http://a.com", "a.com", nil, 0, 0, "processing", 0,
				now, now, nil, nil, ptr("dead"), ptr(claimedAt)))

	items, err := store.ListStale(context.Background(), cutoff, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "dead", *items[0].ClaimedBy)
	require.True(t, items[0].ClaimedAt.Equal(claimedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReturnsNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("(?s)SELECT (.+) FROM discovery_queue WHERE url").
		WithArgs("http://missing.com").
		WillReturnRows(pgxmock.NewRows(itemColumnNames))

	_, err := store.Get(context.Background(), "http://missing.com")
	require.ErrorIs(t, err, discovery.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsAggregatesCounts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	oldest := now.Add(-time.Hour)
	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count", "min", "max"}).
			AddRow("pending", int64(15), nil, nil).
			AddRow("processing", int64(5), ptr(oldest), ptr(now)))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(20), stats.Total())
	require.Equal(t, int64(5), stats.Counts[discovery.StatusProcessing])
	require.True(t, stats.OldestClaimedAt.Equal(oldest))
	require.True(t, stats.NewestClaimedAt.Equal(now))
	require.NoError(t, mock.ExpectationsWereMet())
}

// anyArgs matches n arguments of any value.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestDomainWrites(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO domains").
		WithArgs(anyArgs(1+len(metadataColumns)+1)...).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectQuery("WITH ins AS").
		WithArgs("a.com", now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(12)))

	id, err := store.UpsertDomain(context.Background(), discovery.DomainMetadata{
		DomainName: "example.com",
		Title:      ptr("Example"),
	}, now)
	require.NoError(t, err)
	require.Equal(t, int64(11), id)

	id, err = store.EnsureDomain(context.Background(), "a.com", now)
	require.NoError(t, err)
	require.Equal(t, int64(12), id)

	_, err = store.UpsertDomain(context.Background(), discovery.DomainMetadata{}, now)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDomainSQLMergesNonNullColumns(t *testing.T) {
	t.Parallel()

	require.Contains(t, upsertDomainSQL, "title = COALESCE(EXCLUDED.title, domains.title)")
	require.Contains(t, upsertDomainSQL, "ON CONFLICT (domain_name) DO UPDATE")
	require.Contains(t, upsertDomainSQL, "$20, $20")
}

func TestListIncompleteDomains(t *testing.T) {
	t.Parallel()

	require.Contains(t, listIncompleteSQL, "title IS NULL OR")
	require.NotContains(t, listIncompleteSQL, "screenshot_path")

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT domain_name FROM domains").
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows([]string{"domain_name"}).AddRow("a.com").AddRow("b.com"))
	mock.ExpectQuery("SELECT domain_name FROM domains").
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(errors.New("statement timeout"))

	names, err := store.ListIncompleteDomains(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, []string{"a.com", "b.com"}, names)

	_, err = store.ListIncompleteDomains(context.Background(), 0)
	require.ErrorContains(t, err, "list incomplete domains")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRelationshipIsIdempotent(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rel := discovery.Relationship{
		SourceDomainID: 1,
		TargetDomainID: 2,
		Type:           discovery.RelationshipLink,
		LinkText:       "A",
		LinkURL:        "http://a.com",
		DiscoveredAt:   now,
	}
	mock.ExpectQuery("INSERT INTO relationships").
		WithArgs(int64(1), int64(2), "link", "A", "http://a.com", now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery("INSERT INTO relationships").
		WithArgs(int64(1), int64(2), "link", "A", "http://a.com", now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	created, err := store.UpsertRelationship(context.Background(), rel)
	require.NoError(t, err)
	require.True(t, created)

	created, err = store.UpsertRelationship(context.Background(), rel)
	require.NoError(t, err)
	require.False(t, created)

	rel.Type = "friend"
	_, err = store.UpsertRelationship(context.Background(), rel)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryQueries(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO url_processing_history").
		WithArgs("http://a.com", "a.com", "success", 4, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("http://a.com").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("a.com").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(4)))

	require.NoError(t, store.Record(context.Background(), discovery.HistoryEntry{
		URL:         "http://a.com",
		DomainName:  "a.com",
		Outcome:     discovery.OutcomeSuccess,
		LinksFound:  4,
		ProcessedAt: now,
	}))
	done, err := store.WasProcessed(context.Background(), "http://a.com")
	require.NoError(t, err)
	require.True(t, done)
	n, err := store.CountByDomain(context.Background(), "a.com")
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectionLogs(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO collection_logs").
		WithArgs("a.com", "http://a.com", "completed", pgxmock.AnyArg(), now, int64(1500), 2, 2, "w1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("FROM collection_logs").
		WithArgs(now, 100).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "domain_name", "url", "status", "error_message", "collected_at",
			"duration_ms", "relationships_found", "urls_discovered", "worker_id",
		}).AddRow(int64(1), "a.com", "http://a.com", "failed", ptr("timeout"), now.Add(-time.Hour),
			int64(2500), 0, 0, "w1"))
	mock.ExpectExec("DELETE FROM collection_logs").
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.AppendLog(context.Background(), discovery.CollectionLog{
		DomainName:         "a.com",
		URL:                "http://a.com",
		Status:             discovery.StatusCompleted,
		CollectedAt:        now,
		Duration:           1500 * time.Millisecond,
		RelationshipsFound: 2,
		URLsDiscovered:     2,
		WorkerID:           "w1",
	}))

	logs, err := store.ListLogsBefore(context.Background(), now, 100)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, discovery.StatusFailed, logs[0].Status)
	require.Equal(t, 2500*time.Millisecond, logs[0].Duration)
	require.Equal(t, "timeout", *logs[0].ErrorMessage)

	n, err := store.DeleteLogsBefore(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
