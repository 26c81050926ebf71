package lease

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/domain-mapper/internal/clock"
	"github.com/JakeFAU/domain-mapper/internal/discovery"
	"github.com/JakeFAU/domain-mapper/internal/storage/memory"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func claimAt(t *testing.T, store *memory.Store, url, worker string, at time.Time) {
	t.Helper()
	ctx := context.Background()
	_, err := store.Enqueue(ctx, discovery.EnqueueRequest{URL: url, DomainName: "example.com", At: epoch})
	require.NoError(t, err)
	items, err := store.ClaimBatch(ctx, worker, 1, at)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, url, items[0].URL)
}

func TestReclaimStaleOnlyMovesExpiredLeases(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	clk := clock.NewManual(epoch)
	claimAt(t, store, "http://example.com/old", "dead-worker", epoch)
	claimAt(t, store, "http://example.com/new", "live-worker", epoch.Add(50*time.Minute))
	clk.Set(epoch.Add(time.Hour))

	r, err := New(store, clk, Config{Timeout: 30 * time.Minute}, nil)
	require.NoError(t, err)

	preview, err := r.Preview(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, preview, 1)
	require.Equal(t, "http://example.com/old", preview[0].URL)
	old, err := store.Get(context.Background(), "http://example.com/old")
	require.NoError(t, err)
	require.Equal(t, discovery.StatusProcessing, old.Status)

	n, err := r.ReclaimStale(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	old, err = store.Get(context.Background(), "http://example.com/old")
	require.NoError(t, err)
	require.Equal(t, discovery.StatusPending, old.Status)
	require.Nil(t, old.ClaimedBy)
	require.Nil(t, old.ClaimedAt)

	fresh, err := store.Get(context.Background(), "http://example.com/new")
	require.NoError(t, err)
	require.Equal(t, discovery.StatusProcessing, fresh.Status)

	n, err = r.ReclaimStale(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestNewRequiresTimeout(t *testing.T) {
	t.Parallel()

	_, err := New(memory.NewStore(), clock.New(), Config{}, nil)
	require.Error(t, err)

	r, err := New(memory.NewStore(), clock.New(), Config{Timeout: time.Minute}, nil)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, r.cfg.Interval)
}

type countingStore struct {
	calls atomic.Int32
	err   error
}

func (s *countingStore) ReclaimStale(context.Context, time.Time) (int64, error) {
	s.calls.Add(1)
	return 0, s.err
}

func (s *countingStore) ListStale(context.Context, time.Time, int) ([]discovery.QueueItem, error) {
	return nil, s.err
}

func TestRunRepeatsUntilCancelled(t *testing.T) {
	t.Parallel()

	store := &countingStore{err: errors.New("temporarily unavailable")}
	r, err := New(store, clock.New(), Config{Timeout: time.Minute, Interval: 5 * time.Millisecond}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return store.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}

	_, err = r.Preview(context.Background(), 10)
	require.ErrorContains(t, err, "preview stale leases")
}
