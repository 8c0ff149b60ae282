package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/domain"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boilerhouse.db")
	s, err := NewSQLiteStore(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_ContainerRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &domain.PoolContainer{
		ContainerID:  "c1",
		PoolID:       "p1",
		Status:       domain.ContainerIdle,
		LastActivity: now,
		SocketPath:   "/var/lib/boilerhouse/sockets/c1/app.sock",
		StateDir:     "/var/lib/boilerhouse/state/c1",
		SecretsDir:   "/var/lib/boilerhouse/secrets/c1",
		CreatedAt:    now,
	}
	require.NoError(t, s.UpsertContainer(ctx, c))

	got, err := s.GetContainer(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, c.PoolID, got.PoolID)
	require.Equal(t, domain.ContainerIdle, got.Status)
	require.Nil(t, got.ClaimedAt)
	require.False(t, got.IsClaimed())

	claimedAt := now.Add(time.Minute)
	c.Status = domain.ContainerClaimed
	c.TenantID = "tenant-a"
	c.ClaimedAt = &claimedAt
	require.NoError(t, s.UpsertContainer(ctx, c))

	got, err = s.GetContainer(ctx, "c1")
	require.NoError(t, err)
	require.True(t, got.IsClaimed())
	require.Equal(t, "tenant-a", got.TenantID)
	require.NotNil(t, got.ClaimedAt)
	require.WithinDuration(t, claimedAt, *got.ClaimedAt, time.Second)

	claimed, err := s.GetClaimedContainerForTenant(ctx, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, "c1", claimed.ContainerID)

	n, err := s.CountClaimedForTenant(ctx, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, s.DeleteContainer(ctx, "c1"))
	_, err = s.GetContainer(ctx, "c1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListContainersByPool(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"c1", "c2", "c3"} {
		pool := "p1"
		if i == 2 {
			pool = "p2"
		}
		require.NoError(t, s.UpsertContainer(ctx, &domain.PoolContainer{
			ContainerID: id, PoolID: pool, Status: domain.ContainerIdle,
			LastActivity: now, CreatedAt: now,
		}))
	}

	list, err := s.ListContainersByPool(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, list, 2)

	list, err = s.ListContainersByPool(ctx, "p2")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestSQLiteStore_PoolRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &domain.Pool{
		ID:               "p1",
		WorkloadID:       "w1",
		MinIdle:          2,
		MaxSize:          10,
		IdleTimeout:      5 * time.Minute,
		EvictionInterval: 10 * time.Second,
		AcquireTimeout:   30 * time.Second,
		FileIdleTTL:      2 * time.Minute,
		Networks:         []string{"net-a", "net-b"},
		CreatedAt:        time.Now(),
	}
	require.NoError(t, s.UpsertPool(ctx, p))

	got, err := s.GetPool(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, p.MinIdle, got.MinIdle)
	require.Equal(t, p.IdleTimeout, got.IdleTimeout)
	require.Equal(t, p.FileIdleTTL, got.FileIdleTTL)
	require.Equal(t, []string{"net-a", "net-b"}, got.Networks)

	list, err := s.ListPools(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeletePool(ctx, "p1"))
	_, err = s.GetPool(ctx, "p1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_SyncStatusLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	st := &domain.SyncStatus{
		TenantID:     "tenant-a",
		SyncID:       "sync-1",
		PendingCount: 3,
		State:        domain.SyncSyncing,
		UpdatedAt:    now,
	}
	require.NoError(t, s.UpsertSyncStatus(ctx, st))

	pending, err := s.ListPendingSyncStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	st.PendingCount = 0
	st.State = domain.SyncStateError
	st.LastSyncAt = &now
	require.NoError(t, s.UpsertSyncStatus(ctx, st))

	errored, err := s.ListErrorSyncStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, errored, 1)

	pending, err = s.ListPendingSyncStatuses(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	got, err := s.GetSyncStatus(ctx, "tenant-a", "sync-1")
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncAt)

	require.NoError(t, s.DeleteSyncStatusesForTenant(ctx, "tenant-a"))
	_, err = s.GetSyncStatus(ctx, "tenant-a", "sync-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_SyncErrorsTrimmed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := s.InsertSyncErrorTrimmed(ctx, &domain.SyncError{
			TenantID:  "tenant-a",
			SyncID:    "sync-1",
			Message:   "boom",
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
		}, 3)
		require.NoError(t, err)
	}

	errs, err := s.ListSyncErrors(ctx, "tenant-a", "sync-1")
	require.NoError(t, err)
	require.Len(t, errs, 3)

	require.NoError(t, s.ClearSyncErrors(ctx, "tenant-a", "sync-1"))
	errs, err = s.ListSyncErrors(ctx, "tenant-a", "sync-1")
	require.NoError(t, err)
	require.Empty(t, errs)
}

func TestSQLiteStore_ActivityLogFilterAndTrim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		eventType := "container.claimed"
		if i%2 == 0 {
			eventType = "container.released"
		}
		require.NoError(t, s.InsertActivityEvent(ctx, &domain.ActivityEvent{
			EventType: eventType,
			TenantID:  "tenant-a",
			Message:   "event",
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := s.ListActivityEvents(ctx, domain.ActivityFilter{TenantID: "tenant-a", Limit: 100})
	require.NoError(t, err)
	require.Len(t, all, 5)

	filtered, err := s.ListActivityEvents(ctx, domain.ActivityFilter{EventType: "container.claimed", Limit: 100})
	require.NoError(t, err)
	require.Len(t, filtered, 2)

	require.NoError(t, s.TrimActivityLog(ctx, 2))
	all, err = s.ListActivityEvents(ctx, domain.ActivityFilter{Limit: 100})
	require.NoError(t, err)
	require.Len(t, all, 2)
}
