package syncstatus

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/boilerhouse/boilerhouse/internal/domain"
	"github.com/boilerhouse/boilerhouse/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "syncstatus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, 3)
}

func TestTracker_StartCompleteClearsErrors(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.MarkStarted(ctx, "tenant-a", "sync-1"))
	require.NoError(t, tr.MarkFailed(ctx, "tenant-a", "sync-1", "boom", "/state"))

	s, err := tr.GetStatus(ctx, "tenant-a", "sync-1")
	require.NoError(t, err)
	require.Equal(t, domain.SyncStateError, s.State)
	require.Equal(t, 0, s.PendingCount)

	errs, err := tr.GetErrors(ctx, "tenant-a", "sync-1")
	require.NoError(t, err)
	require.Len(t, errs, 1)

	require.NoError(t, tr.MarkStarted(ctx, "tenant-a", "sync-1"))
	require.NoError(t, tr.MarkCompleted(ctx, "tenant-a", "sync-1"))

	s, err = tr.GetStatus(ctx, "tenant-a", "sync-1")
	require.NoError(t, err)
	require.Equal(t, domain.SyncIdle, s.State)
	require.NotNil(t, s.LastSyncAt)

	errs, err = tr.GetErrors(ctx, "tenant-a", "sync-1")
	require.NoError(t, err)
	require.Empty(t, errs)
}

func TestTracker_ErrorsAreTrimmedToMax(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, tr.MarkStarted(ctx, "tenant-a", "sync-1"))
		require.NoError(t, tr.MarkFailed(ctx, "tenant-a", "sync-1", "boom", "/state"))
	}

	errs, err := tr.GetErrors(ctx, "tenant-a", "sync-1")
	require.NoError(t, err)
	require.Len(t, errs, 3)
}

func TestTracker_HasSyncedBefore(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	ok, err := tr.HasSyncedBefore(ctx, "tenant-a", "sync-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, tr.MarkStarted(ctx, "tenant-a", "sync-1"))
	require.NoError(t, tr.MarkCompleted(ctx, "tenant-a", "sync-1"))

	ok, err = tr.HasSyncedBefore(ctx, "tenant-a", "sync-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTracker_PendingAndErrorQueries(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.MarkStarted(ctx, "tenant-a", "sync-1"))
	pending, err := tr.GetPendingSyncs(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, tr.MarkFailed(ctx, "tenant-a", "sync-1", "boom", ""))
	errored, err := tr.GetErrorSyncs(ctx)
	require.NoError(t, err)
	require.Len(t, errored, 1)

	require.NoError(t, tr.ClearStatus(ctx, "tenant-a", "sync-1"))
	_, err = tr.GetStatus(ctx, "tenant-a", "sync-1")
	require.Error(t, err)
}
