package synccoord

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/copyexec"
	"github.com/boilerhouse/boilerhouse/internal/domain"
	"github.com/boilerhouse/boilerhouse/internal/store"
	"github.com/boilerhouse/boilerhouse/internal/syncstatus"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *copyexec.FakeExecutor, *syncstatus.Tracker) {
	t.Helper()
	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "synccoord.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tracker := syncstatus.New(st, 10)
	fe := &copyexec.FakeExecutor{}
	c := New(Config{MinSyncInterval: 10 * time.Millisecond, MaxConcurrent: 2}, fe, tracker)
	return c, fe, tracker
}

func testSyncConfig() *domain.SyncConfig {
	return &domain.SyncConfig{
		Sink: domain.Sink{Type: "s3", Bucket: "bucket"},
		Mappings: []domain.Mapping{
			{ContainerPath: "/state/in", Direction: domain.DirectionDownload, Mode: domain.ModeSync},
			{ContainerPath: "/state/out", Direction: domain.DirectionUpload, Mode: domain.ModeSync},
		},
	}
}

func TestCoordinator_OnClaimFirstClaimSkipsDownload(t *testing.T) {
	c, fe, _ := newTestCoordinator(t)
	ctx := context.Background()
	container := &domain.PoolContainer{ContainerID: "c1", StateDir: "/tmp/c1"}

	results, err := c.OnClaim(ctx, "tenant-a", container, testSyncConfig(), false)
	require.NoError(t, err)
	require.Empty(t, results)
	require.Empty(t, fe.Calls)
}

func TestCoordinator_OnClaimInitialSyncRunsDownloads(t *testing.T) {
	c, fe, _ := newTestCoordinator(t)
	ctx := context.Background()
	container := &domain.PoolContainer{ContainerID: "c1", StateDir: "/tmp/c1"}

	results, err := c.OnClaim(ctx, "tenant-a", container, testSyncConfig(), true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, domain.DirectionDownload, results[0].Direction)
	require.Len(t, fe.Calls, 1)
}

func TestCoordinator_OnReleaseRunsUploadsAndStopsPeriodic(t *testing.T) {
	c, fe, _ := newTestCoordinator(t)
	ctx := context.Background()
	container := &domain.PoolContainer{ContainerID: "c1", StateDir: "/tmp/c1"}
	cfg := testSyncConfig()

	_, err := c.OnClaim(ctx, "tenant-a", container, cfg, true)
	require.NoError(t, err)

	results, err := c.OnRelease(ctx, "tenant-a", container, cfg)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, domain.DirectionUpload, results[0].Direction)
	require.Len(t, fe.Calls, 2)
}

func TestCoordinator_FailedSyncRecordsErrorThenClearsOnSuccess(t *testing.T) {
	c, fe, tracker := newTestCoordinator(t)
	ctx := context.Background()
	container := &domain.PoolContainer{ContainerID: "c1", StateDir: "/tmp/c1"}
	cfg := testSyncConfig()
	sid := syncID(cfg)

	fe.FailNext = "Bisync aborted. Must run --resync to recover."
	_, err := c.TriggerSync(ctx, "tenant-a", container, cfg, "upload")
	require.NoError(t, err)

	status, err := tracker.GetStatus(ctx, "tenant-a", sid)
	require.NoError(t, err)
	require.Equal(t, domain.SyncStateError, status.State)

	errs, err := tracker.GetErrors(ctx, "tenant-a", sid)
	require.NoError(t, err)
	require.Len(t, errs, 1)

	_, err = c.TriggerSync(ctx, "tenant-a", container, cfg, "upload")
	require.NoError(t, err)

	status, err = tracker.GetStatus(ctx, "tenant-a", sid)
	require.NoError(t, err)
	require.Equal(t, domain.SyncIdle, status.State)

	errs, err = tracker.GetErrors(ctx, "tenant-a", sid)
	require.NoError(t, err)
	require.Empty(t, errs)
}

func TestCoordinator_TriggerSyncRespectsManualPolicy(t *testing.T) {
	c, fe, _ := newTestCoordinator(t)
	ctx := context.Background()
	container := &domain.PoolContainer{ContainerID: "c1", StateDir: "/tmp/c1"}
	cfg := testSyncConfig()
	disabled := false
	cfg.Policy.Manual = &disabled

	results, err := c.TriggerSync(ctx, "tenant-a", container, cfg, "upload")
	require.NoError(t, err)
	require.Empty(t, results)
	require.Empty(t, fe.Calls)
}

func TestCoordinator_ResyncRequiredForcesInitialSyncOnNextClaim(t *testing.T) {
	c, fe, _ := newTestCoordinator(t)
	ctx := context.Background()
	container := &domain.PoolContainer{ContainerID: "c1", StateDir: "/tmp/c1"}
	cfg := testSyncConfig()

	// Seed hasSyncedBefore so a later claim doesn't hit the first-claim
	// guard, then fail a download with a resync-required message.
	_, err := c.OnClaim(ctx, "tenant-a", container, cfg, true)
	require.NoError(t, err)

	fe.FailNext = "bisync aborted, must run --resync to recover"
	results, err := c.OnClaim(ctx, "tenant-a", container, cfg, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].Success)

	// The next claim's download leg must be forced to initialSync=true,
	// even though the caller still passes initialSync=false.
	_, err = c.OnClaim(ctx, "tenant-a", container, cfg, false)
	require.NoError(t, err)

	var lastDownload copyexec.FakeCall
	found := false
	for _, call := range fe.Calls {
		if call.Mapping.Direction == domain.DirectionDownload {
			lastDownload = call
			found = true
		}
	}
	require.True(t, found)
	require.True(t, lastDownload.InitialSync, "download after a resync-required failure must run with initialSync=true")

	// The flag is consumed: a further claim goes back to initialSync=false.
	_, err = c.OnClaim(ctx, "tenant-a", container, cfg, false)
	require.NoError(t, err)
	last := fe.Calls[len(fe.Calls)-1]
	require.False(t, last.InitialSync)
}

func TestCoordinator_ShutdownStopsPeriodicJobs(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	container := &domain.PoolContainer{ContainerID: "c1", StateDir: "/tmp/c1"}
	cfg := testSyncConfig()
	interval := 5 * time.Millisecond
	cfg.Policy.Interval = &interval

	_, err := c.OnClaim(ctx, "tenant-a", container, cfg, true)
	require.NoError(t, err)

	c.Shutdown()
	c.mu.Lock()
	n := len(c.jobs)
	c.mu.Unlock()
	require.Equal(t, 0, n)
}
