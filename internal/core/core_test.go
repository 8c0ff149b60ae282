package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/activity"
	"github.com/boilerhouse/boilerhouse/internal/config"
	"github.com/boilerhouse/boilerhouse/internal/containermgr"
	"github.com/boilerhouse/boilerhouse/internal/copyexec"
	"github.com/boilerhouse/boilerhouse/internal/domain"
	"github.com/boilerhouse/boilerhouse/internal/hooks"
	"github.com/boilerhouse/boilerhouse/internal/runtime"
	"github.com/boilerhouse/boilerhouse/internal/store"
	"github.com/boilerhouse/boilerhouse/internal/synccoord"
	"github.com/boilerhouse/boilerhouse/internal/syncstatus"
	"github.com/boilerhouse/boilerhouse/internal/workload"
	"github.com/stretchr/testify/require"
)

func newTestCore(t *testing.T) (*Core, *copyexec.FakeExecutor, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "core.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	rt := runtime.NewFakeRuntime()
	mgr := containermgr.New(containermgr.Config{
		StateBaseDir:   t.TempDir(),
		SecretsBaseDir: t.TempDir(),
		SocketBaseDir:  t.TempDir(),
	}, rt)

	workloads := workload.New()
	tracker := syncstatus.New(st, 10)
	fe := &copyexec.FakeExecutor{}
	coordinator := synccoord.New(synccoord.Config{MinSyncInterval: 10 * time.Millisecond, MaxConcurrent: 2}, fe, tracker)
	activityLog := activity.New(st, 10)
	hookRunner := hooks.New(mgr)

	c := New(st, mgr, workloads, coordinator, tracker, activityLog, hookRunner, config.PoolConfig{
		DefaultEvictionInterval: time.Hour,
		DefaultAcquireTimeout:   time.Second,
	})
	return c, fe, st
}

func testWorkload(id string, maxSize int) *domain.Workload {
	return &domain.Workload{
		ID:    id,
		Name:  id,
		Image: "busybox:latest",
		Pool:  domain.PoolDefaults{MinIdle: 0, MaxSize: maxSize},
	}
}

func TestCore_CreatePoolAppliesOverridesOverWorkloadDefaults(t *testing.T) {
	c, _, _ := newTestCore(t)
	ctx := context.Background()
	c.Workloads.Register(testWorkload("w1", 2))

	minIdle := 1
	p, err := c.CreatePool(ctx, "pool-1", "w1", PoolOverrides{MinIdle: &minIdle})
	require.NoError(t, err)
	require.Equal(t, 1, p.Stats().MinIdle)
	require.Equal(t, 2, p.Stats().MaxSize)
}

func TestCore_CreatePoolUnknownWorkloadFails(t *testing.T) {
	c, _, _ := newTestCore(t)
	_, err := c.CreatePool(context.Background(), "pool-1", "missing", PoolOverrides{})
	require.Error(t, err)
}

func TestCore_ClaimAndReleaseRoundTrip(t *testing.T) {
	c, _, _ := newTestCore(t)
	ctx := context.Background()
	c.Workloads.Register(testWorkload("w1", 2))
	_, err := c.CreatePool(ctx, "pool-1", "w1", PoolOverrides{})
	require.NoError(t, err)

	ct, ep, err := c.Claim(ctx, "tenant-a", "pool-1")
	require.NoError(t, err)
	require.NotEmpty(t, ct.ContainerID)
	require.Equal(t, ct.SocketPath, ep.SocketPath)

	status, err := c.GetTenantStatus(ctx, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, ct.ContainerID, status.Container.ContainerID)

	require.NoError(t, c.Release(ctx, "tenant-a"))

	_, err = c.Registry.GetContainerForTenant(ctx, "tenant-a")
	require.Error(t, err)
}

func TestCore_FirstClaimWithSyncAndHooksSkipsDownload(t *testing.T) {
	c, fe, _ := newTestCore(t)
	ctx := context.Background()
	w := testWorkload("w1", 2)
	w.Sync = &domain.SyncConfig{
		Sink:     domain.Sink{Type: "s3", Bucket: "bucket"},
		Mappings: []domain.Mapping{{ContainerPath: "/state/in", Direction: domain.DirectionDownload, Mode: domain.ModeSync}},
	}
	w.Hooks = &domain.Hooks{PostClaim: []domain.Hook{{Command: []string{"warm"}, OnError: domain.HookOnErrorContinue}}}
	c.Workloads.Register(w)
	_, err := c.CreatePool(ctx, "pool-1", "w1", PoolOverrides{})
	require.NoError(t, err)

	_, _, err = c.Claim(ctx, "tenant-a", "pool-1")
	require.NoError(t, err)

	// First claim for a never-synced tenant skips the download leg.
	require.Empty(t, fe.Calls)
}

func TestCore_ClaimReleasesContainerWhenPostClaimHookFails(t *testing.T) {
	c, _, _ := newTestCore(t)
	ctx := context.Background()
	w := testWorkload("w1", 2)
	w.Hooks = &domain.Hooks{PostClaim: []domain.Hook{{Command: []string{"bad"}, OnError: domain.HookOnErrorFail}}}
	c.Workloads.Register(w)
	_, err := c.CreatePool(ctx, "pool-1", "w1", PoolOverrides{})
	require.NoError(t, err)

	_, _, err = c.Claim(ctx, "tenant-a", "pool-1")
	require.Error(t, err)

	_, err = c.Registry.GetContainerForTenant(ctx, "tenant-a")
	require.Error(t, err, "container should have been released back after the hook aborted the claim")
}

func TestCore_DestroyPoolClearsTenantSyncStatus(t *testing.T) {
	c, fe, _ := newTestCore(t)
	ctx := context.Background()
	w := testWorkload("w1", 2)
	w.Sync = &domain.SyncConfig{
		Sink:     domain.Sink{Type: "s3", Bucket: "bucket"},
		Mappings: []domain.Mapping{{ContainerPath: "/state/out", Direction: domain.DirectionUpload, Mode: domain.ModeSync}},
	}
	c.Workloads.Register(w)
	_, err := c.CreatePool(ctx, "pool-1", "w1", PoolOverrides{})
	require.NoError(t, err)

	_, _, err = c.Claim(ctx, "tenant-a", "pool-1")
	require.NoError(t, err)
	require.NoError(t, c.Release(ctx, "tenant-a"))
	require.NotEmpty(t, fe.Calls)

	statuses, err := c.Tracker.GetStatusesForTenant(ctx, "tenant-a")
	require.NoError(t, err)
	require.NotEmpty(t, statuses)

	_, err = c.CreatePool(ctx, "pool-2", "w1", PoolOverrides{})
	require.NoError(t, err)
	_, _, err = c.Claim(ctx, "tenant-a", "pool-2")
	require.NoError(t, err)
	require.NoError(t, c.DestroyPool(ctx, "pool-2"))

	statuses, err = c.Tracker.GetStatusesForTenant(ctx, "tenant-a")
	require.NoError(t, err)
	require.Empty(t, statuses)
}

func TestCore_TriggerSyncForUnclaimedTenantFails(t *testing.T) {
	c, _, _ := newTestCore(t)
	_, err := c.TriggerSync(context.Background(), "tenant-a", "upload")
	require.Error(t, err)
}

func TestCore_GetTenantStatusUnclaimedReportsColdNotError(t *testing.T) {
	c, _, _ := newTestCore(t)
	status, err := c.GetTenantStatus(context.Background(), "tenant-nobody")
	require.NoError(t, err)
	require.Equal(t, domain.TenantCold, status.Status)
	require.Nil(t, status.Container)
}

func TestCore_GetTenantStatusClaimedReportsWarm(t *testing.T) {
	c, _, _ := newTestCore(t)
	ctx := context.Background()
	c.Workloads.Register(testWorkload("w1", 2))
	_, err := c.CreatePool(ctx, "pool-1", "w1", PoolOverrides{})
	require.NoError(t, err)

	_, _, err = c.Claim(ctx, "tenant-a", "pool-1")
	require.NoError(t, err)

	status, err := c.GetTenantStatus(ctx, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, domain.TenantWarm, status.Status)
	require.NotNil(t, status.Container)
}

func TestCore_AutoReleaseRunsSyncBeforeIdleTransition(t *testing.T) {
	c, fe, _ := newTestCore(t)
	ctx := context.Background()
	w := testWorkload("w1", 2)
	w.Sync = &domain.SyncConfig{
		Sink:     domain.Sink{Type: "s3", Bucket: "bucket"},
		Mappings: []domain.Mapping{{ContainerPath: "/state/out", Direction: domain.DirectionUpload, Mode: domain.ModeSync}},
	}
	c.Workloads.Register(w)

	minIdle := 0
	fileIdleTTL := 10 * time.Millisecond
	evictionInterval := 5 * time.Millisecond
	_, err := c.CreatePool(ctx, "pool-1", "w1", PoolOverrides{
		MinIdle:          &minIdle,
		FileIdleTTL:      &fileIdleTTL,
		EvictionInterval: &evictionInterval,
	})
	require.NoError(t, err)

	_, _, err = c.Claim(ctx, "tenant-a", "pool-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := c.Registry.GetContainerForTenant(ctx, "tenant-a")
		return err != nil
	}, time.Second, 5*time.Millisecond, "file-idle sweep should auto-release the claim")

	require.NotEmpty(t, fe.Calls, "auto-release must run sync-on-release, the same as an external release")

	events, err := c.Activity.List(ctx, domain.ActivityFilter{})
	require.NoError(t, err)
	found := false
	for _, e := range events {
		if e.EventType == activity.EventAutoReleased {
			found = true
		}
	}
	require.True(t, found, "auto-release must log an auto_released activity event")
}
