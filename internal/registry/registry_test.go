package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/boilerr"
	"github.com/boilerhouse/boilerhouse/internal/containermgr"
	"github.com/boilerhouse/boilerhouse/internal/domain"
	"github.com/boilerhouse/boilerhouse/internal/pool"
	"github.com/boilerhouse/boilerhouse/internal/runtime"
	"github.com/boilerhouse/boilerhouse/internal/store"
	"github.com/stretchr/testify/require"
)

type fakeWorkloads struct {
	byID map[string]*domain.Workload
}

func (f *fakeWorkloads) GetWorkload(id string) (*domain.Workload, bool) {
	w, ok := f.byID[id]
	return w, ok
}

func newTestRegistry(t *testing.T) (*Registry, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	base := t.TempDir()
	mgr := containermgr.New(containermgr.Config{
		StateBaseDir:          filepath.Join(base, "state"),
		SecretsBaseDir:        filepath.Join(base, "secrets"),
		SocketBaseDir:         filepath.Join(base, "sockets"),
		ContainerStartTimeout: time.Second,
		StopGracePeriod:       time.Second,
	}, runtime.NewFakeRuntime())

	w := &domain.Workload{ID: "worker", Image: "busybox:latest"}
	wl := &fakeWorkloads{byID: map[string]*domain.Workload{w.ID: w}}
	r := New(mgr, st, wl, pool.Hooks{})
	return r, st
}

func testPoolCfg() domain.Pool {
	return domain.Pool{
		WorkloadID:     "worker",
		MaxSize:        2,
		MinIdle:        0,
		IdleTimeout:    time.Minute,
		AcquireTimeout: time.Second,
	}
}

func TestRegistry_CreatePoolIsIdempotentError(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.CreatePool(ctx, "pool-1", testPoolCfg())
	require.NoError(t, err)

	_, err = r.CreatePool(ctx, "pool-1", testPoolCfg())
	require.ErrorIs(t, err, boilerr.ErrPoolExists)
}

func TestRegistry_CreatePoolUnknownWorkload(t *testing.T) {
	r, _ := newTestRegistry(t)
	cfg := testPoolCfg()
	cfg.WorkloadID = "nope"
	_, err := r.CreatePool(context.Background(), "pool-1", cfg)
	require.ErrorIs(t, err, boilerr.ErrWorkloadNotFound)
}

func TestRegistry_AcquireReleaseResolvesTenantAcrossPools(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	p, err := r.CreatePool(ctx, "pool-1", testPoolCfg())
	require.NoError(t, err)

	c, err := p.Acquire(ctx, "tenant-a")
	require.NoError(t, err)

	gotPool, err := r.GetPoolForTenant(ctx, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, "pool-1", gotPool.ID())

	gotContainer, err := r.GetContainerForTenant(ctx, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, c.ContainerID, gotContainer.ContainerID)

	require.NoError(t, p.Release(ctx, "tenant-a"))
	_, err = r.GetContainerForTenant(ctx, "tenant-a")
	require.ErrorIs(t, err, boilerr.ErrTenantNotClaimed)
}

func TestRegistry_DestroyPoolDrainsAndRemoves(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()

	p, err := r.CreatePool(ctx, "pool-1", testPoolCfg())
	require.NoError(t, err)
	c, err := p.Acquire(ctx, "tenant-a")
	require.NoError(t, err)

	require.NoError(t, r.DestroyPool(ctx, "pool-1"))
	_, ok := r.GetPool("pool-1")
	require.False(t, ok)

	_, err = st.GetContainer(ctx, c.ContainerID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetPool(ctx, "pool-1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRegistry_RestoreFromDB(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()

	p, err := r.CreatePool(ctx, "pool-1", testPoolCfg())
	require.NoError(t, err)
	_, err = p.Acquire(ctx, "tenant-a")
	require.NoError(t, err)
	r.Shutdown()

	base := t.TempDir()
	mgr := containermgr.New(containermgr.Config{
		StateBaseDir:          filepath.Join(base, "state"),
		SecretsBaseDir:        filepath.Join(base, "secrets"),
		SocketBaseDir:         filepath.Join(base, "sockets"),
		ContainerStartTimeout: time.Second,
		StopGracePeriod:       time.Second,
	}, runtime.NewFakeRuntime())
	w := &domain.Workload{ID: "worker", Image: "busybox:latest"}
	wl := &fakeWorkloads{byID: map[string]*domain.Workload{w.ID: w}}
	r2 := New(mgr, st, wl, pool.Hooks{})
	require.NoError(t, r2.RestoreFromDB(ctx))

	stats, ok := r2.GetPoolInfo("pool-1")
	require.True(t, ok)
	require.Equal(t, 1, stats.Claimed)

	_, err = r2.GetPoolForTenant(ctx, "tenant-a")
	require.NoError(t, err)
}
