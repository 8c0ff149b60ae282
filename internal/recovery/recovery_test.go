package recovery

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/containermgr"
	"github.com/boilerhouse/boilerhouse/internal/domain"
	"github.com/boilerhouse/boilerhouse/internal/pool"
	"github.com/boilerhouse/boilerhouse/internal/registry"
	"github.com/boilerhouse/boilerhouse/internal/runtime"
	"github.com/boilerhouse/boilerhouse/internal/store"
	"github.com/stretchr/testify/require"
)

type fakeWorkloads struct{ w *domain.Workload }

func (f *fakeWorkloads) GetWorkload(id string) (*domain.Workload, bool) {
	if f.w.ID == id {
		return f.w, true
	}
	return nil, false
}

func TestRun_RemovesStoppedAndPrunesOrphanedRows(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "recovery.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fr := runtime.NewFakeRuntime()
	base := t.TempDir()
	mgr := containermgr.New(containermgr.Config{
		StateBaseDir:          filepath.Join(base, "state"),
		SecretsBaseDir:        filepath.Join(base, "secrets"),
		SocketBaseDir:         filepath.Join(base, "sockets"),
		ContainerStartTimeout: time.Second,
		StopGracePeriod:       time.Second,
	}, fr)

	w := &domain.Workload{ID: "worker", Image: "busybox:latest"}
	wl := &fakeWorkloads{w: w}
	reg := registry.New(mgr, st, wl, pool.Hooks{})

	p, err := reg.CreatePool(ctx, "pool-1", domain.Pool{
		WorkloadID: "worker", MaxSize: 3, MinIdle: 0,
		IdleTimeout: time.Minute, AcquireTimeout: time.Second,
	})
	require.NoError(t, err)

	running, err := p.Acquire(ctx, "tenant-a")
	require.NoError(t, err)
	require.NoError(t, p.Release(ctx, "tenant-a"))

	stopped, err := mgr.Create(ctx, "pool-1", w)
	require.NoError(t, err)
	require.NoError(t, st.UpsertContainer(ctx, stopped))
	require.NoError(t, fr.StopContainer(ctx, stopped.ContainerID, time.Second))

	orphanRow := &domain.PoolContainer{
		ContainerID: "orphan-1", PoolID: "pool-1", Status: domain.ContainerIdle,
	}
	require.NoError(t, st.UpsertContainer(ctx, orphanRow))

	reg.Shutdown()

	reg2 := registry.New(mgr, st, wl, pool.Hooks{})
	require.NoError(t, Run(ctx, fr, st, reg2))

	_, err = st.GetContainer(ctx, stopped.ContainerID)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = st.GetContainer(ctx, "orphan-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	stats, ok := reg2.GetPoolInfo("pool-1")
	require.True(t, ok)
	require.Equal(t, 1, stats.Size)
	require.Equal(t, 1, stats.Idle)

	_, err = st.GetContainer(ctx, running.ContainerID)
	require.NoError(t, err)
}
