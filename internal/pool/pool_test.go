package pool

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/boilerr"
	"github.com/boilerhouse/boilerhouse/internal/containermgr"
	"github.com/boilerhouse/boilerhouse/internal/domain"
	"github.com/boilerhouse/boilerhouse/internal/runtime"
	"github.com/boilerhouse/boilerhouse/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, cfg domain.Pool) (*Pool, store.Store) {
	t.Helper()
	p, st, _ := newTestPoolWithHooks(t, cfg, Hooks{})
	return p, st
}

func newTestPoolWithHooks(t *testing.T, cfg domain.Pool, hooks Hooks) (*Pool, store.Store, *domain.Workload) {
	t.Helper()
	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "pool.db"))
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
	cfg.WorkloadID = w.ID
	p := New("pool-1", w, cfg, mgr, st, hooks)
	return p, st, w
}

func TestPool_AcquireCreatesOnDemandAndIsIdempotent(t *testing.T) {
	p, _ := newTestPool(t, domain.Pool{MaxSize: 2, MinIdle: 0, IdleTimeout: time.Minute, AcquireTimeout: time.Second})
	ctx := context.Background()

	c1, err := p.Acquire(ctx, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, "tenant-a", c1.TenantID)

	c2, err := p.Acquire(ctx, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, c1.ContainerID, c2.ContainerID)

	stats := p.Stats()
	require.Equal(t, 1, stats.Claimed)
	require.Equal(t, 1, stats.Size)
}

func TestPool_ReleaseThenAcquirePrefersAffinity(t *testing.T) {
	p, _ := newTestPool(t, domain.Pool{MaxSize: 2, MinIdle: 0, IdleTimeout: time.Minute, AcquireTimeout: time.Second})
	ctx := context.Background()

	c1, err := p.Acquire(ctx, "tenant-a")
	require.NoError(t, err)
	require.NoError(t, p.Release(ctx, "tenant-a"))

	c2, err := p.Acquire(ctx, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, c1.ContainerID, c2.ContainerID, "affinity should rebind the same container")
}

func TestPool_CapacityQueuesThenAcquireTimeout(t *testing.T) {
	p, _ := newTestPool(t, domain.Pool{MaxSize: 1, MinIdle: 0, IdleTimeout: time.Minute, AcquireTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	_, err := p.Acquire(ctx, "tenant-a")
	require.NoError(t, err)

	_, err = p.Acquire(ctx, "tenant-b")
	require.ErrorIs(t, err, boilerr.ErrAcquireTimeout)
}

func TestPool_CapacityQueueServedOnRelease(t *testing.T) {
	p, _ := newTestPool(t, domain.Pool{MaxSize: 1, MinIdle: 0, IdleTimeout: time.Minute, AcquireTimeout: 2 * time.Second})
	ctx := context.Background()

	c1, err := p.Acquire(ctx, "tenant-a")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var got *domain.PoolContainer
	var acquireErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, acquireErr = p.Acquire(ctx, "tenant-b")
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Release(ctx, "tenant-a"))
	wg.Wait()

	require.NoError(t, acquireErr)
	require.Equal(t, c1.ContainerID, got.ContainerID)
	require.Equal(t, "tenant-b", got.TenantID)
}

func TestPool_ReleaseNotClaimedFails(t *testing.T) {
	p, _ := newTestPool(t, domain.Pool{MaxSize: 1, MinIdle: 0, IdleTimeout: time.Minute, AcquireTimeout: time.Second})
	require.ErrorIs(t, p.Release(context.Background(), "nobody"), boilerr.ErrTenantNotClaimed)
}

func TestPool_EvictionRespectsMinIdle(t *testing.T) {
	p, _ := newTestPool(t, domain.Pool{MaxSize: 3, MinIdle: 1, IdleTimeout: time.Millisecond, EvictionInterval: 5 * time.Millisecond, AcquireTimeout: time.Second})
	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool {
		return p.Stats().Idle == 1
	}, time.Second, 5*time.Millisecond)

	for i := 0; i < 5; i++ {
		require.Equal(t, 1, p.Stats().Idle)
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPool_DestroyContainerRemovesRow(t *testing.T) {
	p, st := newTestPool(t, domain.Pool{MaxSize: 2, MinIdle: 0, IdleTimeout: time.Minute, AcquireTimeout: time.Second})
	ctx := context.Background()

	c, err := p.Acquire(ctx, "tenant-a")
	require.NoError(t, err)
	require.NoError(t, p.Release(ctx, "tenant-a"))

	p.DestroyContainer(ctx, c.ContainerID)

	_, err = st.GetContainer(ctx, c.ContainerID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Equal(t, 0, p.Stats().Size)
}

func TestPool_FileIdleAutoReleaseRunsBeforeReleaseHookWithAutoTrue(t *testing.T) {
	var mu sync.Mutex
	var beforeCalls, releasedCalls []bool // recorded "auto" value per call

	hooks := Hooks{
		BeforeRelease: func(_ context.Context, tenantID string, c *domain.PoolContainer, auto bool) {
			mu.Lock()
			defer mu.Unlock()
			beforeCalls = append(beforeCalls, auto)
		},
		OnReleased: func(tenantID string, c *domain.PoolContainer, auto bool) {
			mu.Lock()
			defer mu.Unlock()
			releasedCalls = append(releasedCalls, auto)
		},
	}
	p, _, _ := newTestPoolWithHooks(t, domain.Pool{
		MaxSize: 2, MinIdle: 0, IdleTimeout: time.Minute,
		FileIdleTTL:      10 * time.Millisecond,
		EvictionInterval: 5 * time.Millisecond,
		AcquireTimeout:   time.Second,
	}, hooks)
	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop()

	_, err := p.Acquire(ctx, "tenant-a")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(releasedCalls) == 1
	}, time.Second, 5*time.Millisecond, "sweep should auto-release the file-idle container")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []bool{true}, beforeCalls, "auto-release must invoke BeforeRelease (sync-on-release) before the idle transition")
	require.Equal(t, []bool{true}, releasedCalls)

	_, claimed := p.GetContainerForTenant("tenant-a")
	require.False(t, claimed, "the tenant's claim should be gone after auto-release")
}

func TestPool_ExternalReleaseRunsHooksWithAutoFalse(t *testing.T) {
	var mu sync.Mutex
	var beforeAuto, releasedAuto bool

	hooks := Hooks{
		BeforeRelease: func(_ context.Context, tenantID string, c *domain.PoolContainer, auto bool) {
			mu.Lock()
			defer mu.Unlock()
			beforeAuto = auto
		},
		OnReleased: func(tenantID string, c *domain.PoolContainer, auto bool) {
			mu.Lock()
			defer mu.Unlock()
			releasedAuto = auto
		},
	}
	p, _, _ := newTestPoolWithHooks(t, domain.Pool{MaxSize: 2, MinIdle: 0, IdleTimeout: time.Minute, AcquireTimeout: time.Second}, hooks)
	ctx := context.Background()

	_, err := p.Acquire(ctx, "tenant-a")
	require.NoError(t, err)
	require.NoError(t, p.Release(ctx, "tenant-a"))

	mu.Lock()
	defer mu.Unlock()
	require.False(t, beforeAuto)
	require.False(t, releasedAuto)
}
