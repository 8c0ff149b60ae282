// Package registry implements the pool registry (spec §4.C6): the set of
// live pools keyed by pool ID, plus the canonical tenant -> container
// lookup. The registry does not hold any tenant->pool index in memory;
// spec §4.C6 calls for a single store query by tenant_id + status='claimed'
// instead, so a tenant's claim is always resolved against the persisted
// row of record rather than a second in-memory map that could drift from
// it.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/boilerhouse/boilerhouse/internal/boilerr"
	"github.com/boilerhouse/boilerhouse/internal/containermgr"
	"github.com/boilerhouse/boilerhouse/internal/domain"
	"github.com/boilerhouse/boilerhouse/internal/pool"
	"github.com/boilerhouse/boilerhouse/internal/store"
)

// WorkloadLookup resolves a workload by ID, satisfied by the workload
// registration surface (spec §6); the registry only needs read access.
type WorkloadLookup interface {
	GetWorkload(id string) (*domain.Workload, bool)
}

// Registry owns every live Pool and mediates pool/container lifecycle
// operations across them (spec §4.C6).
type Registry struct {
	mgr       *containermgr.Manager
	store     store.Store
	workloads WorkloadLookup
	hooks     pool.Hooks

	mu    sync.RWMutex
	pools map[string]*pool.Pool
}

// New constructs an empty Registry. Call RestoreFromDB during startup
// recovery (C9) before serving any requests.
func New(mgr *containermgr.Manager, st store.Store, workloads WorkloadLookup, hooks pool.Hooks) *Registry {
	return &Registry{
		mgr:       mgr,
		store:     st,
		workloads: workloads,
		hooks:     hooks,
		pools:     make(map[string]*pool.Pool),
	}
}

// CreatePool registers a new pool for workloadID and starts its pre-warm
// and eviction loops. poolID must be unique within the registry.
func (r *Registry) CreatePool(ctx context.Context, poolID string, cfg domain.Pool) (*pool.Pool, error) {
	w, ok := r.workloads.GetWorkload(cfg.WorkloadID)
	if !ok {
		return nil, boilerr.ErrWorkloadNotFound
	}

	r.mu.Lock()
	if _, exists := r.pools[poolID]; exists {
		r.mu.Unlock()
		return nil, boilerr.ErrPoolExists
	}
	cfg.ID = poolID
	p := pool.New(poolID, w, cfg, r.mgr, r.store, r.hooks)
	r.pools[poolID] = p
	r.mu.Unlock()

	if err := r.store.UpsertPool(ctx, &cfg); err != nil {
		r.mu.Lock()
		delete(r.pools, poolID)
		r.mu.Unlock()
		return nil, boilerr.Wrap(boilerr.Persistence, "pool_upsert_failed", err)
	}

	p.Start(ctx)
	return p, nil
}

// DestroyPool drains every container in poolID and removes it from the
// registry and the store.
func (r *Registry) DestroyPool(ctx context.Context, poolID string) error {
	r.mu.Lock()
	p, ok := r.pools[poolID]
	if !ok {
		r.mu.Unlock()
		return boilerr.ErrPoolNotFound
	}
	delete(r.pools, poolID)
	r.mu.Unlock()

	p.Drain(ctx)
	if err := r.store.DeletePool(ctx, poolID); err != nil {
		return boilerr.Wrap(boilerr.Persistence, "pool_delete_failed", err)
	}
	return nil
}

// RestoreFromDB rebuilds the in-memory registry from persisted pools and
// containers on startup, per spec §4.C9. Callers are expected to have
// already reconciled the containers table against the live runtime (C9)
// before calling this.
func (r *Registry) RestoreFromDB(ctx context.Context) error {
	pools, err := r.store.ListPools(ctx)
	if err != nil {
		return boilerr.Wrap(boilerr.Persistence, "list_pools_failed", err)
	}

	for _, cfg := range pools {
		w, ok := r.workloads.GetWorkload(cfg.WorkloadID)
		if !ok {
			// The workload this pool was built from is no longer
			// registered; skip it rather than restore orphaned state.
			continue
		}

		p := pool.New(cfg.ID, w, *cfg, r.mgr, r.store, r.hooks)
		containers, err := r.store.ListContainersByPool(ctx, cfg.ID)
		if err != nil {
			return boilerr.Wrap(boilerr.Persistence, "list_containers_failed", err)
		}
		for _, c := range containers {
			p.Adopt(c)
		}

		r.mu.Lock()
		r.pools[cfg.ID] = p
		r.mu.Unlock()

		p.Start(ctx)
	}
	return nil
}

// GetPoolInfo returns pool stats, or false if poolID is not registered.
func (r *Registry) GetPoolInfo(poolID string) (domain.PoolStats, bool) {
	r.mu.RLock()
	p, ok := r.pools[poolID]
	r.mu.RUnlock()
	if !ok {
		return domain.PoolStats{}, false
	}
	return p.Stats(), true
}

// ListPoolInfo returns stats for every registered pool.
func (r *Registry) ListPoolInfo() []domain.PoolStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PoolStats, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p.Stats())
	}
	return out
}

// ListContainersInfo returns every container in poolID.
func (r *Registry) ListContainersInfo(poolID string) ([]*domain.PoolContainer, error) {
	p, ok := r.getPool(poolID)
	if !ok {
		return nil, boilerr.ErrPoolNotFound
	}
	return p.GetAllContainers(), nil
}

// DestroyContainer force-destroys one container in poolID, used by the
// admin surface to evict a specific container.
func (r *Registry) DestroyContainer(ctx context.Context, poolID, containerID string) error {
	p, ok := r.getPool(poolID)
	if !ok {
		return boilerr.ErrPoolNotFound
	}
	p.DestroyContainer(ctx, containerID)
	return nil
}

// GetPoolForTenant returns the pool currently holding tenantID's claim, by
// looking up the claimed container of record in the store and resolving
// its pool from the in-memory registry (spec §4.C6).
func (r *Registry) GetPoolForTenant(ctx context.Context, tenantID string) (*pool.Pool, error) {
	c, err := r.store.GetClaimedContainerForTenant(ctx, tenantID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, boilerr.ErrTenantNotClaimed
		}
		return nil, boilerr.Wrap(boilerr.Persistence, "claimed_container_lookup_failed", err)
	}
	p, ok := r.getPool(c.PoolID)
	if !ok {
		return nil, fmt.Errorf("pool %s for claimed container %s is not registered: %w", c.PoolID, c.ContainerID, boilerr.ErrPoolNotFound)
	}
	return p, nil
}

// GetContainerForTenant resolves tenantID's claimed container via the
// store, the canonical tenant->container lookup named by spec §4.C6.
func (r *Registry) GetContainerForTenant(ctx context.Context, tenantID string) (*domain.PoolContainer, error) {
	c, err := r.store.GetClaimedContainerForTenant(ctx, tenantID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, boilerr.ErrTenantNotClaimed
		}
		return nil, boilerr.Wrap(boilerr.Persistence, "claimed_container_lookup_failed", err)
	}
	return c, nil
}

// GetPool returns the registered pool by ID, or false if none exists.
func (r *Registry) GetPool(poolID string) (*pool.Pool, bool) {
	return r.getPool(poolID)
}

func (r *Registry) getPool(poolID string) (*pool.Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[poolID]
	return p, ok
}

// Shutdown stops every pool's eviction/pre-warm loop without destroying
// any container, leaving them for the next startup's recovery pass to
// adopt (spec §4.C6 shutdown, §4.C9).
func (r *Registry) Shutdown() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.pools {
		p.Stop()
	}
}
