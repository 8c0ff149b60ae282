// Package core wires components C1-C10 into the operations an API surface
// consumes (spec §6 "Core operations"): createPool, destroyPool, claim,
// release, destroyContainer, triggerSync and getTenantStatus. It is the
// only place that sequences a claim's post-acquire steps — sync-on-claim
// then the post_claim hook — and a release's pre-release hook then
// sync-on-release, matching spec §5's control-flow walk
// ("C6 -> C5 -> C1 -> C8.onClaim -> C4 post-claim hook"), adapted from the
// reference codebase's internal/executor package, which is the same kind
// of thin composition root over its own pool/store/secrets collaborators.
package core

import (
	"context"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/activity"
	"github.com/boilerhouse/boilerhouse/internal/boilerr"
	"github.com/boilerhouse/boilerhouse/internal/config"
	"github.com/boilerhouse/boilerhouse/internal/containermgr"
	"github.com/boilerhouse/boilerhouse/internal/domain"
	"github.com/boilerhouse/boilerhouse/internal/hooks"
	"github.com/boilerhouse/boilerhouse/internal/logging"
	"github.com/boilerhouse/boilerhouse/internal/metrics"
	"github.com/boilerhouse/boilerhouse/internal/pool"
	"github.com/boilerhouse/boilerhouse/internal/registry"
	"github.com/boilerhouse/boilerhouse/internal/store"
	"github.com/boilerhouse/boilerhouse/internal/synccoord"
	"github.com/boilerhouse/boilerhouse/internal/syncstatus"
	"github.com/boilerhouse/boilerhouse/internal/workload"
)

// Core is the composition root binding the pool registry (C6), sync
// coordinator (C8), sync status tracker (C7), activity log (C10) and
// lifecycle hook runner into the claim/release/sync lifecycle spec §5
// describes. Construct one per process; never as a package-level global
// (Design Notes "Global mutable singletons").
type Core struct {
	Registry  *registry.Registry
	Workloads *workload.Registry
	Tracker   *syncstatus.Tracker
	Activity  *activity.Log

	store       store.Store
	coordinator *synccoord.Coordinator
	hookRunner  *hooks.Runner
	poolCfg     config.PoolConfig
}

// New constructs a Core and the Registry it wires internally, hooking the
// pool engine's lifecycle callbacks to the activity log.
func New(st store.Store, mgr *containermgr.Manager, workloads *workload.Registry, coordinator *synccoord.Coordinator, tracker *syncstatus.Tracker, activityLog *activity.Log, hookRunner *hooks.Runner, poolCfg config.PoolConfig) *Core {
	c := &Core{
		Workloads:   workloads,
		Tracker:     tracker,
		Activity:    activityLog,
		store:       st,
		coordinator: coordinator,
		hookRunner:  hookRunner,
		poolCfg:     poolCfg,
	}

	poolHooks := pool.Hooks{
		OnClaimed: func(tenantID string, ct *domain.PoolContainer) {
			_ = activityLog.Save(context.Background(), domain.ActivityEvent{
				EventType: activity.EventClaimed, PoolID: ct.PoolID, ContainerID: ct.ContainerID, TenantID: tenantID,
				Message: "claimed",
			})
		},
		// BeforeRelease runs the workload's pre_release hook and
		// sync-on-release for every release, external or file-idle
		// auto-release (spec §4.C5.3, §9), matching the sequence Release
		// used to run only for its own direct callers.
		BeforeRelease: func(ctx context.Context, tenantID string, ct *domain.PoolContainer, auto bool) {
			p, ok := c.Registry.GetPool(ct.PoolID)
			if !ok {
				return
			}
			w := p.Workload()

			if w.Hooks != nil {
				c.hookRunner.RunPreRelease(ctx, ct.ContainerID, w.Hooks)
			}
			if w.Sync != nil {
				if _, syncErr := c.coordinator.OnRelease(ctx, tenantID, ct, w.Sync); syncErr != nil {
					logging.Op().Warn("sync on release failed", "tenant_id", tenantID, "pool_id", ct.PoolID, "auto", auto, "error", syncErr)
				}
			}
		},
		OnReleased: func(tenantID string, ct *domain.PoolContainer, auto bool) {
			eventType := activity.EventReleased
			msg := "released"
			if auto {
				eventType = activity.EventAutoReleased
				msg = "auto-released (file-idle)"
			}
			_ = activityLog.Save(context.Background(), domain.ActivityEvent{
				EventType: eventType, PoolID: ct.PoolID, ContainerID: ct.ContainerID, TenantID: tenantID,
				Message: msg,
			})
		},
		OnDestroyed: func(ct *domain.PoolContainer) {
			_ = activityLog.Save(context.Background(), domain.ActivityEvent{
				EventType: activity.EventContainerDestroyed, PoolID: ct.PoolID, ContainerID: ct.ContainerID,
				Message: "destroyed",
			})
		},
	}

	c.Registry = registry.New(mgr, st, workloads, poolHooks)
	return c
}

// PoolOverrides carries the pool-entity fields a createPool caller may set
// explicitly; any nil field falls back to the workload's own pool defaults
// (spec §9 Open Questions: "a pool may override FileIdleTTL and Networks
// explicitly" — generalised here to every sizing/timing knob a caller may
// reasonably want to pin per pool instead of per workload).
type PoolOverrides struct {
	MinIdle          *int
	MaxSize          *int
	IdleTimeout      *time.Duration
	FileIdleTTL      *time.Duration
	Networks         []string
	EvictionInterval *time.Duration
	AcquireTimeout   *time.Duration
}

// CreatePool resolves workloadID's pool defaults, layers overrides on top,
// and registers poolID (spec §6 createPool).
func (c *Core) CreatePool(ctx context.Context, poolID, workloadID string, overrides PoolOverrides) (*pool.Pool, error) {
	w, ok := c.Workloads.GetWorkload(workloadID)
	if !ok {
		return nil, boilerr.ErrWorkloadNotFound
	}

	cfg := domain.Pool{
		WorkloadID:       workloadID,
		MinIdle:          w.Pool.MinIdle,
		MaxSize:          w.Pool.MaxSize,
		IdleTimeout:      w.Pool.IdleTimeout,
		FileIdleTTL:      w.Pool.FileIdleTTL,
		Networks:         w.Pool.Networks,
		EvictionInterval: c.poolCfg.DefaultEvictionInterval,
		AcquireTimeout:   c.poolCfg.DefaultAcquireTimeout,
	}
	if overrides.MinIdle != nil {
		cfg.MinIdle = *overrides.MinIdle
	}
	if overrides.MaxSize != nil {
		cfg.MaxSize = *overrides.MaxSize
	}
	if overrides.IdleTimeout != nil {
		cfg.IdleTimeout = *overrides.IdleTimeout
	}
	if overrides.FileIdleTTL != nil {
		cfg.FileIdleTTL = *overrides.FileIdleTTL
	}
	if overrides.Networks != nil {
		cfg.Networks = overrides.Networks
	}
	if overrides.EvictionInterval != nil {
		cfg.EvictionInterval = *overrides.EvictionInterval
	}
	if overrides.AcquireTimeout != nil {
		cfg.AcquireTimeout = *overrides.AcquireTimeout
	}

	p, err := c.Registry.CreatePool(ctx, poolID, cfg)
	if err != nil {
		return nil, err
	}
	_ = c.Activity.Save(ctx, domain.ActivityEvent{EventType: activity.EventPoolCreated, PoolID: poolID, Message: "pool created"})
	return p, nil
}

// DestroyPool drains poolID and garbage-collects the sync status of every
// tenant it was still holding a claim for (spec §9 Open Questions: sync
// status is preserved across a release but collected on teardown).
func (c *Core) DestroyPool(ctx context.Context, poolID string) error {
	p, ok := c.Registry.GetPool(poolID)
	if !ok {
		return boilerr.ErrPoolNotFound
	}
	tenants := p.GetTenantsWithClaims()

	if err := c.Registry.DestroyPool(ctx, poolID); err != nil {
		return err
	}

	for _, tenantID := range tenants {
		if err := c.Tracker.ClearTenant(ctx, tenantID); err != nil {
			logging.Op().Warn("failed to clear sync status on pool teardown", "pool_id", poolID, "tenant_id", tenantID, "error", err)
		}
	}

	_ = c.Activity.Save(ctx, domain.ActivityEvent{EventType: activity.EventPoolDestroyed, PoolID: poolID, Message: "pool destroyed"})
	return nil
}

// Claim resolves a container for tenantID in poolID, running sync-on-claim
// and the workload's post_claim hook before returning (spec §5, §6 claim).
// A failing post_claim hook with on_error "fail" releases the container
// back to the pool and returns the hook's error.
func (c *Core) Claim(ctx context.Context, tenantID, poolID string) (*domain.PoolContainer, domain.Endpoints, error) {
	p, ok := c.Registry.GetPool(poolID)
	if !ok {
		return nil, domain.Endpoints{}, boilerr.ErrPoolNotFound
	}
	w := p.Workload()

	start := time.Now()
	ct, err := p.Acquire(ctx, tenantID)
	metrics.RecordAcquire(poolID, acquireOutcome(err), time.Since(start))
	if err != nil {
		return nil, domain.Endpoints{}, err
	}

	if w.Sync != nil {
		if _, syncErr := c.coordinator.OnClaim(ctx, tenantID, ct, w.Sync, false); syncErr != nil {
			logging.Op().Warn("sync on claim failed, proceeding with claim", "tenant_id", tenantID, "pool_id", poolID, "error", syncErr)
		}
	}

	if w.Hooks != nil {
		if err := c.hookRunner.RunPostClaim(ctx, ct.ContainerID, w.Hooks); err != nil {
			if relErr := p.Release(ctx, tenantID); relErr != nil {
				logging.Op().Warn("release-after-failed-hook also failed", "tenant_id", tenantID, "pool_id", poolID, "error", relErr)
			}
			return nil, domain.Endpoints{}, err
		}
	}

	return ct, domain.Endpoints{SocketPath: ct.SocketPath}, nil
}

// Release returns tenantID's claimed container to idle, running the
// workload's pre_release hook and sync-on-release first (spec §5, §6
// release). The pre_release hook never blocks the release, per spec §7.
// The hook+sync sequence itself runs inside p.Release via the pool's
// BeforeRelease hook (wired in New), the same path a file-idle
// auto-release goes through.
func (c *Core) Release(ctx context.Context, tenantID string) error {
	p, err := c.Registry.GetPoolForTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	return p.Release(ctx, tenantID)
}

// DestroyContainer force-destroys one container in poolID (spec §6
// destroyContainer), used by the admin surface to evict a misbehaving
// container regardless of its current claim state.
func (c *Core) DestroyContainer(ctx context.Context, poolID, containerID string) error {
	return c.Registry.DestroyContainer(ctx, poolID, containerID)
}

// TriggerSync runs an on-demand sync for tenantID's claimed container
// (spec §6 triggerSync). direction is "upload", "download", or "" (both).
func (c *Core) TriggerSync(ctx context.Context, tenantID, direction string) ([]domain.SyncResult, error) {
	p, err := c.Registry.GetPoolForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	w := p.Workload()
	if w.Sync == nil {
		return nil, boilerr.ErrSyncNotConfigured
	}
	ct, ok := p.GetContainerForTenant(tenantID)
	if !ok {
		return nil, boilerr.ErrTenantNotClaimed
	}
	return c.coordinator.TriggerSync(ctx, tenantID, ct, w.Sync, direction)
}

// TenantStatus aggregates a tenant's claim and sync state for the
// getTenantStatus read path (spec §6: {status ∈ {warm, cold, provisioning,
// releasing}, syncStatus?}).
type TenantStatus struct {
	Status    domain.TenantStatusKind
	Container *domain.PoolContainer
	Sync      []*domain.SyncStatus
}

// GetTenantStatus returns tenantID's current claim and sync status (spec
// §6 getTenantStatus). A tenant with no claim is reported as "cold" rather
// than an error — getTenantStatus names no principal errors.
func (c *Core) GetTenantStatus(ctx context.Context, tenantID string) (*TenantStatus, error) {
	statuses, err := c.Tracker.GetStatusesForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	ct, err := c.Registry.GetContainerForTenant(ctx, tenantID)
	if err != nil {
		if boilerr.KindOf(err) == boilerr.NotFound {
			return &TenantStatus{Status: domain.TenantCold, Sync: statuses}, nil
		}
		return nil, err
	}

	status := domain.TenantWarm
	if ct.Status == domain.ContainerStopping {
		status = domain.TenantReleasing
	}
	return &TenantStatus{Status: status, Container: ct, Sync: statuses}, nil
}

// Shutdown stops every pool's timers and the sync coordinator's periodic
// jobs without destroying any container (spec §5 graceful shutdown); the
// next startup's recovery pass (C9) adopts whatever the runtime still has
// running.
func (c *Core) Shutdown() {
	c.Registry.Shutdown()
	c.coordinator.Shutdown()
}

func acquireOutcome(err error) string {
	switch boilerr.KindOf(err) {
	case "":
		return "claimed"
	case boilerr.Capacity:
		return "at_capacity"
	case boilerr.Timeout:
		return "acquire_timeout"
	default:
		return "error"
	}
}

