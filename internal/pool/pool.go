// Package pool implements the pool engine (spec §4.C5), the heart of
// Boilerhouse: per-workload warm container pools with claim/release,
// affinity-aware acquisition, idle and file-idle eviction, capacity-bounded
// acquisition with a FIFO pending queue, and min-idle pre-warming.
//
// # Concurrency model
//
// Each Pool has its own sync.Mutex guarding its in-memory view (idle list,
// claimed map, pending waiter queue), adapted from the reference codebase's
// functionPool locking discipline (internal/pool/pool.go). A pending
// acquire parks on a per-waiter result channel instead of the reference
// codebase's condition variable, since handing a freed container straight
// to the head of a FIFO queue needs no broadcast-and-recheck step. Every
// mutation that changes a PoolContainer's persisted fields is followed by a
// store upsert inside the same critical section (spec §5 write-through
// policy) — the lock is held across the store call deliberately, since the
// store call is the suspension point the spec's concurrency model expects.
//
// # Invariants enforced here
//
// idle + claimed + stopping == size; size <= maxSize; idleExpiresAt is set
// iff status == idle (or, for a claimed container, iff fileIdleTtl is
// configured); at most one claimed container per tenant per pool.
package pool

import (
	"container/list"
	"context"
	"sync"

	"github.com/boilerhouse/boilerhouse/internal/boilerr"
	"github.com/boilerhouse/boilerhouse/internal/containermgr"
	"github.com/boilerhouse/boilerhouse/internal/domain"
	"github.com/boilerhouse/boilerhouse/internal/logging"
	"github.com/boilerhouse/boilerhouse/internal/store"
)

// Hooks lets the owning registry (C6) observe lifecycle events without the
// pool engine importing the sync coordinator or activity log directly.
type Hooks struct {
	// OnClaimed is invoked with the pool lock released, after a container
	// transitions to claimed and before Acquire returns.
	OnClaimed func(tenantID string, c *domain.PoolContainer)
	// BeforeRelease is invoked with the pool lock released, before a claimed
	// container transitions away from the tenant, for both an external
	// release and a file-idle auto-release (spec §4.C5.3, §9: auto-release
	// must go through the same onRelease path, including sync). auto
	// distinguishes the two only for logging/event-type purposes. c is the
	// still-claimed snapshot.
	BeforeRelease func(ctx context.Context, tenantID string, c *domain.PoolContainer, auto bool)
	// OnReleased is invoked after a container transitions to idle (or is
	// handed directly to a pending waiter). auto is true when the release
	// was triggered by the eviction sweep's file-idle check rather than an
	// explicit release call.
	OnReleased func(tenantID string, c *domain.PoolContainer, auto bool)
	// OnDestroyed is invoked after a container is torn down.
	OnDestroyed func(c *domain.PoolContainer)
}

// entry is the in-memory record for one container; entry.container is the
// authoritative in-memory view, mutated only while holding Pool.mu.
type entry struct {
	container *domain.PoolContainer
	idleElem  *list.Element // position in the idle list, nil if not idle
}

// waiter is one pending acquire, parked on the FIFO queue when the pool is
// at capacity.
type waiter struct {
	tenantID string
	done     chan acquireResult
}

type acquireResult struct {
	container *domain.PoolContainer
	err       error
}

// Pool is one warm container pool for a single Workload.
type Pool struct {
	id       string
	workload *domain.Workload
	cfg      domain.Pool

	mgr   *containermgr.Manager
	store store.Store
	hooks Hooks

	mu       sync.Mutex
	entries  map[string]*entry   // containerID -> entry
	idle     *list.List          // list of containerID, front = least-recently-released (FIFO pick)
	claimed  map[string]string   // tenantID -> containerID
	pending  *list.List          // list of *waiter, FIFO
	size     int
	lastErr  string
	closing  bool

	stopEviction context.CancelFunc
}

// New constructs a Pool; callers must call Start to begin pre-warming and
// the eviction sweep.
func New(id string, workload *domain.Workload, cfg domain.Pool, mgr *containermgr.Manager, st store.Store, hooks Hooks) *Pool {
	p := &Pool{
		id:       id,
		workload: workload,
		cfg:      cfg,
		mgr:      mgr,
		store:    st,
		hooks:    hooks,
		entries:  make(map[string]*entry),
		idle:     list.New(),
		claimed:  make(map[string]string),
		pending:  list.New(),
	}
	return p
}

// ID returns the pool's identity.
func (p *Pool) ID() string { return p.id }

// Workload returns the Workload this pool's containers are built from.
func (p *Pool) Workload() *domain.Workload { return p.workload }

// Adopt registers an already-existing container (used by restoreFromDb and
// by pre-warm/scale-on-demand after creation) into the in-memory view
// without touching the store; callers that need the row persisted must
// upsert separately.
func (p *Pool) Adopt(c *domain.PoolContainer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adoptLocked(c)
}

func (p *Pool) adoptLocked(c *domain.PoolContainer) {
	e := &entry{container: c}
	p.entries[c.ContainerID] = e
	p.size++
	switch c.Status {
	case domain.ContainerIdle:
		e.idleElem = p.idle.PushBack(c.ContainerID)
	case domain.ContainerClaimed:
		p.claimed[c.TenantID] = c.ContainerID
	}
}

// Stats reports the pool's current composition (spec §4.C5 getStats).
func (p *Pool) Stats() domain.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := domain.PoolStats{
		PoolID:  p.id,
		MaxSize: p.cfg.MaxSize,
		MinIdle: p.cfg.MinIdle,
		Size:    p.size,
		Pending: p.pending.Len(),
		LastError: p.lastErr,
	}
	for _, e := range p.entries {
		switch e.container.Status {
		case domain.ContainerIdle:
			stats.Idle++
		case domain.ContainerClaimed:
			stats.Claimed++
		case domain.ContainerStopping:
			stats.Stopping++
		}
	}
	return stats
}

// GetLastError returns the most recent pre-warm/eviction error observed,
// for diagnostics (spec §4.C5.4).
func (p *Pool) GetLastError() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Pool) setLastErrLocked(err error) {
	if err != nil {
		p.lastErr = err.Error()
		logging.Op().Warn("pool error", "pool_id", p.id, "error", err)
	}
}

// GetContainerForTenant returns the claimed container for tenantID, if any.
func (p *Pool) GetContainerForTenant(tenantID string) (*domain.PoolContainer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.claimed[tenantID]
	if !ok {
		return nil, false
	}
	return p.entries[id].container.Clone(), true
}

// GetAllContainers returns a snapshot of every container in the pool.
func (p *Pool) GetAllContainers() []*domain.PoolContainer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*domain.PoolContainer, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.container.Clone())
	}
	return out
}

// GetTenantsWithClaims returns every tenant currently holding a claim.
func (p *Pool) GetTenantsWithClaims() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.claimed))
	for t := range p.claimed {
		out = append(out, t)
	}
	return out
}

func (p *Pool) persist(ctx context.Context, c *domain.PoolContainer) error {
	if err := p.store.UpsertContainer(ctx, c); err != nil {
		return boilerr.Wrap(boilerr.Persistence, "container_upsert_failed", err)
	}
	return nil
}
