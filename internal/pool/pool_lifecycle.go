// pool_lifecycle.go implements start/stop/drain, the eviction sweep (spec
// §4.C5.3) and pre-warm (spec §4.C5.4), adapted from the reference
// codebase's cleanupLoop/EnsureReady bounded-parallelism pre-warm shape
// (internal/pool/pool_lifecycle.go).
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/logging"
	"github.com/boilerhouse/boilerhouse/internal/metrics"
)

const maxPreWarmWorkers = 4

// Start begins the pre-warm pass and the periodic eviction sweep.
func (p *Pool) Start(ctx context.Context) {
	evictionCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.stopEviction = cancel
	p.mu.Unlock()

	p.preWarm(ctx)

	interval := p.cfg.EvictionInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go p.evictionLoop(evictionCtx, interval)
}

// Stop cancels the eviction timer. It does not destroy any container —
// recovery (C9) will adopt them on the next startup.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopEviction != nil {
		p.stopEviction()
	}
	p.closing = true
	p.mu.Unlock()
}

// Drain destroys every container and clears the pool's state.
func (p *Pool) Drain(ctx context.Context) {
	p.Stop()
	p.mu.Lock()
	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.DestroyContainer(ctx, id)
	}
}

// DestroyContainer force-destroys containerID regardless of its current
// status, used by the registry's destroyContainer entry point and by the
// eviction sweep.
func (p *Pool) DestroyContainer(ctx context.Context, containerID string) {
	p.mu.Lock()
	e, ok := p.entries[containerID]
	if !ok {
		p.mu.Unlock()
		return
	}
	if e.idleElem != nil {
		p.idle.Remove(e.idleElem)
	}
	for t, id := range p.claimed {
		if id == containerID {
			delete(p.claimed, t)
		}
	}
	delete(p.entries, containerID)
	p.size--
	p.mu.Unlock()

	p.mgr.Destroy(ctx, containerID)
	metrics.RecordContainerDestroy(p.id)
	if err := p.store.DeleteContainer(ctx, containerID); err != nil {
		logging.Op().Warn("failed to delete container row", "container_id", containerID, "error", err)
	}
	if p.hooks.OnDestroyed != nil {
		p.hooks.OnDestroyed(e.container.Clone())
	}

	p.mu.Lock()
	p.dispatchPendingLocked(ctx)
	p.mu.Unlock()
}

// dispatchPendingLocked hands freed capacity to the head of the pending
// queue, creating a new container if the pool still has headroom and no
// idle container is available. Must be called with p.mu held; it releases
// and reacquires the lock around the out-of-band container creation.
func (p *Pool) dispatchPendingLocked(ctx context.Context) {
	front := p.pending.Front()
	if front == nil {
		return
	}
	w := front.Value.(*waiter)

	if id, ok := p.pickIdleLocked(w.tenantID); ok {
		p.pending.Remove(front)
		claimed, err := p.claimLocked(id, w.tenantID)
		p.mu.Unlock()
		if err == nil {
			err = p.persist(ctx, claimed)
		}
		w.done <- acquireResult{container: claimed, err: err}
		p.mu.Lock()
		return
	}

	if p.size < p.cfg.MaxSize {
		p.pending.Remove(front)
		p.size++
		p.mu.Unlock()
		go func() {
			c, err := p.createAndClaim(ctx, w.tenantID)
			w.done <- acquireResult{container: c, err: err}
			if err != nil {
				p.mu.Lock()
				p.size--
				p.setLastErrLocked(err)
				p.mu.Unlock()
			}
		}()
		p.mu.Lock()
	}
}

// preWarm queues creation of max(0, minIdle-currentIdle) containers with
// bounded parallelism (spec §4.C5.4).
func (p *Pool) preWarm(ctx context.Context) {
	p.mu.Lock()
	need := p.cfg.MinIdle - p.idle.Len()
	p.mu.Unlock()
	if need <= 0 {
		return
	}
	p.createIdleContainers(ctx, need)
}

func (p *Pool) createIdleContainers(ctx context.Context, n int) {
	sem := make(chan struct{}, maxPreWarmWorkers)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			c, err := p.mgr.Create(ctx, p.id, p.workload)
			if err != nil {
				p.mu.Lock()
				p.setLastErrLocked(err)
				p.mu.Unlock()
				return
			}
			deadline := time.Now().Add(p.idleTimeout())
			c.IdleExpiresAt = &deadline
			if err := p.persist(ctx, c); err != nil {
				p.mu.Lock()
				p.setLastErrLocked(err)
				p.mu.Unlock()
				return
			}
			p.mu.Lock()
			p.adoptLocked(c)
			p.mu.Unlock()
		}()
	}
	wg.Wait()
}

func (p *Pool) evictionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep performs one eviction pass: idle-timeout destruction (respecting
// minIdle), file-idle-ttl auto-release for claimed containers, and
// min-idle topup, per spec §4.C5.3.
func (p *Pool) sweep(ctx context.Context) {
	now := time.Now()

	for {
		p.mu.Lock()
		if p.idle.Len() <= p.cfg.MinIdle {
			p.mu.Unlock()
			break
		}
		front := p.idle.Front()
		id := front.Value.(string)
		c := p.entries[id].container
		expired := c.IdleExpiresAt != nil && !now.Before(*c.IdleExpiresAt)
		p.mu.Unlock()
		if !expired {
			break
		}
		p.DestroyContainer(ctx, id)
	}

	for _, tenantID := range p.autoReleaseCandidates(now) {
		if err := p.autoRelease(ctx, tenantID); err != nil {
			logging.Op().Warn("auto-release failed", "pool_id", p.id, "tenant_id", tenantID, "error", err)
		}
	}

	p.mu.Lock()
	need := p.cfg.MinIdle - p.idle.Len()
	p.mu.Unlock()
	if need > 0 {
		p.createIdleContainers(ctx, need)
	}
}

func (p *Pool) autoReleaseCandidates(now time.Time) []string {
	if p.cfg.FileIdleTTL <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var tenants []string
	for tenantID, id := range p.claimed {
		c := p.entries[id].container
		if now.Sub(c.LastActivity) >= p.cfg.FileIdleTTL {
			tenants = append(tenants, tenantID)
		}
	}
	return tenants
}

func (p *Pool) idleTimeout() time.Duration {
	if p.cfg.IdleTimeout > 0 {
		return p.cfg.IdleTimeout
	}
	return 5 * time.Minute
}
