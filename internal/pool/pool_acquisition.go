// pool_acquisition.go implements the acquire/release hot path: spec
// §4.C5.1 (acquire algorithm) and §4.C5.2 (release algorithm), adapted
// from the reference codebase's acquireGeneric admission-control loop
// (internal/pool/pool_acquisition.go) — fast-path reuse, scale-on-demand,
// then FIFO queueing on capacity — retargeted from VM-reuse-by-config to
// container-claimed-by-tenant-with-affinity.
package pool

import (
	"container/list"
	"context"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/boilerr"
	"github.com/boilerhouse/boilerhouse/internal/domain"
)

// Acquire resolves a claimed container for tenantID, per spec §4.C5.1.
func (p *Pool) Acquire(ctx context.Context, tenantID string) (*domain.PoolContainer, error) {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return nil, boilerr.Errorf(boilerr.Configuration, "pool_stopped", "pool %s is stopped", p.id)
	}

	// Step 1: idempotency — an existing claim for T in this pool wins outright.
	if id, ok := p.claimed[tenantID]; ok {
		e := p.entries[id]
		e.container.LastActivity = time.Now()
		c := e.container.Clone()
		p.mu.Unlock()
		if err := p.persist(ctx, c); err != nil {
			return nil, err
		}
		return c, nil
	}

	// Steps 2-3: affinity-preferred idle pick, else FIFO fallback pick.
	if id, ok := p.pickIdleLocked(tenantID); ok {
		c, err := p.claimLocked(id, tenantID)
		p.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if err := p.persist(ctx, c); err != nil {
			return nil, err
		}
		if p.hooks.OnClaimed != nil {
			p.hooks.OnClaimed(tenantID, c)
		}
		return c, nil
	}

	// Step 4: scale on demand.
	if p.size < p.cfg.MaxSize {
		p.size++ // reserve the slot so concurrent acquires don't over-scale
		p.mu.Unlock()
		c, err := p.createAndClaim(ctx, tenantID)
		if err != nil {
			p.mu.Lock()
			p.size--
			p.setLastErrLocked(err)
			p.mu.Unlock()
			return nil, err
		}
		if p.hooks.OnClaimed != nil {
			p.hooks.OnClaimed(tenantID, c)
		}
		return c, nil
	}

	// Step 5: capacity reached — enqueue and wait FIFO for a free slot.
	w := &waiter{tenantID: tenantID, done: make(chan acquireResult, 1)}
	elem := p.pending.PushBack(w)
	timeout := p.cfg.AcquireTimeout
	p.mu.Unlock()

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case res := <-w.done:
		if res.err != nil {
			return nil, res.err
		}
		if p.hooks.OnClaimed != nil {
			p.hooks.OnClaimed(tenantID, res.container)
		}
		return res.container, nil
	case <-timerC:
		p.removeWaiterLocked(elem)
		return nil, boilerr.ErrAcquireTimeout
	case <-ctx.Done():
		p.removeWaiterLocked(elem)
		return nil, ctx.Err()
	}
}

func (p *Pool) removeWaiterLocked(elem *list.Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending.Remove(elem)
}

// pickIdleLocked implements the affinity-preferred, FIFO-fallback pick of
// spec §4.C5.1 steps 2-3. Must be called with p.mu held.
func (p *Pool) pickIdleLocked(tenantID string) (string, bool) {
	// Affinity: among idle containers with lastTenantId == T, the most
	// recently released one. Released containers are pushed to the back
	// of the idle list, so scan back-to-front for the newest match.
	for elem := p.idle.Back(); elem != nil; elem = elem.Prev() {
		id := elem.Value.(string)
		if p.entries[id].container.LastTenantID == tenantID {
			p.idle.Remove(elem)
			p.entries[id].idleElem = nil
			return id, true
		}
	}
	// Fallback: least-recently-released idle container (front of the list).
	if front := p.idle.Front(); front != nil {
		id := front.Value.(string)
		p.idle.Remove(front)
		p.entries[id].idleElem = nil
		return id, true
	}
	return "", false
}

// claimLocked transitions an idle container to claimed and checks the
// post-claim invariant (spec §4.C5.1 step 7). Must be called with p.mu held.
func (p *Pool) claimLocked(containerID, tenantID string) (*domain.PoolContainer, error) {
	e := p.entries[containerID]
	now := time.Now()
	e.container.Status = domain.ContainerClaimed
	e.container.TenantID = tenantID
	e.container.ClaimedAt = &now
	e.container.LastActivity = now
	if p.cfg.FileIdleTTL > 0 {
		deadline := now.Add(p.cfg.FileIdleTTL)
		e.container.IdleExpiresAt = &deadline
	} else {
		e.container.IdleExpiresAt = nil
	}
	p.claimed[tenantID] = containerID

	claims := 0
	for t, id := range p.claimed {
		if t == tenantID && id == containerID {
			claims++
		}
	}
	if claims != 1 {
		return nil, boilerr.ErrInvariantViolation
	}
	return e.container.Clone(), nil
}

// createAndClaim creates a new container (I/O, performed without the pool
// lock held) and claims it for tenantID, registering it in the in-memory
// view and persisting the claimed row in one critical section.
func (p *Pool) createAndClaim(ctx context.Context, tenantID string) (*domain.PoolContainer, error) {
	c, err := p.mgr.Create(ctx, p.id, p.workload)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.adoptLocked(c)
	p.size-- // every caller already reserved this container's slot
	claimed, err := p.claimLocked(c.ContainerID, tenantID)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := p.persist(ctx, claimed); err != nil {
		return nil, err
	}
	return claimed, nil
}

// Release returns tenantID's claimed container to idle (or hands it
// directly to the head of the pending queue), per spec §4.C5.2.
func (p *Pool) Release(ctx context.Context, tenantID string) error {
	return p.release(ctx, tenantID, false)
}

// autoRelease is Release's file-idle counterpart, run by the eviction
// sweep (spec §4.C5.3) for containers past their fileIdleTtl. It goes
// through the exact same path as an external release, including
// BeforeRelease (sync-on-release), so auto-release is "equivalent to an
// external release with sync=true" (spec §4.C5.3, §9).
func (p *Pool) autoRelease(ctx context.Context, tenantID string) error {
	return p.release(ctx, tenantID, true)
}

func (p *Pool) release(ctx context.Context, tenantID string, auto bool) error {
	p.mu.Lock()
	id, ok := p.claimed[tenantID]
	if !ok {
		p.mu.Unlock()
		return boilerr.ErrTenantNotClaimed
	}
	snapshot := p.entries[id].container.Clone()
	p.mu.Unlock()

	if p.hooks.BeforeRelease != nil {
		p.hooks.BeforeRelease(ctx, tenantID, snapshot, auto)
	}

	p.mu.Lock()
	id2, ok := p.claimed[tenantID]
	if !ok || id2 != id {
		p.mu.Unlock()
		return boilerr.ErrTenantNotClaimed
	}
	delete(p.claimed, tenantID)
	e := p.entries[id]
	now := time.Now()
	e.container.TenantID = ""
	e.container.LastTenantID = tenantID
	e.container.LastActivity = now
	released := e.container.Clone()

	if front := p.pending.Front(); front != nil {
		w := p.pending.Remove(front).(*waiter)
		claimed, err := p.claimLocked(id, w.tenantID)
		p.mu.Unlock()
		var perr error
		if err != nil {
			perr = p.persist(ctx, released)
			w.done <- acquireResult{err: err}
		} else {
			perr = p.persist(ctx, claimed)
			w.done <- acquireResult{container: claimed, err: perr}
		}
		if p.hooks.OnReleased != nil {
			p.hooks.OnReleased(tenantID, released, auto)
		}
		return perr
	}

	e.container.Status = domain.ContainerIdle
	e.container.ClaimedAt = nil
	deadline := now.Add(p.idleTimeout())
	e.container.IdleExpiresAt = &deadline
	e.idleElem = p.idle.PushBack(id)
	c := e.container.Clone()
	p.mu.Unlock()

	if err := p.persist(ctx, c); err != nil {
		return err
	}
	if p.hooks.OnReleased != nil {
		p.hooks.OnReleased(tenantID, c, auto)
	}
	return nil
}
