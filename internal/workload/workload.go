// Package workload owns the in-process set of registered Workloads, the
// declarative container definitions pools are built from (spec §3, §6).
// Workload registration is file/environment driven and explicitly an
// external collaborator's concern per spec §1 ("configuration loading
// from YAML... is out of scope"); this package is the thin, explicit
// in-memory registry the core wires against instead of an ambient global
// map, matching Design Notes' "Global mutable singletons" guidance —
// constructed once at process init and passed by reference, grounded on
// the registry-of-domain-objects shape already used by
// internal/registry.Registry for pools.
package workload

import (
	"sync"

	"github.com/boilerhouse/boilerhouse/internal/domain"
)

// Registry is the process-wide set of registered Workloads, satisfying
// registry.WorkloadLookup for the pool registry (C6).
type Registry struct {
	mu   sync.RWMutex
	byID map[string]*domain.Workload
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byID: make(map[string]*domain.Workload)}
}

// Register adds or replaces w. Workloads are immutable after registration
// per spec §3; callers that need to change one should deregister and
// re-register under a fresh process restart's recovery pass instead of
// mutating a live Workload in place.
func (r *Registry) Register(w *domain.Workload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[w.ID] = w
}

// Remove deregisters id. Pools already built from it keep running until
// explicitly destroyed; RestoreFromDB skips pools whose workload is gone
// (spec §4.C9).
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// GetWorkload resolves id, satisfying registry.WorkloadLookup.
func (r *Registry) GetWorkload(id string) (*domain.Workload, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.byID[id]
	return w, ok
}

// List returns every registered Workload.
func (r *Registry) List() []*domain.Workload {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Workload, 0, len(r.byID))
	for _, w := range r.byID {
		out = append(out, w)
	}
	return out
}
