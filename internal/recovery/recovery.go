// Package recovery implements the startup reconciliation pass (spec
// §4.C9): the runtime is the single source of truth for container
// existence, and the persistent store and pool registry are brought back
// in line with it before any request is served.
package recovery

import (
	"context"

	"github.com/boilerhouse/boilerhouse/internal/boilerr"
	"github.com/boilerhouse/boilerhouse/internal/logging"
	"github.com/boilerhouse/boilerhouse/internal/registry"
	"github.com/boilerhouse/boilerhouse/internal/runtime"
	"github.com/boilerhouse/boilerhouse/internal/store"
)

// Run performs the five-step recovery algorithm of spec §4.C9:
//  1. List containers via the runtime adapter filtered to managed ones.
//  2. Remove every non-running managed container (idempotent).
//  3. Build the set of running managed container IDs from their
//     boilerhouse.container-id label.
//  4. Delete store rows not in that set.
//  5. Let the registry restore pools from the store, skipping workloads
//     that are no longer registered; each restored pool's Start drives
//     pre-warm.
func Run(ctx context.Context, rt runtime.Runtime, st store.Store, reg *registry.Registry) error {
	managed, err := rt.ListManaged(ctx)
	if err != nil {
		return boilerr.Wrap(boilerr.Runtime, "list_managed_failed", err)
	}

	running := make(map[string]struct{}, len(managed))
	for _, mc := range managed {
		if !mc.Running {
			if err := rt.RemoveContainer(ctx, mc.ID); err != nil {
				logging.Op().Warn("recovery: failed to remove stopped managed container", "runtime_id", mc.ID, "error", err)
			}
			continue
		}
		domainID, ok := mc.Labels[runtime.LabelContainerID]
		if !ok {
			// A managed container without our domain-id label predates
			// this reconciliation contract or was created out-of-band;
			// leave it running but untracked rather than destroy
			// something we can't account for.
			continue
		}
		running[domainID] = struct{}{}
	}

	ids, err := st.ListAllContainerIDs(ctx)
	if err != nil {
		return boilerr.Wrap(boilerr.Persistence, "list_container_ids_failed", err)
	}
	for _, id := range ids {
		if _, ok := running[id]; ok {
			continue
		}
		if err := st.DeleteContainer(ctx, id); err != nil {
			logging.Op().Warn("recovery: failed to delete orphaned container row", "container_id", id, "error", err)
		}
	}

	if err := reg.RestoreFromDB(ctx); err != nil {
		return boilerr.Wrap(boilerr.Persistence, "restore_from_db_failed", err)
	}
	return nil
}
