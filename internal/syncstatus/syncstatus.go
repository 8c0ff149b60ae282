// Package syncstatus implements the per-(tenant, syncId) sync status
// tracker (spec §4.C7, §3 invariant 6): pendingCount/state bookkeeping and
// the bounded, most-recent-first error log that backs status queries.
package syncstatus

import (
	"context"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/boilerr"
	"github.com/boilerhouse/boilerhouse/internal/domain"
	"github.com/boilerhouse/boilerhouse/internal/store"
)

// DefaultMaxErrors is the number of most-recent sync errors retained per
// (tenant, syncId) pair (spec §4.C7).
const DefaultMaxErrors = 10

// Tracker maintains SyncStatus/SyncError rows for every tenant's sync jobs.
type Tracker struct {
	store     store.Store
	maxErrors int
}

// New constructs a Tracker. maxErrors <= 0 uses DefaultMaxErrors.
func New(st store.Store, maxErrors int) *Tracker {
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	return &Tracker{store: st, maxErrors: maxErrors}
}

// MarkStarted records that one more sync operation is in flight for
// (tenantID, syncID), incrementing pendingCount and moving state to
// syncing.
func (t *Tracker) MarkStarted(ctx context.Context, tenantID, syncID string) error {
	s, err := t.load(ctx, tenantID, syncID)
	if err != nil {
		return err
	}
	s.PendingCount++
	s.State = domain.SyncSyncing
	s.UpdatedAt = time.Now()
	return t.save(ctx, s)
}

// MarkCompleted records a successful sync, decrementing pendingCount. Once
// it reaches zero the state returns to idle, last_sync_at is stamped, and
// any retained errors for this pair are cleared (spec §4.C7, §3 invariant
// 6: a clean completion with no pending work clears the error trail).
func (t *Tracker) MarkCompleted(ctx context.Context, tenantID, syncID string) error {
	s, err := t.load(ctx, tenantID, syncID)
	if err != nil {
		return err
	}
	if s.PendingCount > 0 {
		s.PendingCount--
	}
	now := time.Now()
	s.UpdatedAt = now
	if s.PendingCount == 0 {
		s.State = domain.SyncIdle
		s.LastSyncAt = &now
		if err := t.store.ClearSyncErrors(ctx, tenantID, syncID); err != nil {
			return boilerr.Wrap(boilerr.Persistence, "clear_sync_errors_failed", err)
		}
	} else {
		s.State = domain.SyncSyncing
	}
	return t.save(ctx, s)
}

// MarkFailed records a failed sync: pendingCount decrements, state moves to
// error, and the failure is appended to the bounded error log. mapping
// identifies which configured mapping failed, if any.
func (t *Tracker) MarkFailed(ctx context.Context, tenantID, syncID, message, mapping string) error {
	s, err := t.load(ctx, tenantID, syncID)
	if err != nil {
		return err
	}
	if s.PendingCount > 0 {
		s.PendingCount--
	}
	s.State = domain.SyncStateError
	s.UpdatedAt = time.Now()
	if err := t.save(ctx, s); err != nil {
		return err
	}

	syncErr := &domain.SyncError{
		TenantID:  tenantID,
		SyncID:    syncID,
		Message:   message,
		Mapping:   mapping,
		Timestamp: time.Now(),
	}
	if err := t.store.InsertSyncErrorTrimmed(ctx, syncErr, t.maxErrors); err != nil {
		return boilerr.Wrap(boilerr.Persistence, "insert_sync_error_failed", err)
	}
	return nil
}

// GetStatus returns the tracked status for (tenantID, syncID), or
// boilerr.ErrSyncNotConfigured if no row exists yet.
func (t *Tracker) GetStatus(ctx context.Context, tenantID, syncID string) (*domain.SyncStatus, error) {
	s, err := t.store.GetSyncStatus(ctx, tenantID, syncID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, boilerr.ErrSyncNotConfigured
		}
		return nil, boilerr.Wrap(boilerr.Persistence, "get_sync_status_failed", err)
	}
	return s, nil
}

// GetStatusesForTenant returns every sync job tracked for tenantID.
func (t *Tracker) GetStatusesForTenant(ctx context.Context, tenantID string) ([]*domain.SyncStatus, error) {
	statuses, err := t.store.ListSyncStatusesForTenant(ctx, tenantID)
	if err != nil {
		return nil, boilerr.Wrap(boilerr.Persistence, "list_sync_statuses_failed", err)
	}
	return statuses, nil
}

// GetErrors returns the retained, most-recent-first error log for
// (tenantID, syncID).
func (t *Tracker) GetErrors(ctx context.Context, tenantID, syncID string) ([]*domain.SyncError, error) {
	errs, err := t.store.ListSyncErrors(ctx, tenantID, syncID)
	if err != nil {
		return nil, boilerr.Wrap(boilerr.Persistence, "list_sync_errors_failed", err)
	}
	return errs, nil
}

// ClearStatus removes tracking for a single (tenantID, syncID) pair.
func (t *Tracker) ClearStatus(ctx context.Context, tenantID, syncID string) error {
	if err := t.store.ClearSyncErrors(ctx, tenantID, syncID); err != nil {
		return boilerr.Wrap(boilerr.Persistence, "clear_sync_errors_failed", err)
	}
	if err := t.store.DeleteSyncStatus(ctx, tenantID, syncID); err != nil {
		return boilerr.Wrap(boilerr.Persistence, "delete_sync_status_failed", err)
	}
	return nil
}

// ClearTenant removes every tracked sync job for tenantID, used when a
// tenant's workload/pool is torn down (spec §9 Open Questions: sync_status
// is preserved across a single release, but garbage-collected on workload
// deregistration).
func (t *Tracker) ClearTenant(ctx context.Context, tenantID string) error {
	if err := t.store.DeleteSyncStatusesForTenant(ctx, tenantID); err != nil {
		return boilerr.Wrap(boilerr.Persistence, "delete_sync_statuses_failed", err)
	}
	return nil
}

// GetPendingSyncs returns every (tenant, syncId) pair with pendingCount > 0
// or state == syncing, used by the recovery/diagnostics surface.
func (t *Tracker) GetPendingSyncs(ctx context.Context) ([]*domain.SyncStatus, error) {
	statuses, err := t.store.ListPendingSyncStatuses(ctx)
	if err != nil {
		return nil, boilerr.Wrap(boilerr.Persistence, "list_pending_syncs_failed", err)
	}
	return statuses, nil
}

// GetErrorSyncs returns every (tenant, syncId) pair currently in the error
// state.
func (t *Tracker) GetErrorSyncs(ctx context.Context) ([]*domain.SyncStatus, error) {
	statuses, err := t.store.ListErrorSyncStatuses(ctx)
	if err != nil {
		return nil, boilerr.Wrap(boilerr.Persistence, "list_error_syncs_failed", err)
	}
	return statuses, nil
}

// HasSyncedBefore reports whether (tenantID, syncID) has ever completed a
// sync, used by the sync coordinator (C8) to decide whether a claim's
// initial sync may skip the download leg (Design Notes "first-claim
// skip-download").
func (t *Tracker) HasSyncedBefore(ctx context.Context, tenantID, syncID string) (bool, error) {
	s, err := t.store.GetSyncStatus(ctx, tenantID, syncID)
	if err != nil {
		if err == store.ErrNotFound {
			return false, nil
		}
		return false, boilerr.Wrap(boilerr.Persistence, "get_sync_status_failed", err)
	}
	return s.LastSyncAt != nil, nil
}

func (t *Tracker) load(ctx context.Context, tenantID, syncID string) (*domain.SyncStatus, error) {
	s, err := t.store.GetSyncStatus(ctx, tenantID, syncID)
	if err == nil {
		return s, nil
	}
	if err != store.ErrNotFound {
		return nil, boilerr.Wrap(boilerr.Persistence, "get_sync_status_failed", err)
	}
	return &domain.SyncStatus{
		TenantID: tenantID,
		SyncID:   syncID,
		State:    domain.SyncIdle,
	}, nil
}

func (t *Tracker) save(ctx context.Context, s *domain.SyncStatus) error {
	if err := t.store.UpsertSyncStatus(ctx, s); err != nil {
		return boilerr.Wrap(boilerr.Persistence, "upsert_sync_status_failed", err)
	}
	return nil
}
