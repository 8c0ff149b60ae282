package store

import (
	"context"

	"github.com/boilerhouse/boilerhouse/internal/domain"
)

// Store is the domain-specific persistence contract consumed by the pool
// engine (C5), pool registry (C6), sync status tracker (C7) and recovery
// (C9). Mutations that must be atomic with an in-memory state transition
// (spec §5 "write-through" policy) are exposed as single calls so callers
// never have to reach for a lower-level transaction type themselves.
type Store interface {
	Close() error
	Ping(ctx context.Context) error

	// Containers (spec §4.C1 "containers" table).
	UpsertContainer(ctx context.Context, c *domain.PoolContainer) error
	DeleteContainer(ctx context.Context, containerID string) error
	GetContainer(ctx context.Context, containerID string) (*domain.PoolContainer, error)
	ListContainersByPool(ctx context.Context, poolID string) ([]*domain.PoolContainer, error)
	GetClaimedContainerForTenant(ctx context.Context, tenantID string) (*domain.PoolContainer, error)
	CountClaimedForTenant(ctx context.Context, tenantID string) (int, error)
	ListAllContainerIDs(ctx context.Context) ([]string, error)

	// Pools (spec §4.C1 "pools" table).
	UpsertPool(ctx context.Context, p *domain.Pool) error
	DeletePool(ctx context.Context, poolID string) error
	GetPool(ctx context.Context, poolID string) (*domain.Pool, error)
	ListPools(ctx context.Context) ([]*domain.Pool, error)

	// Sync status (spec §4.C1 "sync_status" table).
	UpsertSyncStatus(ctx context.Context, s *domain.SyncStatus) error
	GetSyncStatus(ctx context.Context, tenantID, syncID string) (*domain.SyncStatus, error)
	ListSyncStatusesForTenant(ctx context.Context, tenantID string) ([]*domain.SyncStatus, error)
	ListPendingSyncStatuses(ctx context.Context) ([]*domain.SyncStatus, error)
	ListErrorSyncStatuses(ctx context.Context) ([]*domain.SyncStatus, error)
	DeleteSyncStatus(ctx context.Context, tenantID, syncID string) error
	DeleteSyncStatusesForTenant(ctx context.Context, tenantID string) error

	// Sync errors (spec §4.C1 "sync_errors" table).
	InsertSyncErrorTrimmed(ctx context.Context, e *domain.SyncError, keep int) error
	ClearSyncErrors(ctx context.Context, tenantID, syncID string) error
	ListSyncErrors(ctx context.Context, tenantID, syncID string) ([]*domain.SyncError, error)

	// Activity log (spec §4.C1 "activity_log" table).
	InsertActivityEvent(ctx context.Context, e *domain.ActivityEvent) error
	TrimActivityLog(ctx context.Context, maxEvents int) error
	ListActivityEvents(ctx context.Context, f domain.ActivityFilter) ([]*domain.ActivityEvent, error)
}

// ErrNotFound is returned by single-row Get* methods when no row matches.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "store: not found" }
