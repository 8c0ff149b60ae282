// Package activity implements the activity log (spec §4.C10): an
// append-only, bounded stream of domain events (claims, releases,
// destroys, sync outcomes) for operator visibility, persisted through C1
// and trimmed to the most recent maxEvents every ~100 inserts per spec
// §4.C10. There is no direct teacher analogue for a ring-buffered event
// log (oriys-nova has no activity log); this package's shape is grounded
// on spec §4.C10 itself plus the store's transactional trim primitive
// (internal/store's TrimActivityLog, mirroring the SaveFunction-style
// upsert idiom used throughout internal/store).
package activity

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/boilerr"
	"github.com/boilerhouse/boilerhouse/internal/domain"
	"github.com/boilerhouse/boilerhouse/internal/metrics"
	"github.com/boilerhouse/boilerhouse/internal/store"
)

// DefaultMaxEvents is the retained event count when Config.MaxEvents is
// unset (spec §3 "trimmed to K most recent (default 1000)").
const DefaultMaxEvents = 1000

// trimEvery matches spec §4.C10's "every ~100 inserts, trim" cadence.
const trimEvery = 100

// Log is the activity log: a thin, store-backed ring buffer.
type Log struct {
	store     store.Store
	maxEvents int
	inserts   atomic.Uint64
}

// New constructs a Log. maxEvents <= 0 uses DefaultMaxEvents.
func New(st store.Store, maxEvents int) *Log {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &Log{store: st, maxEvents: maxEvents}
}

// Event-type constants named by the domain flows that append to the log;
// the dashboard (out of scope, spec §1) filters on these.
const (
	EventPoolCreated      = "pool_created"
	EventPoolDestroyed    = "pool_destroyed"
	EventContainerCreated = "container_created"
	EventContainerDestroyed = "container_destroyed"
	EventClaimed          = "claimed"
	EventReleased         = "released"
	EventAutoReleased     = "auto_released"
	EventSyncSucceeded    = "sync_succeeded"
	EventSyncFailed       = "sync_failed"
)

// Save appends entry, stamping its timestamp if unset, and trims the log
// to maxEvents roughly every trimEvery inserts (spec §4.C10).
func (l *Log) Save(ctx context.Context, entry domain.ActivityEvent) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if err := l.store.InsertActivityEvent(ctx, &entry); err != nil {
		return boilerr.Wrap(boilerr.Persistence, "insert_activity_event_failed", err)
	}
	metrics.RecordActivityEvent(entry.EventType)

	if l.inserts.Add(1)%trimEvery == 0 {
		if err := l.store.TrimActivityLog(ctx, l.maxEvents); err != nil {
			return boilerr.Wrap(boilerr.Persistence, "trim_activity_log_failed", err)
		}
	}
	return nil
}

// List returns events matching f, most recent first (spec §4.C10 readers
// accept limit/offset and optional filters by type/tenant/pool/container).
func (l *Log) List(ctx context.Context, f domain.ActivityFilter) ([]*domain.ActivityEvent, error) {
	events, err := l.store.ListActivityEvents(ctx, f)
	if err != nil {
		return nil, boilerr.Wrap(boilerr.Persistence, "list_activity_events_failed", err)
	}
	return events, nil
}
