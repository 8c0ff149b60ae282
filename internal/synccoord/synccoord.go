// Package synccoord implements the sync coordinator (spec §4.C8):
// orchestrates copy operations around claim/release and a per-tenant
// periodic job, through a bounded-concurrency FIFO gate, classifying
// executor failures per spec §4.C8.3.
package synccoord

import (
	"context"
	"sync"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/copyexec"
	"github.com/boilerhouse/boilerhouse/internal/domain"
	"github.com/boilerhouse/boilerhouse/internal/logging"
	"github.com/boilerhouse/boilerhouse/internal/syncstatus"
)

// DefaultMinSyncInterval is the floor below which a workload's configured
// sync interval is clamped (spec §4.C8).
const DefaultMinSyncInterval = 30 * time.Second

// DefaultMaxConcurrent bounds in-flight copy operations across the whole
// process (spec §4.C8).
const DefaultMaxConcurrent = 5

// Config tunes the coordinator's shared limits.
type Config struct {
	MinSyncInterval time.Duration
	MaxConcurrent   int
}

func (c Config) withDefaults() Config {
	if c.MinSyncInterval <= 0 {
		c.MinSyncInterval = DefaultMinSyncInterval
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	return c
}

// Coordinator implements onClaim/onRelease/triggerSync against an Executor
// (C3), tracking status via a syncstatus.Tracker (C7).
type Coordinator struct {
	cfg      Config
	executor copyexec.Executor
	tracker  *syncstatus.Tracker

	gate *gate

	mu          sync.Mutex
	jobs        map[string]*periodicJob // tenantID -> running periodic job
	needsResync map[string]bool        // tenantID+sid -> next download must force initialSync
}

// New constructs a Coordinator.
func New(cfg Config, executor copyexec.Executor, tracker *syncstatus.Tracker) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		cfg:         cfg,
		executor:    executor,
		tracker:     tracker,
		gate:        newGate(cfg.MaxConcurrent),
		jobs:        make(map[string]*periodicJob),
		needsResync: make(map[string]bool),
	}
}

// resyncKey keys the needsResync set by (tenantID, sid) pair.
func resyncKey(tenantID, sid string) string {
	return tenantID + "\x00" + sid
}

// markNeedsResync records that the next download-leg sync for (tenantID,
// sid) must run with initialSync=true, set when a mapping's failure
// classifies as copyexec.ClassBisyncResyncRequired (spec §4.C8.3, §8
// recovery scenario: "the next download marked with initialSync=true").
func (c *Coordinator) markNeedsResync(tenantID, sid string) {
	c.mu.Lock()
	c.needsResync[resyncKey(tenantID, sid)] = true
	c.mu.Unlock()
}

// consumeNeedsResync reports and clears whether (tenantID, sid) was flagged
// for a forced resync, consumed by the next OnClaim download leg.
func (c *Coordinator) consumeNeedsResync(tenantID, sid string) bool {
	key := resyncKey(tenantID, sid)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.needsResync[key] {
		delete(c.needsResync, key)
		return true
	}
	return false
}

// syncID derives the syncstatus key from a workload's sync config.
// Boilerhouse tracks a single sync config per workload, so the sink's own
// type tag plus its bucket/prefix make a stable ID without introducing a
// second persisted identifier.
func syncID(cfg *domain.SyncConfig) string {
	if cfg == nil {
		return ""
	}
	return cfg.Sink.Type + ":" + cfg.Sink.Bucket + ":" + cfg.Sink.Prefix
}

// OnClaim executes configured download-side mappings for a freshly claimed
// container and schedules its periodic job, per spec §4.C8 onClaim.
func (c *Coordinator) OnClaim(ctx context.Context, tenantID string, container *domain.PoolContainer, cfg *domain.SyncConfig, initialSync bool) ([]domain.SyncResult, error) {
	if cfg == nil || !cfg.Policy.ClaimEnabled() {
		return nil, nil
	}
	sid := syncID(cfg)

	effectiveInitial := initialSync
	if !initialSync {
		synced, err := c.tracker.HasSyncedBefore(ctx, tenantID, sid)
		if err != nil {
			return nil, err
		}
		if !synced {
			// First-claim guard: nothing remote yet, skip downloads.
			c.schedulePeriodic(tenantID, container, cfg)
			return nil, nil
		}
		if c.consumeNeedsResync(tenantID, sid) {
			effectiveInitial = true
		}
	}

	downloads := filterMappings(cfg.Mappings, domain.DirectionDownload, domain.DirectionBidirectional)
	results, err := c.runSequential(ctx, tenantID, sid, container, cfg.Sink, downloads, effectiveInitial)

	c.schedulePeriodic(tenantID, container, cfg)
	return results, err
}

// OnRelease stops the tenant's periodic job and executes upload-side
// mappings, per spec §4.C8 onRelease. Sync status is intentionally not
// cleared here (spec §9 preserves hasSyncedBefore across a release).
func (c *Coordinator) OnRelease(ctx context.Context, tenantID string, container *domain.PoolContainer, cfg *domain.SyncConfig) ([]domain.SyncResult, error) {
	c.stopPeriodic(tenantID)

	if cfg == nil || !cfg.Policy.ReleaseEnabled() {
		return nil, nil
	}
	sid := syncID(cfg)
	uploads := filterMappings(cfg.Mappings, domain.DirectionUpload, domain.DirectionBidirectional)
	return c.runSequential(ctx, tenantID, sid, container, cfg.Sink, uploads, false)
}

// TriggerSync executes mappings matching direction on demand, per spec
// §4.C8 triggerSync. direction == "" means "both".
func (c *Coordinator) TriggerSync(ctx context.Context, tenantID string, container *domain.PoolContainer, cfg *domain.SyncConfig, direction string) ([]domain.SyncResult, error) {
	if cfg == nil || !cfg.Policy.ManualEnabled() {
		return nil, nil
	}
	sid := syncID(cfg)

	var mappings []domain.Mapping
	switch direction {
	case "upload":
		mappings = filterMappings(cfg.Mappings, domain.DirectionUpload, domain.DirectionBidirectional)
	case "download":
		mappings = filterMappings(cfg.Mappings, domain.DirectionDownload, domain.DirectionBidirectional)
	default:
		mappings = cfg.Mappings
	}
	return c.runSequential(ctx, tenantID, sid, container, cfg.Sink, mappings, false)
}

// Shutdown cancels every periodic timer. In-flight copy operations are not
// cancelled (spec §5 "shutdown drains timers, does not kill running
// copies").
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	jobs := make([]*periodicJob, 0, len(c.jobs))
	for _, j := range c.jobs {
		jobs = append(jobs, j)
	}
	c.jobs = make(map[string]*periodicJob)
	c.mu.Unlock()

	for _, j := range jobs {
		j.stop()
	}
}

// runSequential executes mappings one at a time for a single container
// (spec §5 "within a single claim, sync operations... execute
// sequentially"), each passing through the concurrency gate, recording
// status via the tracker.
func (c *Coordinator) runSequential(ctx context.Context, tenantID, syncID string, container *domain.PoolContainer, sink domain.Sink, mappings []domain.Mapping, initialSync bool) ([]domain.SyncResult, error) {
	if len(mappings) == 0 {
		return nil, nil
	}

	results := make([]domain.SyncResult, 0, len(mappings))
	var firstErr error
	for _, m := range mappings {
		res, err := c.executeOne(ctx, tenantID, syncID, container, sink, m, initialSync)
		results = append(results, res)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return results, firstErr
}

func (c *Coordinator) executeOne(ctx context.Context, tenantID, sid string, container *domain.PoolContainer, sink domain.Sink, mapping domain.Mapping, initialSync bool) (domain.SyncResult, error) {
	if err := c.tracker.MarkStarted(ctx, tenantID, sid); err != nil {
		return domain.SyncResult{}, err
	}

	if err := c.gate.acquire(ctx); err != nil {
		_ = c.tracker.MarkFailed(ctx, tenantID, sid, err.Error(), mapping.ContainerPath)
		return domain.SyncResult{}, err
	}
	defer c.gate.release()

	localPath := localPathFor(container, mapping)
	result, execErr := c.executor.Sync(ctx, tenantID, mapping, sink, localPath, initialSync)
	if execErr != nil {
		_ = c.tracker.MarkFailed(ctx, tenantID, sid, execErr.Error(), mapping.ContainerPath)
		return result, execErr
	}

	if !result.Success {
		msg := "sync failed"
		if len(result.Errors) > 0 {
			msg = result.Errors[0]
		}
		class := copyexec.Classify(msg)
		if class == copyexec.ClassSourceDirectoryNotFound && initialSync {
			logging.Op().Warn("source directory not found on initial sync, treating as benign", "tenant_id", tenantID, "mapping", mapping.ContainerPath)
		} else {
			logging.Op().Warn("sync mapping failed", "tenant_id", tenantID, "mapping", mapping.ContainerPath, "class", class, "error", msg)
		}
		if class == copyexec.ClassBisyncResyncRequired {
			c.markNeedsResync(tenantID, sid)
		}
		if err := c.tracker.MarkFailed(ctx, tenantID, sid, msg, mapping.ContainerPath); err != nil {
			return result, err
		}
		return result, nil
	}

	if err := c.tracker.MarkCompleted(ctx, tenantID, sid); err != nil {
		return result, err
	}
	return result, nil
}

func filterMappings(mappings []domain.Mapping, directions ...domain.SyncDirection) []domain.Mapping {
	out := make([]domain.Mapping, 0, len(mappings))
	for _, m := range mappings {
		for _, d := range directions {
			if m.Direction == d {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

func localPathFor(container *domain.PoolContainer, mapping domain.Mapping) string {
	if container == nil {
		return mapping.ContainerPath
	}
	return container.StateDir
}
