package synccoord

import (
	"context"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/domain"
	"github.com/boilerhouse/boilerhouse/internal/logging"
)

// periodicJob runs one tenant's upload-side sync on a fixed-period ticker
// (spec §4.C8.2): one job per tenant, never per mapping, and downloads are
// never performed by a periodic tick (they are anchored to claim only).
type periodicJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (c *Coordinator) schedulePeriodic(tenantID string, container *domain.PoolContainer, cfg *domain.SyncConfig) {
	if cfg.Policy.Interval == nil {
		return
	}
	interval := *cfg.Policy.Interval
	if interval < c.cfg.MinSyncInterval {
		interval = c.cfg.MinSyncInterval
	}

	c.stopPeriodic(tenantID)

	ctx, cancel := context.WithCancel(context.Background())
	j := &periodicJob{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.jobs[tenantID] = j
	c.mu.Unlock()

	sid := syncID(cfg)
	go func() {
		defer close(j.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				uploads := filterMappings(cfg.Mappings, domain.DirectionUpload, domain.DirectionBidirectional)
				if _, err := c.runSequential(ctx, tenantID, sid, container, cfg.Sink, uploads, false); err != nil {
					logging.Op().Warn("periodic sync failed", "tenant_id", tenantID, "error", err)
				}
			}
		}
	}()
}

func (c *Coordinator) stopPeriodic(tenantID string) {
	c.mu.Lock()
	j, ok := c.jobs[tenantID]
	if ok {
		delete(c.jobs, tenantID)
	}
	c.mu.Unlock()
	if ok {
		j.stop()
	}
}

func (j *periodicJob) stop() {
	j.cancel()
	<-j.done
}
