// Package metrics exposes Boilerhouse's pool and sync gauges/counters to
// Prometheus, following the registry-of-collectors shape of the reference
// codebase's internal/metrics/prometheus.go: a package-level, lazily
// initialised *Metrics wrapping a dedicated prometheus.Registry, with
// nil-guarded Record*/Set* helpers so components can call them
// unconditionally whether or not metrics were ever initialised (e.g. in
// unit tests).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps every Boilerhouse Prometheus collector.
type Metrics struct {
	registry *prometheus.Registry

	poolSize    *prometheus.GaugeVec // pool_id, state (idle/claimed/stopping/pending)
	poolMinIdle *prometheus.GaugeVec // pool_id

	acquireTotal    *prometheus.CounterVec // pool_id, result (claimed/at_capacity/acquire_timeout)
	acquireDuration *prometheus.HistogramVec

	containerCreateTotal  *prometheus.CounterVec // pool_id, result
	containerDestroyTotal *prometheus.CounterVec // pool_id

	syncOperationsTotal *prometheus.CounterVec // direction, result
	syncDuration        *prometheus.HistogramVec
	syncPending         prometheus.Gauge
	syncErrorTenants    prometheus.Gauge

	activityEventsTotal *prometheus.CounterVec // event_type
}

var defaultDurationBuckets = []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

var global *Metrics

// InitPrometheus builds the Prometheus registry under namespace and
// installs it as the process-wide metrics sink. Call once at daemon
// startup; uninitialised, every Record*/Set* call below is a no-op.
func InitPrometheus(namespace string) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		poolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_containers",
			Help:      "Current container count per pool by state",
		}, []string{"pool_id", "state"}),

		poolMinIdle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_min_idle",
			Help:      "Configured minimum idle containers per pool",
		}, []string{"pool_id"}),

		acquireTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquire_total",
			Help:      "Total claim acquisitions by outcome",
		}, []string{"pool_id", "result"}),

		acquireDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "acquire_duration_seconds",
			Help:      "Time spent resolving a claim, including any pending-queue wait",
			Buckets:   defaultDurationBuckets,
		}, []string{"pool_id"}),

		containerCreateTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "container_create_total",
			Help:      "Total container creations by outcome",
		}, []string{"pool_id", "result"}),

		containerDestroyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "container_destroy_total",
			Help:      "Total container destructions",
		}, []string{"pool_id"}),

		syncOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_operations_total",
			Help:      "Total sync mapping executions by direction and outcome",
		}, []string{"direction", "result"}),

		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of one sync mapping execution",
			Buckets:   defaultDurationBuckets,
		}, []string{"direction"}),

		syncPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_pending",
			Help:      "Sum of pending_count across every tracked (tenant, sync) pair",
		}),

		syncErrorTenants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_error_tenants",
			Help:      "Number of (tenant, sync) pairs currently in the error state",
		}),

		activityEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_events_total",
			Help:      "Total activity log events recorded by type",
		}, []string{"event_type"}),
	}

	registry.MustRegister(
		m.poolSize,
		m.poolMinIdle,
		m.acquireTotal,
		m.acquireDuration,
		m.containerCreateTotal,
		m.containerDestroyTotal,
		m.syncOperationsTotal,
		m.syncDuration,
		m.syncPending,
		m.syncErrorTenants,
		m.activityEventsTotal,
	)

	global = m
}

// SetPoolStats records one pool's point-in-time composition (spec §4.C5
// getStats), called after every registry.ListPoolInfo poll.
func SetPoolStats(poolID string, idle, claimed, stopping, pending, minIdle int) {
	if global == nil {
		return
	}
	global.poolSize.WithLabelValues(poolID, "idle").Set(float64(idle))
	global.poolSize.WithLabelValues(poolID, "claimed").Set(float64(claimed))
	global.poolSize.WithLabelValues(poolID, "stopping").Set(float64(stopping))
	global.poolSize.WithLabelValues(poolID, "pending").Set(float64(pending))
	global.poolMinIdle.WithLabelValues(poolID).Set(float64(minIdle))
}

// RecordAcquire records the outcome and latency of one Acquire call.
func RecordAcquire(poolID, result string, d time.Duration) {
	if global == nil {
		return
	}
	global.acquireTotal.WithLabelValues(poolID, result).Inc()
	global.acquireDuration.WithLabelValues(poolID).Observe(d.Seconds())
}

// RecordContainerCreate records one container creation attempt's outcome.
func RecordContainerCreate(poolID, result string) {
	if global == nil {
		return
	}
	global.containerCreateTotal.WithLabelValues(poolID, result).Inc()
}

// RecordContainerDestroy records one container teardown.
func RecordContainerDestroy(poolID string) {
	if global == nil {
		return
	}
	global.containerDestroyTotal.WithLabelValues(poolID).Inc()
}

// RecordSync records one sync mapping execution's outcome and duration.
func RecordSync(direction, result string, d time.Duration) {
	if global == nil {
		return
	}
	global.syncOperationsTotal.WithLabelValues(direction, result).Inc()
	global.syncDuration.WithLabelValues(direction).Observe(d.Seconds())
}

// SetSyncBacklog records the aggregate pending-count and error-tenant
// gauges, called periodically from the sync status tracker's diagnostics
// queries (GetPendingSyncs/GetErrorSyncs).
func SetSyncBacklog(totalPending, errorTenants int) {
	if global == nil {
		return
	}
	global.syncPending.Set(float64(totalPending))
	global.syncErrorTenants.Set(float64(errorTenants))
}

// RecordActivityEvent increments the activity counter for eventType.
func RecordActivityEvent(eventType string) {
	if global == nil {
		return
	}
	global.activityEventsTotal.WithLabelValues(eventType).Inc()
}

// Handler returns an HTTP handler for Prometheus scraping, or a 503
// placeholder if InitPrometheus was never called.
func Handler() http.Handler {
	if global == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(global.registry, promhttp.HandlerOpts{})
}

// Registry returns the process-wide Prometheus registry, or nil if unset.
func Registry() *prometheus.Registry {
	if global == nil {
		return nil
	}
	return global.registry
}
