package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/activity"
	"github.com/boilerhouse/boilerhouse/internal/containermgr"
	"github.com/boilerhouse/boilerhouse/internal/copyexec"
	"github.com/boilerhouse/boilerhouse/internal/core"
	"github.com/boilerhouse/boilerhouse/internal/hooks"
	"github.com/boilerhouse/boilerhouse/internal/logging"
	"github.com/boilerhouse/boilerhouse/internal/metrics"
	"github.com/boilerhouse/boilerhouse/internal/recovery"
	"github.com/boilerhouse/boilerhouse/internal/runtime"
	"github.com/boilerhouse/boilerhouse/internal/spec"
	"github.com/boilerhouse/boilerhouse/internal/synccoord"
	"github.com/boilerhouse/boilerhouse/internal/syncstatus"
	"github.com/boilerhouse/boilerhouse/internal/workload"
	"github.com/spf13/cobra"
)

func daemonCmd() *cobra.Command {
	var (
		logLevel    string
		metricsAddr string
		rcloneTmt   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the boilerhouse pool orchestrator",
		Long:  "Run boilerhouse as a long-running process: loads workloads, recovers pool state from the last run, pre-warms pools, and keeps each tenant's claimed container synced to remote storage.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}

			logging.SetLevelFromString(cfg.Daemon.LogLevel)
			logging.InitStructured(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)

			if cfg.MetricsAddr != "" {
				metrics.InitPrometheus("boilerhouse")
			}

			ctx := context.Background()

			st, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			rt, err := runtime.NewDockerRuntime(ctx)
			if err != nil {
				return fmt.Errorf("connect to container runtime: %w", err)
			}
			defer rt.Close()

			mgr := containermgr.New(containermgr.Config{
				StateBaseDir:          cfg.Runtime.StateBaseDir,
				SecretsBaseDir:        cfg.Runtime.SecretsBaseDir,
				SocketBaseDir:         cfg.Runtime.SocketBaseDir,
				ContainerStartTimeout: cfg.Pool.ContainerStartTimeout,
			}, rt)

			workloads, err := loadWorkloads(cfg.WorkloadsDir)
			if err != nil {
				return fmt.Errorf("load workloads: %w", err)
			}
			logging.Op().Info("loaded workloads", "count", len(workloads.List()), "dir", cfg.WorkloadsDir)

			if rcloneTmt <= 0 {
				rcloneTmt = 5 * time.Minute
			}
			executor := copyexec.NewRcloneExecutor(rcloneTmt)
			tracker := syncstatus.New(st, 0)
			coordinator := synccoord.New(synccoord.Config{
				MinSyncInterval: cfg.Sync.MinSyncInterval,
				MaxConcurrent:   cfg.Sync.MaxConcurrent,
			}, executor, tracker)

			activityLog := activity.New(st, cfg.Activity.MaxEvents)
			hookRunner := hooks.New(mgr)

			c := core.New(st, mgr, workloads, coordinator, tracker, activityLog, hookRunner, cfg.Pool)

			logging.Op().Info("running startup recovery")
			if err := recovery.Run(ctx, rt, st, c.Registry); err != nil {
				return fmt.Errorf("recovery: %w", err)
			}

			var metricsServer *http.Server
			if cfg.MetricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
				go func() {
					if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logging.Op().Error("metrics server failed", "error", err)
					}
				}()
				logging.Op().Info("metrics endpoint listening", "addr", cfg.MetricsAddr)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			ticker := time.NewTicker(10 * time.Second)
			defer ticker.Stop()

			logging.Op().Info("boilerhoused started")
			for {
				select {
				case <-sigCh:
					logging.Op().Info("shutdown signal received")
					c.Shutdown()
					if metricsServer != nil {
						shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
						metricsServer.Shutdown(shutdownCtx)
						cancel()
					}
					return nil
				case <-ticker.C:
					reportStats(ctx, c)
				}
			}
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus metrics listen address")
	cmd.Flags().DurationVar(&rcloneTmt, "rclone-timeout", 5*time.Minute, "Timeout for a single rclone invocation")
	return cmd
}

// loadWorkloads parses every *.yaml/*.yml file in dir and registers the
// resolved workloads, matching the reference codebase's directory-of-specs
// bootstrap convention (cmd/nova's applyCmd loads the same way, one file or
// directory at a time).
func loadWorkloads(dir string) (*workload.Registry, error) {
	reg := workload.New()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		specs, err := spec.ParseFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		for _, ws := range specs.Workloads {
			w, err := ws.Resolve()
			if err != nil {
				return nil, fmt.Errorf("resolve %s: %w", ws.ID, err)
			}
			reg.Register(w)
		}
	}
	return reg, nil
}

// reportStats polls pool and sync backlog gauges, mirroring the reference
// codebase's daemon ticker that periodically logs pool stats and ensures
// pre-warm state, generalised here to also publish Prometheus gauges
// (spec §4.C5 getStats, §4.C7 getPendingCount).
func reportStats(ctx context.Context, c *core.Core) {
	for _, stats := range c.Registry.ListPoolInfo() {
		metrics.SetPoolStats(stats.PoolID, stats.Idle, stats.Claimed, stats.Stopping, stats.Pending, stats.MinIdle)
		logging.Op().Debug("pool stats", "pool_id", stats.PoolID, "idle", stats.Idle, "claimed", stats.Claimed, "pending", stats.Pending)
	}

	pending, err := c.Tracker.GetPendingSyncs(ctx)
	if err != nil {
		logging.Op().Warn("failed to list pending syncs", "error", err)
		return
	}
	errored, err := c.Tracker.GetErrorSyncs(ctx)
	if err != nil {
		logging.Op().Warn("failed to list errored syncs", "error", err)
		return
	}
	totalPending := 0
	for _, s := range pending {
		totalPending += s.PendingCount
	}
	metrics.SetSyncBacklog(totalPending, len(errored))
}
