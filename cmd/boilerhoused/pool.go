package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/boilerhouse/boilerhouse/internal/containermgr"
	"github.com/boilerhouse/boilerhouse/internal/domain"
	"github.com/boilerhouse/boilerhouse/internal/runtime"
	"github.com/boilerhouse/boilerhouse/internal/spec"
	"github.com/spf13/cobra"
)

// findWorkload parses every spec file in the workloads directory looking
// for id, the same lookup the daemon does at startup against the
// in-process workload.Registry, but done here without starting one.
func findWorkload(workloadsDir, id string) (*domain.Workload, error) {
	entries, err := os.ReadDir(workloadsDir)
	if err != nil {
		return nil, fmt.Errorf("read workloads dir: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		specs, err := spec.ParseFile(filepath.Join(workloadsDir, name))
		if err != nil {
			continue
		}
		for _, ws := range specs.Workloads {
			if ws.ID != id {
				continue
			}
			return ws.Resolve()
		}
	}
	return nil, fmt.Errorf("workload %q not found in %s", id, workloadsDir)
}

// poolCreateCmd registers a new pool row directly in the store. The
// running daemon adopts newly registered pools on its next restart's
// recovery pass (C9); there is no live control-plane RPC to push a
// created pool into an already-running process, since that surface is out
// of scope here (spec §1).
func poolCreateCmd() *cobra.Command {
	var (
		poolID     string
		workloadID string
		minIdle    int
		maxSize    int
	)

	cmd := &cobra.Command{
		Use:   "pool-create",
		Short: "Register a new pool for a workload",
		RunE: func(cmd *cobra.Command, args []string) error {
			if poolID == "" || workloadID == "" {
				return fmt.Errorf("both --id and --workload are required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			w, err := findWorkload(cfg.WorkloadsDir, workloadID)
			if err != nil {
				return err
			}

			ctx := context.Background()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			p := &domain.Pool{
				ID:               poolID,
				WorkloadID:       workloadID,
				MinIdle:          w.Pool.MinIdle,
				MaxSize:          w.Pool.MaxSize,
				IdleTimeout:      w.Pool.IdleTimeout,
				FileIdleTTL:      w.Pool.FileIdleTTL,
				Networks:         w.Pool.Networks,
				EvictionInterval: cfg.Pool.DefaultEvictionInterval,
				AcquireTimeout:   cfg.Pool.DefaultAcquireTimeout,
				CreatedAt:        time.Now(),
			}
			if cmd.Flags().Changed("min-idle") {
				p.MinIdle = minIdle
			}
			if cmd.Flags().Changed("max-size") {
				p.MaxSize = maxSize
			}

			if err := st.UpsertPool(ctx, p); err != nil {
				return err
			}
			fmt.Printf("pool %q registered for workload %q (min_idle=%d max_size=%d)\n", poolID, workloadID, p.MinIdle, p.MaxSize)
			return nil
		},
	}

	cmd.Flags().StringVar(&poolID, "id", "", "Pool ID")
	cmd.Flags().StringVar(&workloadID, "workload", "", "Workload ID")
	cmd.Flags().IntVar(&minIdle, "min-idle", 0, "Override the workload's min_idle")
	cmd.Flags().IntVar(&maxSize, "max-size", 0, "Override the workload's max_size")
	return cmd
}

// poolListCmd prints every registered pool and its current container
// count, read straight from the store.
func poolListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pool-list",
		Short: "List registered pools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			pools, err := st.ListPools(ctx)
			if err != nil {
				return err
			}
			if len(pools) == 0 {
				fmt.Println("no pools registered")
				return nil
			}
			for _, p := range pools {
				containers, err := st.ListContainersByPool(ctx, p.ID)
				if err != nil {
					return err
				}
				fmt.Printf("%-20s workload=%-20s min_idle=%d max_size=%d containers=%d\n", p.ID, p.WorkloadID, p.MinIdle, p.MaxSize, len(containers))
			}
			return nil
		},
	}
}

// poolDestroyCmd stops and removes every container belonging to poolID
// then deletes the pool row. It talks to the container runtime directly
// rather than through the pool engine, since that engine only exists
// inside a running daemon process.
func poolDestroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pool-destroy [pool-id]",
		Short: "Destroy a pool and every container in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			poolID := args[0]
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			containers, err := st.ListContainersByPool(ctx, poolID)
			if err != nil {
				return err
			}

			rt, err := runtime.NewDockerRuntime(ctx)
			if err != nil {
				return fmt.Errorf("connect to runtime: %w", err)
			}
			defer rt.Close()
			mgr := containermgr.New(containermgr.Config{
				StateBaseDir:   cfg.Runtime.StateBaseDir,
				SecretsBaseDir: cfg.Runtime.SecretsBaseDir,
				SocketBaseDir:  cfg.Runtime.SocketBaseDir,
			}, rt)

			for _, c := range containers {
				if err := mgr.Destroy(ctx, c.ContainerID); err != nil {
					fmt.Printf("warning: failed to destroy container %s: %v\n", c.ContainerID, err)
				}
				if err := st.DeleteContainer(ctx, c.ContainerID); err != nil {
					fmt.Printf("warning: failed to delete container row %s: %v\n", c.ContainerID, err)
				}
			}

			if err := st.DeletePool(ctx, poolID); err != nil {
				return err
			}
			fmt.Printf("pool %q destroyed (%d containers removed)\n", poolID, len(containers))
			return nil
		},
	}
}
