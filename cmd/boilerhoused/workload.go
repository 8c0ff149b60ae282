package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/boilerhouse/boilerhouse/internal/spec"
	"github.com/spf13/cobra"
)

// workloadApplyCmd validates a workload YAML file (or every *.yaml/*.yml in
// a directory) and copies it into the daemon's configured workloads
// directory, from which boilerhoused loads workloads at startup. Workload
// registration is file-driven (spec §1, §6), not a store-backed mutation,
// so "apply" here means "install the file the daemon will read next
// restart" rather than a live RPC against a running process.
func workloadApplyCmd() *cobra.Command {
	var filePath string

	cmd := &cobra.Command{
		Use:   "workload-apply",
		Short: "Validate and install a workload spec file",
		Long: `Validate a workload YAML file and copy it into the configured workloads
directory. Supports multiple workloads per file using YAML document
separators (---).

Example:
  boilerhoused workload-apply -f web-worker.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if filePath == "" {
				return fmt.Errorf("file path required: use -f or --file")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			specs, err := spec.ParseFile(filePath)
			if err != nil {
				return fmt.Errorf("parse %s: %w", filePath, err)
			}
			if len(specs.Workloads) == 0 {
				return fmt.Errorf("no workload documents found in %s", filePath)
			}
			for _, ws := range specs.Workloads {
				if _, err := ws.Resolve(); err != nil {
					return fmt.Errorf("validate %s: %w", ws.ID, err)
				}
			}

			if err := os.MkdirAll(cfg.WorkloadsDir, 0o750); err != nil {
				return fmt.Errorf("create workloads dir: %w", err)
			}
			dest := filepath.Join(cfg.WorkloadsDir, filepath.Base(filePath))
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			if err := os.WriteFile(dest, data, 0o640); err != nil {
				return fmt.Errorf("write %s: %w", dest, err)
			}

			for _, ws := range specs.Workloads {
				fmt.Printf("installed workload %q (%s)\n", ws.ID, dest)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&filePath, "file", "f", "", "Path to a workload YAML file")
	return cmd
}

// workloadListCmd parses every spec file in the configured workloads
// directory and prints the resolved workloads, without starting a daemon.
func workloadListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workload-list",
		Short: "List workload specs installed in the workloads directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			entries, err := os.ReadDir(cfg.WorkloadsDir)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("no workloads directory found")
					return nil
				}
				return err
			}

			found := 0
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				name := entry.Name()
				if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
					continue
				}
				path := filepath.Join(cfg.WorkloadsDir, name)
				specs, err := spec.ParseFile(path)
				if err != nil {
					fmt.Printf("%s: parse error: %v\n", name, err)
					continue
				}
				for _, ws := range specs.Workloads {
					found++
					fmt.Printf("%-20s image=%-30s min_idle=%d max_size=%d (%s)\n", ws.ID, ws.Image, ws.Pool.MinIdle, ws.Pool.MaxSize, name)
				}
			}
			if found == 0 {
				fmt.Println("no workloads installed")
			}
			return nil
		},
	}
}
