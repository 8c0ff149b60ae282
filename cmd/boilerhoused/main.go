// Command boilerhoused is the Boilerhouse control process: a daemon that
// runs the pool engine, sync coordinator and recovery pass, plus operator
// subcommands for registering workloads and managing pools against the
// same store the daemon uses. There is no HTTP/gRPC request-serving API
// here — that surface, and the operator dashboard that would consume it,
// are both external collaborators (spec §1); this CLI is the thing an
// operator runs directly, or that supervises the long-running process.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "boilerhoused",
		Short: "Boilerhouse - single-node warm container pool orchestrator",
		Long:  "Boilerhouse pre-warms pools of containers per workload, hands them out under per-tenant claims, and keeps each tenant's state synced to remote storage.",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (optional, flags override)")

	rootCmd.AddCommand(
		daemonCmd(),
		workloadApplyCmd(),
		workloadListCmd(),
		poolCreateCmd(),
		poolDestroyCmd(),
		poolListCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the boilerhoused version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("boilerhoused (dev)")
			return nil
		},
	}
}
