// Package commands holds the taskctl command tree.
package commands

import (
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cuongbtq/taskcore/internal/client"
)

const defaultGateway = "http://localhost:8080"

// NewRootCommand creates the taskctl command with all subcommands
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taskctl",
		Short: "Operate the task queue",
		Long: `taskctl talks to the task gateway to enqueue, inspect and control
automation tasks, and to follow their status changes live.`,
		Example: `  # Enqueue a task
  taskctl add --product SKU-1 --site shop --size 42

  # List running tasks
  taskctl list --status carted

  # Follow every status change
  taskctl watch`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			noColor, _ := cmd.Flags().GetBool("no-color")
			if noColor {
				color.NoColor = true
			}
		},
	}

	gateway := os.Getenv("TASKCTL_GATEWAY")
	if gateway == "" {
		gateway = defaultGateway
	}

	cmd.PersistentFlags().String("gateway", gateway, "Gateway base URL (env TASKCTL_GATEWAY)")
	cmd.PersistentFlags().Duration("timeout", 10*time.Second, "Request timeout")
	cmd.PersistentFlags().String("output", "table", "Output format: json, table")
	cmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newAddCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newStopCommand())
	cmd.AddCommand(newStartCommand())
	cmd.AddCommand(newRemoveCommand())
	cmd.AddCommand(newWatchCommand())
	cmd.AddCommand(newHealthCommand())
	cmd.AddCommand(newMetricsCommand())

	return cmd
}

// gatewayClient builds a client from the persistent flags
func gatewayClient(cmd *cobra.Command) *client.Client {
	base, _ := cmd.Flags().GetString("gateway")
	return client.New(base)
}

// requestTimeout returns the --timeout flag value
func requestTimeout(cmd *cobra.Command) time.Duration {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return timeout
}
