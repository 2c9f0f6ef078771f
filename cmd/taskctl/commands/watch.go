package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/taskcore/internal/api/dto"
)

func newWatchCommand() *cobra.Command {
	var taskID string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow task status changes",
		Long: `Follow task status changes until interrupted. Only changes made while
watching are shown; use list for the current state.`,
		Example: `  taskctl watch
  taskctl watch --id 3f2c9a5e-1d4b-4c61-9a8e-2b7f0d6c1e42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}

			return gatewayClient(cmd).Watch(cmd.Context(), taskID, func(u dto.TaskUpdate) error {
				if p.json {
					return p.JSON(u)
				}

				line := fmt.Sprintf("%s  %s  %s",
					u.Timestamp.Local().Format(time.TimeOnly),
					u.ID,
					colorStatus(u.Status),
				)
				if u.Detail != "" {
					line += "  " + u.Detail
				}
				_, err := fmt.Fprintln(p.out, line)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&taskID, "id", "", "Only follow this task")

	return cmd
}
