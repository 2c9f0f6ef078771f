package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/taskcore/internal/api/dto"
	"github.com/cuongbtq/taskcore/internal/client"
	"github.com/cuongbtq/taskcore/internal/domain"
)

func newListCommand() *cobra.Command {
	var (
		statuses []string
		limit    int
		all      bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Example: `  # Everything
  taskctl list

  # Only queued and running tasks
  taskctl list --status queued --status carted`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout(cmd))
			defer cancel()

			c := gatewayClient(cmd)
			opts := client.ListOptions{Status: statuses, Limit: limit}

			var tasks []dto.TaskDTO
			for {
				page, next, err := c.ListTasks(ctx, opts)
				if err != nil {
					return err
				}
				tasks = append(tasks, page...)
				if !all || next == "" {
					break
				}
				opts.Cursor = next
			}

			if p.json {
				return p.JSON(tasks)
			}
			if len(tasks) == 0 {
				fmt.Fprintln(p.out, "No tasks")
				return nil
			}

			rows := make([][]string, len(tasks))
			for i, t := range tasks {
				rows[i] = taskRow(t)
			}
			return p.Table(taskHeaders, rows)
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable or comma separated)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size; 0 lists everything in one call")
	cmd.Flags().BoolVar(&all, "all", false, "Follow cursors until every page is read")

	return cmd
}

func newAddCommand() *cobra.Command {
	var (
		req   dto.CreateTaskRequest
		count int
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Enqueue a task",
		Example: `  taskctl add --product SKU-1 --site shop --size 42 --proxy p1

  # Five identical tasks at high priority
  taskctl add --product SKU-1 --count 5 --priority 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be at least 1, got %d", count)
			}

			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout(cmd))
			defer cancel()

			c := gatewayClient(cmd)
			created := make([]*dto.TaskDTO, 0, count)
			for i := 0; i < count; i++ {
				task, err := c.CreateTask(ctx, req)
				if err != nil {
					return err
				}
				created = append(created, task)
			}

			if p.json {
				return p.JSON(created)
			}
			for _, task := range created {
				p.Success("Queued %s (%s)", task.ID, task.Product)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.ProductID, "product", "", "Product reference (required)")
	f.StringVar(&req.Site, "site", "", "Target site")
	f.StringVar(&req.Size, "size", "", "Size")
	f.StringVar(&req.AccountID, "account", "", "Account reference, required with --auto-purchase")
	f.StringVar(&req.ProxyID, "proxy", "", "Proxy reference")
	f.IntVar(&req.Quantity, "quantity", 0, "Quantity")
	f.Float64Var(&req.MaxPrice, "max-price", 0, "Maximum price")
	f.BoolVar(&req.AutoPurchase, "auto-purchase", false, "Check out automatically")
	f.IntVar(&req.DelayMS, "delay-ms", 0, "Delay between steps in milliseconds")
	f.IntVar(&req.RetryBudget, "retry-budget", 0, "Retry budget for the automation run")
	f.StringVar(&req.Mode, "mode", "", "Mode: "+domain.ModePurchase+" or "+domain.ModeMonitor)
	f.IntVar(&req.Priority, "priority", 0, "Priority; higher runs first")
	f.IntVar(&count, "count", 1, "Number of identical tasks to enqueue")
	_ = cmd.MarkFlagRequired("product")

	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout(cmd))
			defer cancel()

			task, err := gatewayClient(cmd).GetTask(ctx, args[0])
			if err != nil {
				return err
			}

			if p.json {
				return p.JSON(task)
			}

			rows := [][]string{
				{"ID", task.ID},
				{"STATUS", colorStatus(task.Status)},
				{"PRODUCT", task.Product},
				{"SITE", orDash(task.Site)},
				{"SIZE", orDash(task.Size)},
				{"PROXY", orDash(task.Proxy)},
				{"PRIORITY", strconv.Itoa(task.Priority)},
				{"WORKER", orDash(task.WorkerID)},
				{"CREATED", task.CreatedAt.Format("2006-01-02 15:04:05")},
			}
			if task.Error != "" {
				rows = append(rows, []string{"ERROR", task.Error})
			}
			if len(task.Result) > 0 {
				rows = append(rows, []string{"RESULT", string(task.Result)})
			}
			return p.Table([]string{"FIELD", "VALUE"}, rows)
		},
	}
}

func newStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>...",
		Short: "Stop running tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout(cmd))
			defer cancel()

			c := gatewayClient(cmd)
			for _, id := range args {
				resp, err := c.StopTask(ctx, id)
				if err != nil {
					return fmt.Errorf("stop %s: %w", id, err)
				}
				if p.json {
					if err := p.JSON(resp); err != nil {
						return err
					}
					continue
				}
				p.Success("Stopped %s", resp.ID)
			}
			return nil
		},
	}
}

func newStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>...",
		Short: "Re-run finished tasks",
		Long:  "Re-run finished tasks. Each one is replaced by a queued copy with a new id.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout(cmd))
			defer cancel()

			c := gatewayClient(cmd)
			for _, id := range args {
				resp, err := c.StartTask(ctx, id)
				if err != nil {
					return fmt.Errorf("start %s: %w", id, err)
				}
				if p.json {
					if err := p.JSON(resp); err != nil {
						return err
					}
					continue
				}
				p.Success("Restarted %s as %s", resp.PreviousID, resp.ID)
			}
			return nil
		},
	}
}

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"remove", "delete"},
		Short:   "Remove tasks in any state",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout(cmd))
			defer cancel()

			c := gatewayClient(cmd)
			for _, id := range args {
				if err := c.DeleteTask(ctx, id); err != nil {
					return fmt.Errorf("remove %s: %w", id, err)
				}
				if p.json {
					if err := p.JSON(dto.StatusResponse{ID: id, Status: dto.StatusRemoved}); err != nil {
						return err
					}
					continue
				}
				p.Success("Removed %s", id)
			}
			return nil
		},
	}
}
