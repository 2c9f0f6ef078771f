package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// errUnhealthy makes the health command exit non-zero
var errUnhealthy = errors.New("gateway reports unhealthy dependencies")

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check gateway dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout(cmd))
			defer cancel()

			report, err := gatewayClient(cmd).Health(ctx)
			if err != nil {
				return err
			}

			if p.json {
				if err := p.JSON(report); err != nil {
					return err
				}
			} else {
				names := make([]string, 0, len(report.Services))
				for name := range report.Services {
					names = append(names, name)
				}
				sort.Strings(names)

				rows := make([][]string, len(names))
				for i, name := range names {
					state := color.GreenString("up")
					if !report.Services[name] {
						state = color.RedString("down")
					}
					rows[i] = []string{name, state}
				}
				if err := p.Table([]string{"SERVICE", "STATE"}, rows); err != nil {
					return err
				}
			}

			if !report.Healthy {
				return errUnhealthy
			}
			return nil
		},
	}
}

func newMetricsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show queue, broker and process metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout(cmd))
			defer cancel()

			m, err := gatewayClient(cmd).Metrics(ctx)
			if err != nil {
				return err
			}

			if p.json {
				return p.JSON(m)
			}

			states := make([]string, 0, len(m.Queue))
			for state := range m.Queue {
				states = append(states, state)
			}
			sort.Strings(states)

			var rows [][]string
			for _, state := range states {
				rows = append(rows, []string{"queue." + state, strconv.Itoa(m.Queue[state])})
			}
			if m.Broker != nil {
				rows = append(rows,
					[]string{"broker.connected", strconv.FormatBool(m.Broker.Connected)},
					[]string{"broker.messages", strconv.Itoa(m.Broker.Messages)},
					[]string{"broker.consumers", strconv.Itoa(m.Broker.Consumers)},
					[]string{"broker.reconnects", strconv.FormatInt(m.Broker.Reconnects, 10)},
				)
			}
			if m.Pool != nil {
				rows = append(rows,
					[]string{"pool.initialized", strconv.FormatBool(m.Pool.Initialized)},
					[]string{"pool.busy", strconv.Itoa(m.Pool.Busy)},
					[]string{"pool.slots", strconv.Itoa(m.Pool.Slots)},
				)
			}
			if m.Database != nil {
				rows = append(rows,
					[]string{"database.open", strconv.Itoa(m.Database.OpenConnections)},
					[]string{"database.in_use", strconv.Itoa(m.Database.InUse)},
				)
			}
			rows = append(rows,
				[]string{"process.goroutines", strconv.Itoa(m.Process.Goroutines)},
				[]string{"process.heap_alloc_bytes", strconv.FormatUint(m.Process.HeapAllocBytes, 10)},
				[]string{"process.uptime_seconds", fmt.Sprintf("%.0f", m.Process.UptimeSeconds)},
			)
			return p.Table([]string{"METRIC", "VALUE"}, rows)
		},
	}
}
