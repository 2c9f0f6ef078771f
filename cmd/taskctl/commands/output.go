package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cuongbtq/taskcore/internal/api/dto"
)

// printer writes command results as a table or JSON
type printer struct {
	out  io.Writer
	json bool
}

func newPrinter(cmd *cobra.Command) (*printer, error) {
	mode, _ := cmd.Flags().GetString("output")
	switch mode {
	case "table", "":
		return &printer{out: cmd.OutOrStdout()}, nil
	case "json":
		return &printer{out: cmd.OutOrStdout(), json: true}, nil
	default:
		return nil, fmt.Errorf("invalid output format %q (use json or table)", mode)
	}
}

func (p *printer) JSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) Table(headers []string, rows [][]string) error {
	w := tabwriter.NewWriter(p.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}

func (p *printer) Success(format string, args ...any) {
	color.New(color.FgGreen).Fprintf(p.out, "✓ "+format+"\n", args...)
}

// statusColor picks a colour per display status
func statusColor(status string) *color.Color {
	switch status {
	case dto.StatusQueued:
		return color.New(color.FgCyan)
	case dto.StatusCarted:
		return color.New(color.FgYellow)
	case dto.StatusCheckedOut:
		return color.New(color.FgGreen, color.Bold)
	case dto.StatusFailed:
		return color.New(color.FgRed)
	case dto.StatusStopped, dto.StatusRemoved:
		return color.New(color.FgHiBlack)
	default:
		return color.New(color.Reset)
	}
}

func colorStatus(status string) string {
	return statusColor(status).Sprint(status)
}

func taskRow(t dto.TaskDTO) []string {
	return []string{t.ID, t.Product, orDash(t.Site), orDash(t.Size), orDash(t.Proxy), colorStatus(t.Status)}
}

var taskHeaders = []string{"ID", "PRODUCT", "SITE", "SIZE", "PROXY", "STATUS"}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
