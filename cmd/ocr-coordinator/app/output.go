package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"
)

const (
	formatAuto  = "auto"
	formatTable = "table"
	formatJSON  = "json"
)

// tableFunc lays a value out as a header and rows.
type tableFunc func() (header []string, rows [][]string)

// useTable reports whether output to out is rendered as a table. auto picks
// a table for terminals and JSON for pipes and files.
func (c *cli) useTable(out io.Writer) (bool, error) {
	switch format := c.v.GetString("output"); format {
	case formatTable:
		return true, nil
	case formatJSON:
		return false, nil
	case formatAuto, "":
		f, ok := out.(*os.File)
		return ok && term.IsTerminal(int(f.Fd())), nil
	default:
		return false, fmt.Errorf("unknown output format %q: use auto, table or json", format)
	}
}

// render writes v as indented JSON or as the table built by layout.
func (c *cli) render(out io.Writer, v any, layout tableFunc) error {
	table, err := c.useTable(out)
	if err != nil {
		return err
	}
	if !table {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	header, rows := layout()
	tw := tablewriter.NewWriter(out)
	cells := make([]any, len(header))
	for i, h := range header {
		cells[i] = h
	}
	tw.Header(cells...)
	for _, row := range rows {
		if err := tw.Append(row); err != nil {
			return fmt.Errorf("failed to render table: %w", err)
		}
	}
	return tw.Render()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func formatString(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
