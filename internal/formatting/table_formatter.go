package formatting

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// TableFormatter provides rich table output formatting
type TableFormatter struct {
	options Options
}

// FormatTokens renders rows as a table.
func (f *TableFormatter) FormatTokens(w io.Writer, rows []TokenRow) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, f.paint(text.FgYellow, "No cached tokens"))
		return err
	}

	t := f.createTable(w)
	t.AppendHeader(table.Row{
		f.paint(text.FgHiCyan, "KIND"),
		f.paint(text.FgHiCyan, "KEY"),
		f.paint(text.FgHiCyan, "STATUS"),
		f.paint(text.FgHiCyan, "EXPIRES"),
		f.paint(text.FgHiCyan, "REFRESH UNTIL"),
		f.paint(text.FgHiCyan, "GATEWAY"),
	})

	for _, r := range rows {
		gw := ""
		if r.Gateway {
			gw = "yes"
		}
		t.AppendRow(table.Row{
			r.Kind,
			r.Key,
			f.paint(statusColor(r.Status), r.Status),
			formatTime(r.ExpiresAt),
			formatTime(r.RefreshExpiresAt),
			gw,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", len(rows)})

	t.Render()
	return nil
}

// createTable creates a new table with standard styling
func (f *TableFormatter) createTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func (f *TableFormatter) paint(c text.Color, s string) string {
	if !f.options.Color {
		return s
	}
	return c.Sprint(s)
}

func statusColor(status string) text.Color {
	switch status {
	case "valid":
		return text.FgGreen
	case "expiring", "refreshable":
		return text.FgYellow
	default:
		return text.FgRed
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
