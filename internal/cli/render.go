package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

// styles are bound to one writer; color is only emitted when it is a
// terminal.
type styles struct {
	header  lipgloss.Style
	cell    lipgloss.Style
	changed lipgloss.Style
	muted   lipgloss.Style
	warn    lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		header:  r.NewStyle().Bold(true).Padding(0, 1),
		cell:    r.NewStyle().Padding(0, 1),
		changed: r.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		muted:   r.NewStyle().Foreground(lipgloss.Color("241")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
}

// renderTable writes rows under headers. An empty table prints empty
// instead.
func renderTable(w io.Writer, headers []string, rows [][]string, empty string) {
	st := newStyles(w)
	if len(rows) == 0 {
		fmt.Fprintln(w, st.muted.Render(empty))
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(st.muted).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return st.header
			}
			return st.cell
		}).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(w, t.Render())
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// writeJSONValue writes v as JSON: indented for a terminal, one line
// otherwise so it pipes cleanly.
func writeJSONValue(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if isTerminal(w) {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
