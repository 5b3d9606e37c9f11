package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"mriprep/internal/stage"
	"mriprep/internal/stageexec"
)

type tone int

const (
	toneInfo tone = iota
	toneOK
	toneWarn
	toneError
)

var toneStyles = map[tone]struct {
	tag   string
	color text.Color
}{
	toneInfo:  {"INFO", text.FgBlue},
	toneOK:    {"OK", text.FgGreen},
	toneWarn:  {"WARN", text.FgYellow},
	toneError: {"ERROR", text.FgRed},
}

const labelWidth = 24

// printer writes human-facing command output. Color and rounded table borders
// are used only when w is a terminal.
type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, color: isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}

func (p *printer) paint(c text.Color, s string) string {
	if !p.color {
		return s
	}
	return c.Sprint(s)
}

// status prints "  Label:   [TAG] message".
func (p *printer) status(label string, t tone, message string) {
	style := toneStyles[t]
	tagged := "[" + style.tag + "]"
	if message != "" {
		tagged += " " + message
	}
	fmt.Fprintln(p.w, p.paint(style.color, fmt.Sprintf("  %-*s %s", labelWidth, label+":", tagged)))
}

func (p *printer) section(title string) {
	heading := "== " + strings.TrimSpace(title) + " =="
	fmt.Fprintln(p.w, p.paint(text.FgBlue, heading))
	fmt.Fprintln(p.w, p.paint(text.FgBlue, strings.Repeat("-", len(heading))))
}

// table renders rows under headers. Columns listed in right are right-aligned
// (1-based, as go-pretty numbers them).
func (p *printer) table(headers []string, rows [][]string, right ...int) {
	if len(headers) == 0 {
		return
	}
	tw := table.NewWriter()
	if p.color {
		tw.SetStyle(table.StyleRounded)
	} else {
		tw.SetStyle(table.StyleDefault)
		opts := &tw.Style().Options
		opts.DrawBorder = false
		opts.SeparateColumns = false
		opts.SeparateHeader = false
	}

	tw.AppendHeader(toRow(headers, len(headers)))
	for _, row := range rows {
		tw.AppendRow(toRow(row, len(headers)))
	}
	configs := make([]table.ColumnConfig, len(headers))
	for i := range configs {
		configs[i] = table.ColumnConfig{Number: i + 1, AlignHeader: text.AlignLeft}
		if slices.Contains(right, i+1) {
			configs[i].Align = text.AlignRight
		}
	}
	tw.SetColumnConfigs(configs)
	fmt.Fprintln(p.w, tw.Render())
}

func toRow(cells []string, width int) table.Row {
	row := make(table.Row, width)
	for i := range row {
		row[i] = ""
		if i < len(cells) {
			row[i] = cells[i]
		}
	}
	return row
}

// stageTable prints one row per executed stage.
func (p *printer) stageTable(reports []stageexec.Report) {
	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		rows = append(rows, []string{stage.Label(r.Step), r.Status(), formatDuration(r.Duration), r.Reason()})
	}
	p.table([]string{"Stage", "Status", "Duration", "Detail"}, rows, 3)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

// writeJSON emits v as indented JSON for --json callers.
func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
