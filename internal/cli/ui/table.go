package ui

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

// Table writes aligned columns under a highlighted header
type Table struct {
	writer  io.Writer
	headers []string
	rows    [][]string
	noColor bool
}

// NewTable creates a new table with the given headers
func NewTable(w io.Writer, noColor bool, headers ...string) *Table {
	return &Table{writer: w, headers: headers, noColor: noColor}
}

// AddRow adds a row to the table
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render renders the table to the writer
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], utf8.RuneCountInString(cell))
			}
		}
	}

	bold := newColor(t.noColor, color.Bold, color.FgCyan)
	gray := newColor(t.noColor, color.FgHiBlack)

	for i, h := range t.headers {
		bold.Fprint(t.writer, pad(h, widths[i], i == len(widths)-1))
	}
	fmt.Fprintln(t.writer)
	for i, w := range widths {
		gray.Fprint(t.writer, pad(strings.Repeat("─", w), w, i == len(widths)-1))
	}
	fmt.Fprintln(t.writer)

	for _, row := range t.rows {
		for i := range widths {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			fmt.Fprint(t.writer, pad(cell, widths[i], i == len(widths)-1))
		}
		fmt.Fprintln(t.writer)
	}
}

// pad right-pads s to width plus a two space gutter. The last column is
// left unpadded.
func pad(s string, width int, last bool) string {
	if last {
		return s
	}
	n := utf8.RuneCountInString(s)
	return s + strings.Repeat(" ", width-n+2)
}
