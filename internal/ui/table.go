package ui

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// maxColumnWidth caps a column; longer cells are truncated
const maxColumnWidth = 48

// Cell is one styled table cell
type Cell struct {
	Text  string
	Style lipgloss.Style
}

// Plain returns an unstyled cell
func Plain(s string) Cell {
	return Cell{Text: s, Style: TextStyle}
}

// Styled returns a cell rendered with style
func Styled(s string, style lipgloss.Style) Cell {
	return Cell{Text: s, Style: style}
}

// Table is a box-drawn table sized to its content
type Table struct {
	headers []string
	rows    [][]Cell
}

// NewTable creates a table with the given column headers
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// AddRow appends a row. Missing cells render empty, extra cells are dropped.
func (t *Table) AddRow(cells ...Cell) {
	row := make([]Cell, len(t.headers))
	copy(row, cells)
	t.rows = append(t.rows, row)
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.rows)
}

func (t *Table) widths() []int {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range t.rows {
		for i, c := range row {
			if w := runewidth.StringWidth(c.Text); w > widths[i] {
				widths[i] = w
			}
		}
	}
	for i := range widths {
		if widths[i] > maxColumnWidth {
			widths[i] = maxColumnWidth
		}
	}
	return widths
}

// Render writes the table to w
func (t *Table) Render(w io.Writer) error {
	widths := t.widths()
	var sb strings.Builder

	border := func(left, mid, right string) {
		sb.WriteString(BorderStyle.Render(left))
		for i, width := range widths {
			sb.WriteString(BorderStyle.Render(strings.Repeat(horizontal, width+2)))
			if i < len(widths)-1 {
				sb.WriteString(BorderStyle.Render(mid))
			}
		}
		sb.WriteString(BorderStyle.Render(right))
		sb.WriteString("\n")
	}

	border(topLeft, topT, topRight)

	sb.WriteString(BorderStyle.Render(vertical))
	for i, h := range t.headers {
		sb.WriteString(HeaderStyle.Render(" " + PadRight(h, widths[i]) + " "))
		sb.WriteString(BorderStyle.Render(vertical))
	}
	sb.WriteString("\n")

	border(leftT, cross, rightT)

	for _, row := range t.rows {
		sb.WriteString(BorderStyle.Render(vertical))
		for i, c := range row {
			sb.WriteString(c.Style.Render(" " + PadRight(c.Text, widths[i]) + " "))
			sb.WriteString(BorderStyle.Render(vertical))
		}
		sb.WriteString("\n")
	}

	border(bottomLeft, bottomT, bottomRight)

	_, err := io.WriteString(w, sb.String())
	return err
}
