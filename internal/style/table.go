package style

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Align is a column's text alignment.
type Align int

const (
	AlignLeft Align = iota
	AlignRight
	AlignCenter
)

// Column describes one table column.
type Column struct {
	Name  string
	Width int
	Align Align
	Style *lipgloss.Style // nil renders plain

	// StyleFor picks a style per cell value, such as green for a held lock.
	// It takes precedence over Style; a nil result renders plain.
	StyleFor func(cell string) *lipgloss.Style
}

func (c Column) styleOf(cell string) *lipgloss.Style {
	if c.StyleFor != nil {
		return c.StyleFor(cell)
	}
	return c.Style
}

// Table renders fixed-width rows for listings such as `muxsh list`.
type Table struct {
	columns   []Column
	rows      [][]string
	headerSep bool
	indent    string
}

// NewTable creates a table with a header separator and a two-space indent.
func NewTable(columns ...Column) *Table {
	return &Table{
		columns:   columns,
		headerSep: true,
		indent:    "  ",
	}
}

// SetIndent sets the prefix of every line.
func (t *Table) SetIndent(indent string) *Table {
	t.indent = indent
	return t
}

// SetHeaderSeparator toggles the line under the header.
func (t *Table) SetHeaderSeparator(on bool) *Table {
	t.headerSep = on
	return t
}

// AddRow appends a row. Missing cells are blank and extra cells dropped.
func (t *Table) AddRow(cells ...string) *Table {
	row := make([]string, len(t.columns))
	copy(row, cells)
	t.rows = append(t.rows, row)
	return t
}

// Render returns the table, one line per row, each ending in a newline.
func (t *Table) Render() string {
	if len(t.columns) == 0 {
		return ""
	}

	var sb strings.Builder
	header := make([]string, len(t.columns))
	for i, col := range t.columns {
		header[i] = t.pad(Bold.Render(col.Name), col.Name, col.Width, col.Align)
	}
	t.writeLine(&sb, header)

	if t.headerSep {
		sep := make([]string, len(t.columns))
		for i, col := range t.columns {
			sep[i] = Dim.Render(strings.Repeat("─", col.Width))
		}
		t.writeLine(&sb, sep)
	}

	for _, row := range t.rows {
		cells := make([]string, len(t.columns))
		for i, col := range t.columns {
			plain := truncate(row[i], col.Width)
			styled := plain
			if st := col.styleOf(row[i]); st != nil {
				styled = st.Render(plain)
			}
			cells[i] = t.pad(styled, plain, col.Width, col.Align)
		}
		t.writeLine(&sb, cells)
	}
	return sb.String()
}

func (t *Table) writeLine(sb *strings.Builder, cells []string) {
	sb.WriteString(t.indent)
	sb.WriteString(strings.TrimRight(strings.Join(cells, " "), " "))
	sb.WriteString("\n")
}

// pad pads styled to width using the width of its plain text.
func (t *Table) pad(styled, plain string, width int, align Align) string {
	n := lipgloss.Width(plain)
	if n >= width {
		return styled
	}
	gap := width - n
	switch align {
	case AlignRight:
		return strings.Repeat(" ", gap) + styled
	case AlignCenter:
		left := gap / 2
		return strings.Repeat(" ", left) + styled + strings.Repeat(" ", gap-left)
	default:
		return styled + strings.Repeat(" ", gap)
	}
}

func truncate(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	if width <= 3 {
		return s[:width]
	}
	r := []rune(s)
	for len(r) > 0 && lipgloss.Width(string(r))+3 > width {
		r = r[:len(r)-1]
	}
	return string(r) + "..."
}

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// stripAnsi removes SGR escape sequences.
func stripAnsi(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}
