package report

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// TableMode selects how a table renders.
type TableMode int

const (
	ASCII    TableMode = iota // fixed-width terminal table
	Markdown                  // GitHub-flavoured Markdown
)

// Table builds a table once and renders it in its mode.
type Table struct {
	writer table.Writer
	mode   TableMode
}

// NewTable returns an empty table.
func NewTable(m TableMode) *Table {
	w := table.NewWriter()
	if m == ASCII {
		w.SetStyle(table.StyleLight)
	}
	return &Table{writer: w, mode: m}
}

func (t *Table) Header(cols ...string) {
	row := make(table.Row, len(cols))
	for i, c := range cols {
		row[i] = c
	}
	t.writer.AppendHeader(row)
}

func (t *Table) Row(vals ...any) {
	t.writer.AppendRow(table.Row(vals))
}

func (t *Table) Footer(vals ...any) {
	t.writer.AppendFooter(table.Row(vals))
}

// AlignRight right-aligns the given 1-based columns.
func (t *Table) AlignRight(cols ...int) {
	cfgs := make([]table.ColumnConfig, len(cols))
	for i, c := range cols {
		cfgs[i] = table.ColumnConfig{Number: c, Align: text.AlignRight, AlignFooter: text.AlignRight}
	}
	t.writer.SetColumnConfigs(cfgs)
}

// MaxWidth caps the width of a 1-based column; it replaces earlier column
// configs.
func (t *Table) MaxWidth(col, width int) {
	t.writer.SetColumnConfigs([]table.ColumnConfig{{Number: col, WidthMax: width}})
}

func (t *Table) String() string {
	if t.mode == Markdown {
		return t.writer.RenderMarkdown()
	}
	return t.writer.Render()
}
