package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// column describes one output column. Numeric columns are right aligned,
// a non-zero wrap folds long cells (requirement lists) onto more lines.
type column struct {
	title   string
	numeric bool
	wrap    int
}

// ledgerTable collects rows for one of the CLI reports.
type ledgerTable struct {
	title   string
	columns []column
	rows    []table.Row
}

func newLedgerTable(title string, columns ...column) *ledgerTable {
	return &ledgerTable{title: title, columns: columns}
}

// add appends a row. Extra cells are dropped, missing cells render blank.
func (t *ledgerTable) add(cells ...string) {
	row := make(table.Row, len(t.columns))
	for i := range row {
		row[i] = ""
		if i < len(cells) {
			row[i] = cells[i]
		}
	}
	t.rows = append(t.rows, row)
}

func (t *ledgerTable) empty() bool { return len(t.rows) == 0 }

func (t *ledgerTable) String() string {
	if len(t.columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	if t.title != "" {
		tw.SetTitle("%s", t.title)
	}

	header := make(table.Row, len(t.columns))
	configs := make([]table.ColumnConfig, len(t.columns))
	for i, c := range t.columns {
		header[i] = c.title
		cfg := table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
		if c.numeric {
			cfg.Align = text.AlignRight
		}
		if c.wrap > 0 {
			cfg.WidthMax = c.wrap
			cfg.WidthMaxEnforcer = text.WrapSoft
		}
		configs[i] = cfg
	}
	tw.AppendHeader(header)
	tw.AppendRows(t.rows)
	tw.SetColumnConfigs(configs)

	return tw.Render()
}
