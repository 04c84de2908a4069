package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// tableColumn pairs a header with its cell alignment so each view declares
// its shape in one place.
type tableColumn struct {
	title string
	align columnAlignment
}

// Column sets for the CLI's tabular views. Progress and count columns are
// right-aligned so their digits line up.
var (
	stageColumns = []tableColumn{
		{title: "Stage"},
		{title: "Status"},
		{title: "Progress", align: alignRight},
		{title: "Output"},
		{title: "Error"},
	}
	jobListColumns = []tableColumn{
		{title: "Job"},
		{title: "Input"},
		{title: "Status"},
		{title: "Progress", align: alignRight},
		{title: "Received"},
	}
	jobStatsColumns = []tableColumn{
		{title: "Status"},
		{title: "Count", align: alignRight},
	}
)

func renderTable(columns []tableColumn, rows [][]string) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, col := range columns {
		header[i] = col.title
		align := text.AlignLeft
		if col.align == alignRight {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		cells := make(table.Row, len(columns))
		for i := range cells {
			if i < len(row) {
				cells[i] = row[i]
			} else {
				cells[i] = ""
			}
		}
		tw.AppendRow(cells)
	}

	return tw.Render()
}
