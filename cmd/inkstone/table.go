package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// renderTable renders rows with rounded borders. Columns listed in
// rightAligned (1-based) are right aligned; everything else is left aligned.
func renderTable(headers []string, rows [][]string, rightAligned ...int) string {
	if len(headers) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	right := make(map[int]struct{}, len(rightAligned))
	for _, col := range rightAligned {
		right[col] = struct{}{}
	}
	configs := make([]table.ColumnConfig, 0, len(headers))
	for i := range headers {
		align := text.AlignLeft
		if _, ok := right[i+1]; ok {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}
