package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/rainlynd/srt-translator-sub001/internal/pipeline"
	"github.com/rainlynd/srt-translator-sub001/internal/store"
)

func renderTable(headers []string, rows [][]string) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(row))
		for i, cell := range row {
			r[i] = cell
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, len(headers))
	for i := range headers {
		configs[i] = table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func renderOutcomes(outcomes []pipeline.Outcome) string {
	rows := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		detail := o.OutputPath
		if detail == "" {
			detail = o.Err
		}
		rows = append(rows, []string{o.Ref, string(o.Status), detail})
	}
	return renderTable([]string{"Input", "Status", "Output / Error"}, rows)
}

func renderHistory(recs []store.HistoryRecord) string {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		detail := r.OutputRef
		if detail == "" {
			detail = r.Error
		}
		rows = append(rows, []string{
			r.CompletedAt.Local().Format("2006-01-02 15:04"),
			r.InputRef,
			string(r.Type),
			r.TargetLang,
			string(r.Status),
			detail,
		})
	}
	return renderTable([]string{"Completed", "Input", "Type", "Target", "Status", "Output / Error"}, rows)
}
