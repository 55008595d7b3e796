package main

import (
	"fmt"
	"io"
	"time"

	"ratewatch/internal/crawl"
	"ratewatch/internal/extracthtml"

	"github.com/jedib0t/go-pretty/v6/table"
)

type runSummary struct {
	Stats      crawl.Stats
	Records    []extracthtml.Record
	Duplicates int
	Output     string
	Table      string
	Saved      int64
}

// sampleColumns are shown for the first few records after a run.
var sampleColumns = []string{"Company_Product_Name", "AM_Best", "Current_Rate", "Years"}

const sampleRows = 3

func printSummary(w io.Writer, s runSummary) {
	st := s.Stats
	avg := 0.0
	if st.DataPages > 0 {
		avg = float64(st.Records) / float64(st.DataPages)
	}
	reported := "-"
	if st.ReportedPages > 0 {
		reported = fmt.Sprint(st.ReportedPages)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Run", "Value"})
	t.AppendRows([]table.Row{
		{"pages visited", st.PagesVisited},
		{"data / empty / failed", fmt.Sprintf("%d / %d / %d", st.DataPages, st.EmptyPages, st.FailedPages)},
		{"last page", st.LastPage},
		{"site reported pages", reported},
		{"raw rows", st.RawRows},
		{"grouping rows dropped", st.GroupingRows},
		{"records", st.Records},
		{"duplicates removed", s.Duplicates},
		{"avg records per page", fmt.Sprintf("%.1f", avg)},
		{"stopped by", string(st.Stop)},
		{"elapsed", st.Elapsed.Round(time.Millisecond).String()},
	})
	if s.Output != "" {
		t.AppendRow(table.Row{"output", s.Output})
	}
	if s.Table != "" {
		t.AppendRow(table.Row{"rows saved", fmt.Sprintf("%d (%s)", s.Saved, s.Table)})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()

	if len(s.Records) == 0 {
		return
	}
	sample := table.NewWriter()
	sample.SetOutputMirror(w)
	header := table.Row{}
	for _, c := range sampleColumns {
		header = append(header, c)
	}
	sample.AppendHeader(header)
	for _, r := range s.Records[:min(sampleRows, len(s.Records))] {
		row := table.Row{}
		for _, c := range sampleColumns {
			row = append(row, r.Value(c))
		}
		sample.AppendRow(row)
	}
	sample.SetStyle(table.StyleRounded)
	sample.Render()
}
