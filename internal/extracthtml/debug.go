package extracthtml

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jedib0t/go-pretty/v6/table"
)

// DebugPrintSelector prints either outer HTML or text of matches for a selector.
func DebugPrintSelector(w io.Writer, html, selector string, textOnly bool) error {
	doc, err := ParseHTML(html)
	if err != nil {
		return err
	}

	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if textOnly {
			fmt.Fprintln(w, strings.TrimSpace(s.Text()))
			fmt.Fprintln(w)
			return
		}
		out, err := goquery.OuterHtml(s)
		if err != nil {
			out, _ = s.Html()
		}
		fmt.Fprintln(w, out)
		fmt.Fprintln(w)
	})
	return nil
}

// DescribeTables prints one line per table with its shape and marks the one
// SelectMainTable would pick, followed by that table's headers.
func DescribeTables(w io.Writer, html string) error {
	doc, err := ParseHTML(html)
	if err != nil {
		return err
	}
	tables := ParseTables(doc, nil)
	main, ok := SelectMainTable(tables)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "Rows", "Columns", "Main"})
	for _, tb := range tables {
		mark := ""
		if ok && tb.Index == main.Index {
			mark = "*"
		}
		t.AppendRow(table.Row{tb.Index, len(tb.Rows), tb.Columns(), mark})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()

	if ok {
		fmt.Fprintf(w, "headers: %s\n", strings.Join(Headers(main), ", "))
	}
	return nil
}
