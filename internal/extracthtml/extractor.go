package extracthtml

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"
)

// MinMainTableColumns is the first-row cell count a table needs to be picked
// by column count rather than by the row-count fallback.
const MinMainTableColumns = 10

// Table is a parsed <table>: rows of cells, header row included.
type Table struct {
	Index int
	Rows  [][]Cell
}

// Cell is the normalized text of a th/td plus its anchors.
type Cell struct {
	Text  string
	Links []Link
}

// Columns is the cell count of the first row.
func (t Table) Columns() int {
	if len(t.Rows) == 0 {
		return 0
	}
	return len(t.Rows[0])
}

// ParseHTML parses markup into a goquery document.
func ParseHTML(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// ParseTables returns every <table> in document order. Rows belonging to a
// nested table are attributed to that nested table only. base, when non-nil,
// resolves relative link hrefs.
func ParseTables(doc *goquery.Document, base *url.URL) []Table {
	var tables []Table
	doc.Find("table").Each(func(i int, tbl *goquery.Selection) {
		t := Table{Index: i}
		tbl.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			if !tr.Closest("table").IsSelection(tbl) {
				return
			}
			var row []Cell
			tr.ChildrenFiltered("th,td").Each(func(_ int, td *goquery.Selection) {
				row = append(row, parseCell(td, base))
			})
			t.Rows = append(t.Rows, row)
		})
		tables = append(tables, t)
	})
	return tables
}

func parseCell(td *goquery.Selection, base *url.URL) Cell {
	c := Cell{Text: cleanText(td.Text())}
	td.Find("a").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href != "" {
			href = ResolveHref(base, href)
		}
		c.Links = append(c.Links, Link{Text: cleanText(a.Text()), Href: href})
	})
	return c
}

// cleanText applies NFKC (so NBSP becomes a plain space) and trims.
// Interior newlines are kept; the column mapper tidies them.
func cleanText(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}

// SelectMainTable picks the data table.
//
// Among tables with at least two rows, the one whose first row has the most
// cells wins, provided it has MinMainTableColumns or more; ties go to the
// earlier table. Otherwise the table with the most rows wins. ok is false
// when there are no tables at all.
func SelectMainTable(tables []Table) (Table, bool) {
	best, bestCols := -1, 0
	for i, t := range tables {
		if len(t.Rows) < 2 {
			continue
		}
		if c := t.Columns(); c >= MinMainTableColumns && c > bestCols {
			best, bestCols = i, c
		}
	}
	if best >= 0 {
		return tables[best], true
	}

	best, bestRows := -1, 0
	for i, t := range tables {
		if len(t.Rows) > bestRows {
			best, bestRows = i, len(t.Rows)
		}
	}
	if best < 0 {
		return Table{}, false
	}
	return tables[best], true
}

// Headers returns the field names for a table: the header cell text, or
// Column_N (1-based position) when blank.
func Headers(t Table) []string {
	if len(t.Rows) == 0 {
		return nil
	}
	headers := make([]string, len(t.Rows[0]))
	for i, c := range t.Rows[0] {
		headers[i] = c.Text
		if headers[i] == "" {
			headers[i] = columnName(i)
		}
	}
	return headers
}

func columnName(idx int) string {
	return fmt.Sprintf("Column_%d", idx+1)
}

// ExtractRecords converts every row after the header into one Record.
//
// Semantics:
//   - Cells are zipped to headers by position; cells past the header width
//     are named Column_{position}.
//   - Short rows omit trailing fields.
//   - A row with no cells still yields an (empty) record, so a table of N
//     rows always yields N-1 records.
//   - A repeated header name keeps the later cell's value.
//
// meta.RowIndex is overwritten with each row's 0-based data index.
func ExtractRecords(t Table, meta Meta) []Record {
	if len(t.Rows) < 2 {
		return nil
	}
	headers := Headers(t)
	out := make([]Record, 0, len(t.Rows)-1)
	for ri, row := range t.Rows[1:] {
		rec := Record{Meta: meta}
		rec.Meta.RowIndex = ri
		for ci, c := range row {
			name := columnName(ci)
			if ci < len(headers) {
				name = headers[ci]
			}
			rec.Set(name, c.Text)
			rec.AddLinks(name, c.Links...)
		}
		out = append(out, rec)
	}
	return out
}

// ExtractPage runs parse, main-table selection and row extraction over one
// page of markup.
//
// Resilience: markup that cannot be parsed, or that holds no tables, yields
// no records and no error. A page without data is a normal outcome.
func ExtractPage(html string, meta Meta) []Record {
	doc, err := ParseHTML(html)
	if err != nil {
		return nil
	}
	base, _ := url.Parse(meta.SourceURL)
	t, ok := SelectMainTable(ParseTables(doc, base))
	if !ok {
		return nil
	}
	return ExtractRecords(t, meta)
}
