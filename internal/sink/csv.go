package sink

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"ratewatch/internal/extracthtml"
)

// PreferredOrder leads the CSV header. Carrier_Product_Name, Years_Rate_GTD
// and GTD_Yield_Surrender are names older mappings used.
var PreferredOrder = []string{
	"Company_Product_Name",
	"Carrier_Product_Name",
	"AM_Best",
	"Max_Issue_Age",
	"Min_Premium",
	"SC_Years",
	"Free_Withdrawal_Yr1_Yr2",
	"Last_Change",
	"Premium_Bonus",
	"Current_Rate",
	"Base_Rate",
	"Years",
	"Years_Rate_GTD",
	"GTD_Yield_Rate",
	"GTD_Yield_Surrender",
	"Commission",
}

// ColumnOrder returns the preferred columns present in recs, then every
// other field name alphabetically.
func ColumnOrder(recs []extracthtml.Record) []string {
	seen := map[string]bool{}
	for _, r := range recs {
		for _, f := range r.Fields {
			seen[f.Name] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for _, c := range PreferredOrder {
		if seen[c] {
			cols = append(cols, c)
			delete(seen, c)
		}
	}
	rest := make([]string, 0, len(seen))
	for c := range seen {
		rest = append(rest, c)
	}
	sort.Strings(rest)
	return append(cols, rest...)
}

// WriteCSV writes a header row and one row per record. Missing fields are
// empty; links are JSON-encoded into their cell.
func WriteCSV(w io.Writer, recs []extracthtml.Record, opts Options) error {
	cols := ColumnOrder(recs)

	var linkCols []string
	if opts.IncludeLinks {
		for _, c := range cols {
			for _, r := range recs {
				if len(r.Links[c]) > 0 {
					linkCols = append(linkCols, c)
					break
				}
			}
		}
	}

	header := append([]string{}, cols...)
	for _, c := range linkCols {
		header = append(header, c+linksSuffix)
	}
	if opts.IncludeMeta {
		header = append(header, MetaPageNumber, MetaRowIndex, MetaSourceURL)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("csv header: %w", err)
	}
	row := make([]string, len(header))
	for i, r := range recs {
		row = row[:0]
		for _, c := range cols {
			row = append(row, r.Value(c))
		}
		for _, c := range linkCols {
			cell := ""
			if links := r.Links[c]; len(links) > 0 {
				b, err := marshalLinks(links)
				if err != nil {
					return fmt.Errorf("csv row %d links: %w", i+1, err)
				}
				cell = b
			}
			row = append(row, cell)
		}
		if opts.IncludeMeta {
			row = append(row,
				strconv.Itoa(r.Meta.PageNumber),
				strconv.Itoa(r.Meta.RowIndex),
				r.Meta.SourceURL)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("csv row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func marshalLinks(links []extracthtml.Link) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(links); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
