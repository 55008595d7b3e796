package storage

import (
	"strconv"
	"strings"

	"ratewatch/internal/extracthtml"
)

// ConvertValue turns a cell into a driver value for a column of kind k.
// Missing markers become nil. Numbers lose their thousands separators; a
// value that does not parse is passed through as the original string.
func ConvertValue(k Kind, v string) any {
	if IsMissing(v) {
		return nil
	}
	s := strings.TrimSpace(v)
	switch k {
	case KindInt:
		if n, err := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64); err == nil {
			return n
		}
	case KindDecimal:
		if f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64); err == nil {
			return f
		}
	}
	return v
}

// BuildRows converts recs into rows aligned with spec's columns.
func BuildRows(spec TableSpec, recs []extracthtml.Record) [][]any {
	rows := make([][]any, len(recs))
	for i, r := range recs {
		row := make([]any, len(spec.Columns))
		for j, c := range spec.Columns {
			v, ok := r.Get(c.Name)
			if !ok {
				continue
			}
			row[j] = ConvertValue(c.Kind, v)
		}
		rows[i] = row
	}
	return rows
}
