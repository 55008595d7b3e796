package storage

import (
	"regexp"
	"strings"

	"ratewatch/internal/extracthtml"
)

var (
	reInt     = regexp.MustCompile(`^\d+$`)
	reDecimal = regexp.MustCompile(`^\d+\.\d+$`)
)

// IsMissing reports whether v is one of the site's no-value markers.
func IsMissing(v string) bool {
	switch strings.TrimSpace(v) {
	case "", "-", "N/A":
		return true
	}
	return false
}

// InferKind classifies a column from its values. Missing markers are
// skipped and thousands separators ignored. ok is false when no value
// remains to judge.
func InferKind(values []string) (k Kind, ok bool) {
	allInt, allNum, sawDecimal, seen := true, true, false, false
	for _, v := range values {
		if IsMissing(v) {
			continue
		}
		seen = true
		s := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
		switch {
		case reInt.MatchString(s):
		case reDecimal.MatchString(s):
			allInt = false
			sawDecimal = true
		default:
			allInt, allNum = false, false
		}
		if !allNum {
			break
		}
	}
	switch {
	case !seen:
		return KindUnknown, false
	case allInt:
		return KindInt, true
	case allNum && sawDecimal:
		return KindDecimal, true
	}
	return KindText, true
}

// DefaultHints are used for columns whose values give no kind.
func DefaultHints() map[string]Kind {
	return map[string]Kind{
		"Min_Premium":    KindInt,
		"Max_Issue_Age":  KindInt,
		"Current_Rate":   KindDecimal,
		"Base_Rate":      KindDecimal,
		"GTD_Yield_Rate": KindDecimal,
	}
}

// ResolveColumns builds the column specs for cols in order. For each column
// an override (a raw SQL type) wins, then the inferred kind, then the hint,
// then text.
func ResolveColumns(d Dialect, cols []string, recs []extracthtml.Record, overrides map[string]string, hints map[string]Kind) []ColumnSpec {
	out := make([]ColumnSpec, 0, len(cols))
	for _, name := range cols {
		values := make([]string, len(recs))
		for i, r := range recs {
			values[i] = r.Value(name)
		}

		k, ok := InferKind(values)
		if !ok {
			k = KindText
			if h, found := hints[name]; found {
				k = h
			}
		}
		spec := ColumnSpec{Name: name, Kind: k, Type: d.TypeFor(k)}
		if t := strings.TrimSpace(overrides[name]); t != "" {
			spec.Type = t
			if kk := kindFromSQL(t); kk != KindUnknown {
				spec.Kind = kk
			}
		}
		out = append(out, spec)
	}
	return out
}

// kindFromSQL guesses the conversion kind for an override type so values are
// bound as numbers when the override is numeric.
func kindFromSQL(t string) Kind {
	u := strings.ToUpper(t)
	switch {
	case strings.Contains(u, "INT"):
		return KindInt
	case strings.Contains(u, "DEC"), strings.Contains(u, "NUMERIC"),
		strings.Contains(u, "REAL"), strings.Contains(u, "FLOAT"), strings.Contains(u, "DOUBLE"):
		return KindDecimal
	case strings.Contains(u, "CHAR"), strings.Contains(u, "TEXT"):
		return KindText
	}
	return KindUnknown
}
