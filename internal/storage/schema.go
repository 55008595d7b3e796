package storage

import "strings"

// Kind is the storage class inferred for a column.
type Kind int

const (
	KindUnknown Kind = iota
	KindInt
	KindDecimal
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindDecimal:
		return "decimal"
	case KindText:
		return "text"
	}
	return "unknown"
}

// ParseKind accepts int, decimal and text, case-insensitively.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int", "integer":
		return KindInt, true
	case "decimal", "numeric", "float":
		return KindDecimal, true
	case "text", "string":
		return KindText, true
	}
	return KindUnknown, false
}

// Dialect names a backend's SQL types for each Kind.
type Dialect struct {
	Name    string
	Int     string
	Decimal string
	Text    string
}

// TypeFor returns the SQL type for k. Unknown maps to text.
func (d Dialect) TypeFor(k Kind) string {
	switch k {
	case KindInt:
		return d.Int
	case KindDecimal:
		return d.Decimal
	}
	return d.Text
}

// TableSpec describes the destination table.
type TableSpec struct {
	Name       string
	PrimaryKey *PrimaryKeySpec
	Columns    []ColumnSpec
}

// PrimaryKeySpec is an auto-increment integer key.
type PrimaryKeySpec struct {
	Name string
}

// ColumnSpec is one data column. Kind drives value conversion; Type is the
// SQL type written in DDL.
type ColumnSpec struct {
	Name string
	Kind Kind
	Type string
}

// ColumnNames returns the data column names in order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}
