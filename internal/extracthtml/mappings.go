package extracthtml

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ColumnRule renames one raw column.
type ColumnRule struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// ColumnMapping is an ordered list of rules; the output field order follows it.
// Raw columns without a rule are dropped.
type ColumnMapping []ColumnRule

// DefaultColumnMapping maps the portal's positional columns to stable names.
// Column_1 carries only group-by structure and is not mapped.
func DefaultColumnMapping() ColumnMapping {
	return ColumnMapping{
		{"Column_2", "Company_Product_Name"},
		{"Column_3", "AM_Best"},
		{"Column_4", "Max_Issue_Age"},
		{"Column_5", "Min_Premium"},
		{"Column_6", "SC_Years"},
		{"Column_7", "Free_Withdrawal_Yr1_Yr2"},
		{"Column_8", "Last_Change"},
		{"Column_9", "Premium_Bonus"},
		{"Column_10", "Current_Rate"},
		{"Column_11", "Base_Rate"},
		{"Column_12", "Years"},
		{"Column_13", "GTD_Yield_Rate"},
		{"Column_14", "Commission"},
	}
}

// Targets returns the mapped field names in order.
func (m ColumnMapping) Targets() []string {
	out := make([]string, len(m))
	for i, r := range m {
		out[i] = r.Target
	}
	return out
}

var fractionCleaner = strings.NewReplacer("\n/\n", " / ", "\n/", " /", "/\n", "/ ")

// CleanValue tidies values the site splits around a slash, e.g. "2\n/\n3".
func CleanValue(s string) string {
	return fractionCleaner.Replace(s)
}

// Apply builds the mapped record. Meta is carried over; links follow their
// column to the new name. A source column absent from r is omitted.
func (m ColumnMapping) Apply(r Record) Record {
	out := Record{Meta: r.Meta, Fields: make([]Field, 0, len(m))}
	for _, rule := range m {
		v, ok := r.Get(rule.Source)
		if !ok {
			continue
		}
		out.Set(rule.Target, CleanValue(v))
		out.AddLinks(rule.Target, r.Links[rule.Source]...)
	}
	return out
}

// Pipeline is the per-page record transformation: drop grouping rows, then map.
type Pipeline struct {
	Grouping GroupingRule
	Mapping  ColumnMapping
}

// DefaultPipeline uses the portal's grouping rule and column mapping.
func DefaultPipeline() Pipeline {
	return Pipeline{Grouping: DefaultGroupingRule(), Mapping: DefaultColumnMapping()}
}

// Run filters and maps raw records. dropped counts grouping rows.
func (p Pipeline) Run(raw []Record) (mapped []Record, dropped int) {
	kept, dropped := p.Grouping.Filter(raw)
	mapped = make([]Record, 0, len(kept))
	for _, r := range kept {
		mapped = append(mapped, p.Mapping.Apply(r))
	}
	return mapped, dropped
}

// LoadColumnMappingFile reads a JSON array of {"source","target"} rules.
func LoadColumnMappingFile(path string) (ColumnMapping, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping file: %w", err)
	}

	var m ColumnMapping
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse mapping json: %w", err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("mapping file %s has no rules", path)
	}
	seen := make(map[string]bool, len(m))
	for i, r := range m {
		if strings.TrimSpace(r.Source) == "" || strings.TrimSpace(r.Target) == "" {
			return nil, fmt.Errorf("mapping rule %d: source and target are required", i)
		}
		if seen[r.Target] {
			return nil, fmt.Errorf("mapping rule %d: duplicate target %q", i, r.Target)
		}
		seen[r.Target] = true
	}
	return m, nil
}
