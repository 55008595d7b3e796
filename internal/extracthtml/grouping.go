package extracthtml

import "strings"

// GroupingRule classifies raw records as section headers. The portal
// interleaves rows such as "5 Year Guarantee" between product rows; those rows
// fill only one or two cells.
type GroupingRule struct {
	KeyColumns  []string
	Placeholder map[string]bool
	MinFilled   int
}

// DefaultGroupingRule is tied to the portal's raw layout: product name,
// AM Best rating, max issue age and current rate.
func DefaultGroupingRule() GroupingRule {
	return GroupingRule{
		KeyColumns:  []string{"Column_2", "Column_3", "Column_4", "Column_10"},
		Placeholder: map[string]bool{"": true, "-": true, "N/A": true, "NR": true},
		MinFilled:   2,
	}
}

// IsGroupingRow reports whether fewer than MinFilled key columns hold a
// non-placeholder value.
func (g GroupingRule) IsGroupingRow(r Record) bool {
	return g.filled(r) < g.MinFilled
}

func (g GroupingRule) filled(r Record) int {
	n := 0
	for _, col := range g.KeyColumns {
		v := strings.TrimSpace(r.Value(col))
		if !g.Placeholder[v] {
			n++
		}
	}
	return n
}

// Filter returns the records that are not grouping rows and how many were dropped.
func (g GroupingRule) Filter(in []Record) (kept []Record, dropped int) {
	kept = make([]Record, 0, len(in))
	for _, r := range in {
		if g.IsGroupingRow(r) {
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	return kept, dropped
}
