// Package dedupe removes repeated records across pages.
//
// Canonicalization rules:
//   - Only fields take part; links and meta are ignored, so the same product
//     seen on two pages (different row index, different link tracking params)
//     collapses to one record.
//   - Values are trimmed of surrounding whitespace.
//   - Name and value are each Go-quoted and written as "name"="value", so
//     '=' or the separator inside either one cannot shift the boundary.
//   - Fields are sorted by name and joined with the ASCII unit separator
//     (0x1f), so field order does not matter.
//   - The key is the lowercase hex SHA-256 of that canonical form.
package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"ratewatch/internal/extracthtml"
)

const sep = "\x1f"

// Key returns the canonical identity of r.
func Key(r extracthtml.Record) string {
	fields := make([]extracthtml.Field, len(r.Fields))
	copy(fields, r.Fields)
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })

	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(strconv.Quote(f.Name))
		b.WriteByte('=')
		b.WriteString(strconv.Quote(strings.TrimSpace(f.Value)))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Records keeps the first occurrence of every distinct record, preserving
// input order, and reports how many were removed. It does not modify in.
func Records(in []extracthtml.Record) (out []extracthtml.Record, removed int) {
	seen := make(map[string]struct{}, len(in))
	out = make([]extracthtml.Record, 0, len(in))
	for _, r := range in {
		k := Key(r)
		if _, dup := seen[k]; dup {
			removed++
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out, removed
}
