package dedupe

import (
	"testing"

	"ratewatch/internal/extracthtml"

	"github.com/stretchr/testify/assert"
)

func rec(page int, pairs ...string) extracthtml.Record {
	r := extracthtml.Record{Meta: extracthtml.Meta{PageNumber: page}}
	for i := 0; i+1 < len(pairs); i += 2 {
		r.Set(pairs[i], pairs[i+1])
	}
	return r
}

func TestRecords_StableFirstWins(t *testing.T) {
	t.Parallel()

	in := []extracthtml.Record{
		rec(1, "Company_Product_Name", "Acme", "Current_Rate", "4.10"),
		rec(1, "Company_Product_Name", "Beta", "Current_Rate", "4.20"),
		rec(2, "Company_Product_Name", " Acme ", "Current_Rate", "4.10\n"),
		rec(2, "Company_Product_Name", "Gamma", "Current_Rate", "4.30"),
		rec(3, "Company_Product_Name", "Beta", "Current_Rate", "4.20"),
	}
	out, removed := Records(in)

	assert.Equal(t, 2, removed)
	if assert.Len(t, out, 3) {
		assert.Equal(t, "Acme", out[0].Value("Company_Product_Name"))
		assert.Equal(t, 1, out[0].Meta.PageNumber, "first occurrence is kept")
		assert.Equal(t, "Beta", out[1].Value("Company_Product_Name"))
		assert.Equal(t, "Gamma", out[2].Value("Company_Product_Name"))
	}
}

func TestRecords_Idempotent(t *testing.T) {
	t.Parallel()

	in := []extracthtml.Record{
		rec(1, "a", "1"), rec(1, "a", "1"), rec(1, "a", "2"),
	}
	once, _ := Records(in)
	twice, removed := Records(once)
	assert.Equal(t, once, twice)
	assert.Zero(t, removed)
}

func TestKey(t *testing.T) {
	t.Parallel()

	a := rec(1, "x", "1", "y", "2")
	b := rec(9, "y", "2", "x", "1")
	b.AddLinks("x", extracthtml.Link{Text: "t", Href: "https://example.com/?utm=1"})
	assert.Equal(t, Key(a), Key(b), "field order, links and meta are ignored")
	assert.Len(t, Key(a), 64)

	// A missing field differs from an empty one.
	assert.NotEqual(t, Key(rec(1, "x", "1")), Key(rec(1, "x", "1", "y", "")))
	// Interior whitespace matters.
	assert.NotEqual(t, Key(rec(1, "x", "a b")), Key(rec(1, "x", "ab")))
}

func TestKey_SeparatorsInsideNamesAndValues(t *testing.T) {
	t.Parallel()

	a := rec(1, "a", "b=c")
	b := rec(1, "a=b", "c")
	assert.NotEqual(t, Key(a), Key(b))

	out, removed := Records([]extracthtml.Record{a, b})
	assert.Len(t, out, 2)
	assert.Zero(t, removed)

	assert.NotEqual(t,
		Key(rec(1, "x", "1\x1fy=2")),
		Key(rec(1, "x", "1", "y", "2")))
}

func TestRecords_Empty(t *testing.T) {
	t.Parallel()

	out, removed := Records(nil)
	assert.Empty(t, out)
	assert.Zero(t, removed)
}
