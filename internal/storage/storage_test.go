package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ratewatch/internal/extracthtml"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDialect = Dialect{Name: "fake", Int: "INT", Decimal: "DEC", Text: "TXT"}

type fakeRepo struct {
	prepared  []TableSpec
	recreate  []bool
	table     string
	columns   []string
	rows      [][]any
	insertErr error
	closed    int
}

func (f *fakeRepo) Dialect() Dialect { return testDialect }

func (f *fakeRepo) PrepareTable(_ context.Context, spec TableSpec, recreate bool) error {
	f.prepared = append(f.prepared, spec)
	f.recreate = append(f.recreate, recreate)
	return nil
}

func (f *fakeRepo) InsertRows(_ context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.table, f.columns, f.rows = table, columns, rows
	return int64(len(rows)), nil
}

func (f *fakeRepo) Close() { f.closed++ }

func record(kv ...string) extracthtml.Record {
	var r extracthtml.Record
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i], kv[i+1])
	}
	return r
}

func TestInferKind(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   Kind
		ok     bool
	}{
		{"ints with separators", []string{"10,000", "5", "-", ""}, KindInt, true},
		{"decimals", []string{"4.50", "3", "N/A"}, KindDecimal, true},
		{"mixed text", []string{"4.50", "A+"}, KindText, true},
		{"percent is text", []string{"10%"}, KindText, true},
		{"negative is text", []string{"-5"}, KindText, true},
		{"only markers", []string{"", "-", "N/A"}, KindUnknown, false},
		{"no values", nil, KindUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := InferKind(tt.values)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestResolveColumns_Precedence(t *testing.T) {
	recs := []extracthtml.Record{
		record("Current_Rate", "N/A", "Min_Premium", "10,000", "Years", "5", "Notes", "x", "Empty", ""),
	}
	cols := []string{"Current_Rate", "Min_Premium", "Years", "Notes", "Empty"}
	overrides := map[string]string{"Years": "SMALLINT", "Notes": "VARCHAR(50)"}

	got := ResolveColumns(testDialect, cols, recs, overrides, DefaultHints())
	want := []ColumnSpec{
		{Name: "Current_Rate", Kind: KindDecimal, Type: "DEC"}, // hint: no values
		{Name: "Min_Premium", Kind: KindInt, Type: "INT"},      // inferred
		{Name: "Years", Kind: KindInt, Type: "SMALLINT"},       // override
		{Name: "Notes", Kind: KindText, Type: "VARCHAR(50)"},
		{Name: "Empty", Kind: KindText, Type: "TXT"},
	}
	assert.Equal(t, want, got)
}

func TestResolveColumns_InferenceBeatsHint(t *testing.T) {
	recs := []extracthtml.Record{record("Current_Rate", "see notes")}
	got := ResolveColumns(testDialect, []string{"Current_Rate"}, recs, nil, DefaultHints())
	assert.Equal(t, KindText, got[0].Kind)
}

func TestBuildTableSpec_HintsLayerOverDefaults(t *testing.T) {
	recs := []extracthtml.Record{record("Current_Rate", "", "Min_Premium", "N/A", "Years", "")}

	spec, err := BuildTableSpec(testDialect, recs, SaveOptions{
		Table: "t",
		Hints: map[string]Kind{"Current_Rate": KindText, "Years": KindInt},
	})
	require.NoError(t, err)

	kinds := map[string]Kind{}
	for _, c := range spec.Columns {
		kinds[c.Name] = c.Kind
	}
	assert.Equal(t, map[string]Kind{
		"Current_Rate": KindText,
		"Min_Premium":  KindInt,
		"Years":        KindInt,
	}, kinds)
	assert.Equal(t, KindDecimal, DefaultHints()["Current_Rate"])
}

func TestConvertValue(t *testing.T) {
	assert.Nil(t, ConvertValue(KindInt, "N/A"))
	assert.Nil(t, ConvertValue(KindText, " - "))
	assert.Equal(t, int64(10000), ConvertValue(KindInt, "10,000"))
	assert.Equal(t, 1234.5, ConvertValue(KindDecimal, "1,234.50"))
	assert.Equal(t, "5+", ConvertValue(KindInt, "5+"), "unparseable numbers pass through")
	assert.Equal(t, " A+ ", ConvertValue(KindText, " A+ "))
}

func TestChunkRows(t *testing.T) {
	rows := make([][]any, 10)
	chunks := ChunkRows(rows, 3, 7)
	require.Len(t, chunks, 5)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c)*3, 7)
	}

	assert.Len(t, ChunkRows(rows, 10, 5), 10, "at least one row per chunk")
	assert.Nil(t, ChunkRows(nil, 3, 7))
}

func TestPlaceholderRows(t *testing.T) {
	got := PlaceholderRows(2, 2, func(n int) string { return "$" + string(rune('0'+n)) })
	assert.Equal(t, "($1, $2), ($3, $4)", got)
}

func TestSave(t *testing.T) {
	repo := &fakeRepo{}
	recs := []extracthtml.Record{
		record("Company_Product_Name", "Acme", "Min_Premium", "10,000", "id", "7"),
		record("Company_Product_Name", "Beta", "Current_Rate", "4.1"),
	}

	n, err := Save(context.Background(), repo, recs, SaveOptions{Table: "annuities", Recreate: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.Len(t, repo.prepared, 1)
	spec := repo.prepared[0]
	assert.True(t, repo.recreate[0])
	assert.Equal(t, &PrimaryKeySpec{Name: IDColumn}, spec.PrimaryKey)
	assert.Equal(t, []string{"Company_Product_Name", "Current_Rate", "Min_Premium"}, repo.columns)
	assert.Equal(t, [][]any{
		{"Acme", nil, int64(10000)},
		{"Beta", 4.1, nil},
	}, repo.rows)
}

func TestSave_ExplicitColumns(t *testing.T) {
	repo := &fakeRepo{}
	recs := []extracthtml.Record{record("a", "1", "b", "2", "c", "3")}
	_, err := Save(context.Background(), repo, recs, SaveOptions{Table: "t", Columns: []string{"c", "a"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, repo.columns)
	assert.False(t, repo.recreate[0])
}

func TestSave_Errors(t *testing.T) {
	ctx := context.Background()

	n, err := Save(ctx, &fakeRepo{}, nil, SaveOptions{Table: "t"})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = Save(ctx, &fakeRepo{}, []extracthtml.Record{record("a", "1")}, SaveOptions{})
	assert.Error(t, err)

	boom := errors.New("duplicate key")
	_, err = Save(ctx, &fakeRepo{insertErr: boom}, []extracthtml.Record{record("a", "1")}, SaveOptions{Table: "t"})
	assert.ErrorIs(t, err, boom)
	assert.True(t, strings.HasPrefix(err.Error(), "insert into t:"))
}

func TestRegistry(t *testing.T) {
	kind := "fake-registry-test"
	Register(kind, func(context.Context, Config) (Repository, error) { return &fakeRepo{}, nil })

	assert.Contains(t, Kinds(), kind)
	repo, err := Open(context.Background(), Config{Kind: kind})
	require.NoError(t, err)
	assert.Equal(t, "fake", repo.Dialect().Name)

	assert.Panics(t, func() {
		Register(kind, func(context.Context, Config) (Repository, error) { return nil, nil })
	})
	assert.Panics(t, func() { Register("", nil) })

	_, err = Open(context.Background(), Config{})
	assert.Error(t, err)
	_, err = Open(context.Background(), Config{Kind: "oracle"})
	assert.ErrorContains(t, err, "unsupported storage kind=oracle")
}
