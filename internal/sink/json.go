// Package sink writes scraped records to JSON or CSV files and reads them
// back.
package sink

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"

	"ratewatch/internal/extracthtml"
)

// Options controls which extras accompany the record fields.
type Options struct {
	// IncludeMeta adds page_number, row_index and source_url.
	IncludeMeta bool
	// IncludeLinks adds <field>_links for every field with links.
	IncludeLinks bool
}

// Meta column names.
const (
	MetaPageNumber = "page_number"
	MetaRowIndex   = "row_index"
	MetaSourceURL  = "source_url"

	linksSuffix = "_links"
)

type member struct {
	key   string
	value any
}

// object is a JSON object that keeps member order.
type object []member

func (o object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := enc.Encode(m.key); err != nil {
			return nil, err
		}
		buf.Truncate(buf.Len() - 1)
		buf.WriteByte(':')
		if err := enc.Encode(m.value); err != nil {
			return nil, err
		}
		buf.Truncate(buf.Len() - 1)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func toObject(r extracthtml.Record, opts Options) object {
	o := make(object, 0, len(r.Fields)+3)
	for _, f := range r.Fields {
		o = append(o, member{f.Name, f.Value})
	}
	if opts.IncludeLinks {
		for _, f := range r.Fields {
			if links := r.Links[f.Name]; len(links) > 0 {
				o = append(o, member{f.Name + linksSuffix, links})
			}
		}
	}
	if opts.IncludeMeta {
		o = append(o,
			member{MetaPageNumber, r.Meta.PageNumber},
			member{MetaRowIndex, r.Meta.RowIndex},
			member{MetaSourceURL, r.Meta.SourceURL},
		)
	}
	return o
}

// WriteJSON writes records as a pretty-printed array. Field order is kept
// and HTML characters are not escaped.
func WriteJSON(w io.Writer, recs []extracthtml.Record, opts Options) error {
	objs := make([]object, 0, len(recs))
	for _, r := range recs {
		objs = append(objs, toObject(r, opts))
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(objs)
}

// scalarString renders a decoded JSON scalar the way it was written.
// Composite values keep their compact JSON text.
func scalarString(raw json.RawMessage) string {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return string(raw)
	}
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
