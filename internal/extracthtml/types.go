package extracthtml

import (
	"bytes"
	"encoding/json"
)

// Field is one named cell value.
type Field struct {
	Name  string
	Value string
}

// Link is an anchor found inside a cell. Href is resolved against the page URL
// when possible.
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// Meta records where a record came from.
type Meta struct {
	PageNumber int
	RowIndex   int
	SourceURL  string
}

// Record is one table row as ordered name/value pairs. Field order follows
// the table header (or the column mapping once mapped).
type Record struct {
	Fields []Field
	Links  map[string][]Link
	Meta   Meta
}

// Get returns the value stored under name.
func (r Record) Get(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Value is Get without the presence flag.
func (r Record) Value(name string) string {
	v, _ := r.Get(name)
	return v
}

// Set replaces the value under name, or appends a new field.
func (r *Record) Set(name, value string) {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			r.Fields[i].Value = value
			return
		}
	}
	r.Fields = append(r.Fields, Field{Name: name, Value: value})
}

// Keys returns field names in order.
func (r Record) Keys() []string {
	keys := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		keys[i] = f.Name
	}
	return keys
}

// AddLinks appends links under name.
func (r *Record) AddLinks(name string, links ...Link) {
	if len(links) == 0 {
		return
	}
	if r.Links == nil {
		r.Links = make(map[string][]Link)
	}
	r.Links[name] = append(r.Links[name], links...)
}

// MarshalJSON writes the fields as one object in field order, without HTML
// escaping. Links and Meta are not included.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONString(&buf, f.Name); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeJSONString(&buf, f.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode appends a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}
