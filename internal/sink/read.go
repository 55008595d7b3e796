package sink

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"ratewatch/internal/extracthtml"
)

// ReadJSON reads records written by WriteJSON. The root may be an array of
// objects or an object whose first array-valued member holds them. Member
// order becomes field order; meta and <field>_links members are restored.
func ReadJSON(r io.Reader) ([]extracthtml.Record, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("json: read first token: %w", err)
	}

	switch tok {
	case json.Delim('['):
		return readArray(dec)
	case json.Delim('{'):
		for dec.More() {
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("json: read envelope key: %w", err)
			}
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return nil, fmt.Errorf("json: read envelope value: %w", err)
			}
			if trimmed := strings.TrimSpace(string(raw)); strings.HasPrefix(trimmed, "[") {
				return ReadJSON(strings.NewReader(trimmed))
			}
		}
		return nil, errors.New("json: object root has no array of records")
	}
	return nil, fmt.Errorf("json: unsupported root token %v (want object or array)", tok)
}

func readArray(dec *json.Decoder) ([]extracthtml.Record, error) {
	var out []extracthtml.Record
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("json: record %d: %w", len(out)+1, err)
		}
		if tok == nil {
			continue
		}
		if tok != json.Delim('{') {
			return nil, fmt.Errorf("json: record %d is not an object (got %v)", len(out)+1, tok)
		}
		rec, err := readObject(dec)
		if err != nil {
			return nil, fmt.Errorf("json: record %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("json: read array end: %w", err)
	}
	return out, nil
}

// readObject reads members after '{' up to and including '}'.
func readObject(dec *json.Decoder) (extracthtml.Record, error) {
	var rec extracthtml.Record
	pending := map[string][]extracthtml.Link{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return rec, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return rec, fmt.Errorf("object key not a string (got %T)", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return rec, fmt.Errorf("member %q: %w", key, err)
		}

		if applyMeta(&rec.Meta, key, scalarString(raw)) {
			continue
		}
		if base, ok := strings.CutSuffix(key, linksSuffix); ok {
			var links []extracthtml.Link
			if err := json.Unmarshal(raw, &links); err == nil {
				pending[base] = links
				continue
			}
		}
		rec.Set(key, scalarString(raw))
	}
	if _, err := dec.Token(); err != nil {
		return rec, err
	}
	for name, links := range pending {
		rec.AddLinks(name, links...)
	}
	return rec, nil
}

// ReadCSV reads records written by WriteCSV. Header names are trimmed and a
// leading byte-order mark is dropped. Short rows leave trailing fields empty.
func ReadCSV(r io.Reader) ([]extracthtml.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	hdr, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv: read header: %w", err)
	}
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		hdr[i] = strings.TrimSpace(h)
	}

	var out []extracthtml.Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("csv: line %d: %w", line, err)
		}

		var rec extracthtml.Record
		for i, name := range hdr {
			v := ""
			if i < len(row) {
				v = row[i]
			}
			if applyMeta(&rec.Meta, name, v) {
				continue
			}
			if base, ok := strings.CutSuffix(name, linksSuffix); ok {
				if v == "" {
					continue
				}
				var links []extracthtml.Link
				if err := json.Unmarshal([]byte(v), &links); err == nil {
					rec.AddLinks(base, links...)
					continue
				}
			}
			rec.Set(name, v)
		}
		out = append(out, rec)
	}
}

func applyMeta(m *extracthtml.Meta, key, v string) bool {
	switch key {
	case MetaPageNumber:
		m.PageNumber, _ = strconv.Atoi(v)
	case MetaRowIndex:
		m.RowIndex, _ = strconv.Atoi(v)
	case MetaSourceURL:
		m.SourceURL = v
	default:
		return false
	}
	return true
}
