package table

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/feature-cli/internal/model"
)

// wireTable is the column/row JSON form of a Table.
type wireTable struct {
	Columns []string        `json:"columns"`
	Rows    [][]model.Value `json:"rows"`
}

// MarshalJSON encodes the table as {"columns": [...], "rows": [[...], ...]}.
func (t *Table) MarshalJSON() ([]byte, error) {
	w := wireTable{Columns: t.Columns(), Rows: t.Rows()}
	if w.Rows == nil {
		w.Rows = [][]model.Value{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts either the column/row form or an array of objects.
// In the array form, column order follows first appearance of each key.
func (t *Table) UnmarshalJSON(data []byte) error {
	parsed, err := DecodeJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}

// DecodeJSON reads a table in either JSON form from r.
func DecodeJSON(r io.Reader) (*Table, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, eris.Wrap(err, "table: read opening token")
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil, eris.Errorf("table: expected '[' or '{', got %v", tok)
	}
	switch delim {
	case '[':
		return decodeRecords(dec)
	case '{':
		return decodeWire(dec)
	default:
		return nil, eris.Errorf("table: unexpected delimiter %v", delim)
	}
}

func decodeWire(dec *json.Decoder) (*Table, error) {
	var w wireTable
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, eris.Wrap(err, "table: read key")
		}
		key, _ := tok.(string)
		switch key {
		case "columns":
			err = dec.Decode(&w.Columns)
		case "rows":
			err = dec.Decode(&w.Rows)
		default:
			var skip json.RawMessage
			err = dec.Decode(&skip)
		}
		if err != nil {
			return nil, eris.Wrapf(err, "table: decode %q", key)
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, eris.Wrap(err, "table: read closing token")
	}
	if w.Columns == nil {
		return nil, eris.New("table: missing \"columns\"")
	}
	return FromRows(w.Columns, w.Rows)
}

func decodeRecords(dec *json.Decoder) (*Table, error) {
	var header []string
	pos := make(map[string]int)
	var records [][]model.Value

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, eris.Wrap(err, "table: read record")
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			return nil, eris.Errorf("table: record %d is not an object", len(records))
		}
		rec := make([]model.Value, len(header))
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, eris.Wrap(err, "table: read record key")
			}
			key, _ := tok.(string)
			var v model.Value
			if err := dec.Decode(&v); err != nil {
				return nil, eris.Wrapf(err, "table: decode record %d key %q", len(records), key)
			}
			i, ok := pos[key]
			if !ok {
				i = len(header)
				pos[key] = i
				header = append(header, key)
			}
			for len(rec) <= i {
				rec = append(rec, model.Absent)
			}
			rec[i] = v
		}
		if _, err := dec.Token(); err != nil {
			return nil, eris.Wrap(err, "table: close record")
		}
		records = append(records, rec)
	}
	if _, err := dec.Token(); err != nil {
		return nil, eris.Wrap(err, "table: read closing token")
	}
	return FromRows(header, records)
}

// EncodeRecords writes the table as a JSON array of objects, keys in column
// order. Absent cells are written as null.
func (t *Table) EncodeRecords(w io.Writer) error {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for r := 0; r < t.rows; r++ {
		if r > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for c, name := range t.columns {
			if c > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(name)
			if err != nil {
				return eris.Wrapf(err, "table: encode column %q", name)
			}
			val, err := t.data[c][r].MarshalJSON()
			if err != nil {
				return eris.Wrapf(err, "table: encode row %d column %q", r, name)
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
		buf.WriteByte('}')
	}
	buf.WriteString("]\n")
	if _, err := w.Write(buf.Bytes()); err != nil {
		return eris.Wrap(err, "table: write records")
	}
	return nil
}
