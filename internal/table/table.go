// Package table provides the in-memory column-ordered table exchanged between
// loaders, the feature engine, and writers.
package table

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/feature-cli/internal/model"
)

// Table is an ordered set of equally long named columns.
type Table struct {
	columns []string
	index   map[string]int
	data    [][]model.Value
	rows    int
}

// New creates an empty table with zero rows.
func New() *Table {
	return &Table{index: make(map[string]int)}
}

// FromRows builds a table from a header and row-major records. Short records
// are padded with Absent; long records and duplicate header names are errors.
func FromRows(header []string, records [][]model.Value) (*Table, error) {
	t := New()
	t.rows = len(records)
	for _, name := range header {
		if _, dup := t.index[name]; dup {
			return nil, eris.Errorf("table: duplicate column %q", name)
		}
		t.index[name] = len(t.columns)
		t.columns = append(t.columns, name)
		t.data = append(t.data, make([]model.Value, len(records)))
	}
	for r, rec := range records {
		if len(rec) > len(header) {
			return nil, eris.Errorf("table: row %d has %d cells, header has %d", r, len(rec), len(header))
		}
		for c, v := range rec {
			t.data[c][r] = v
		}
	}
	return t, nil
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Len returns the number of rows.
func (t *Table) Len() int { return t.rows }

// Has reports whether the named column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns the values of the named column. The slice is shared with the
// table and must not be modified.
func (t *Table) Column(name string) ([]model.Value, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.data[i], true
}

// Cell returns the value at row r of the named column, Absent if either is out of range.
func (t *Table) Cell(r int, name string) model.Value {
	i, ok := t.index[name]
	if !ok || r < 0 || r >= t.rows {
		return model.Absent
	}
	return t.data[i][r]
}

// Row returns the r-th row in column order.
func (t *Table) Row(r int) []model.Value {
	out := make([]model.Value, len(t.columns))
	for c := range t.columns {
		out[c] = t.data[c][r]
	}
	return out
}

// Rows returns all rows in column order.
func (t *Table) Rows() [][]model.Value {
	out := make([][]model.Value, t.rows)
	for r := range out {
		out[r] = t.Row(r)
	}
	return out
}

// Set stores values under name. An existing column with the same name is
// overwritten in place and keeps its position; otherwise the column is
// appended. The first column set on an empty table fixes the row count.
// It reports whether an existing column was replaced.
func (t *Table) Set(name string, values []model.Value) (bool, error) {
	if len(t.columns) == 0 {
		t.rows = len(values)
	}
	if len(values) != t.rows {
		return false, eris.Errorf("table: column %q has %d values, table has %d rows", name, len(values), t.rows)
	}
	if i, ok := t.index[name]; ok {
		t.data[i] = values
		return true, nil
	}
	t.index[name] = len(t.columns)
	t.columns = append(t.columns, name)
	t.data = append(t.data, values)
	return false, nil
}

// Strings returns the header followed by every row rendered as text, the
// shape encoding/csv writes.
func (t *Table) Strings() [][]string {
	out := make([][]string, 0, t.rows+1)
	out = append(out, t.Columns())
	for r := 0; r < t.rows; r++ {
		rec := make([]string, len(t.columns))
		for c := range t.columns {
			rec[c] = t.data[c][r].String()
		}
		out = append(out, rec)
	}
	return out
}
