// Package dataset normalises a wide company table, whose columns encode a year
// and a field name, into a read-only (company, year, field) index.
package dataset

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/feature-cli/internal/model"
	"github.com/sells-group/feature-cli/internal/table"
)

const (
	DefaultIDColumn           = "_id"
	DefaultRegistrationColumn = "registration_date"
)

// DefaultColumnPattern matches "2021, revenue": a 4-digit year, a comma and
// the field name.
var DefaultColumnPattern = regexp.MustCompile(`^(\d{4}),\s*(.+)$`)

var (
	// ErrNotFound is returned for a company id that is not in the dataset.
	ErrNotFound = eris.New("dataset: company not found")
	// ErrNoRegistration is returned when a known company has no usable registration date.
	ErrNoRegistration = eris.New("dataset: registration date missing")
)

// Options control how raw column names are interpreted.
type Options struct {
	IDColumn           string
	RegistrationColumn string
	// ColumnPattern must have two capture groups: year and field name.
	ColumnPattern *regexp.Regexp
}

func (o Options) withDefaults() Options {
	if o.IDColumn == "" {
		o.IDColumn = DefaultIDColumn
	}
	if o.RegistrationColumn == "" {
		o.RegistrationColumn = DefaultRegistrationColumn
	}
	if o.ColumnPattern == nil {
		o.ColumnPattern = DefaultColumnPattern
	}
	return o
}

// IDColumnOrDefault returns the configured id column name.
func (o Options) IDColumnOrDefault() string {
	return o.withDefaults().IDColumn
}

// Key addresses one stored value.
type Key struct {
	CompanyID int64
	Year      int
	Field     string
}

// View is the immutable (company, year, field) index built from a raw table.
type View struct {
	values     map[Key]model.Value
	registered map[int64]int
	companies  map[int64]struct{}
	years      map[int]struct{}
	fields     map[string]struct{}
	firstYear  int
	lastYear   int
}

// NormalizeField trims and NFC-normalises a field name so that headers and
// queries written in different Unicode forms address the same field.
func NormalizeField(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

type yearField struct {
	col   string
	year  int
	field string
}

// Build indexes raw. Absent cells are skipped; raw text is stored unchanged
// and cleaned on read.
func Build(raw *table.Table, opts Options) (*View, error) {
	opts = opts.withDefaults()
	if opts.ColumnPattern.NumSubexp() < 2 {
		return nil, eris.Errorf("dataset: column pattern %q needs 2 capture groups", opts.ColumnPattern)
	}

	ids, ok := raw.Column(opts.IDColumn)
	if !ok {
		return nil, model.Malformedf("dataset: missing %q column", opts.IDColumn)
	}

	var cols []yearField
	seen := make(map[[2]string]string)
	for _, name := range raw.Columns() {
		if name == opts.IDColumn || name == opts.RegistrationColumn {
			continue
		}
		m := opts.ColumnPattern.FindStringSubmatch(name)
		if m == nil {
			zap.L().Debug("dataset: ignoring column", zap.String("column", name))
			continue
		}
		year, err := strconv.Atoi(m[1])
		if err != nil {
			zap.L().Debug("dataset: ignoring column with bad year", zap.String("column", name))
			continue
		}
		field := NormalizeField(m[2])
		key := [2]string{m[1], field}
		if prev, dup := seen[key]; dup {
			return nil, model.Malformedf("dataset: columns %q and %q both map to year %d field %q", prev, name, year, field)
		}
		seen[key] = name
		cols = append(cols, yearField{col: name, year: year, field: field})
	}

	v := &View{
		values:     make(map[Key]model.Value),
		registered: make(map[int64]int, raw.Len()),
		companies:  make(map[int64]struct{}, raw.Len()),
		years:      make(map[int]struct{}),
		fields:     make(map[string]struct{}),
	}

	regs, hasReg := raw.Column(opts.RegistrationColumn)
	if !hasReg {
		zap.L().Warn("dataset: registration column missing, company age will be absent",
			zap.String("column", opts.RegistrationColumn),
		)
	}

	for r, cell := range ids {
		id, ok := cell.Integer()
		if !ok {
			return nil, model.Malformedf("dataset: row %d: %s %q is not an integer", r, opts.IDColumn, cell.String())
		}
		if _, dup := v.companies[id]; dup {
			return nil, model.Malformedf("dataset: row %d: duplicate %s %d", r, opts.IDColumn, id)
		}
		v.companies[id] = struct{}{}

		if hasReg {
			if y, ok := registrationYear(regs[r]); ok {
				v.registered[id] = y
			}
		}

		for _, c := range cols {
			val := raw.Cell(r, c.col)
			if val.IsAbsent() {
				continue
			}
			v.values[Key{CompanyID: id, Year: c.year, Field: c.field}] = val
			if len(v.years) == 0 || c.year < v.firstYear {
				v.firstYear = c.year
			}
			if len(v.years) == 0 || c.year > v.lastYear {
				v.lastYear = c.year
			}
			v.years[c.year] = struct{}{}
			v.fields[c.field] = struct{}{}
		}
	}

	zap.L().Debug("dataset: view built",
		zap.Int("companies", len(v.companies)),
		zap.Int("values", len(v.values)),
		zap.Int("fields", len(v.fields)),
		zap.Int("years", len(v.years)),
	)

	return v, nil
}

// Get returns the cleaned value stored for (id, year, field), or Absent if the
// company has no such value. Unknown companies yield ErrNotFound.
func (v *View) Get(id int64, year int, field string) (model.Value, error) {
	if _, ok := v.companies[id]; !ok {
		return model.Absent, eris.Wrapf(ErrNotFound, "company %d", id)
	}
	return Clean(v.values[Key{CompanyID: id, Year: year, Field: field}]), nil
}

// Raw returns the stored value without cleaning.
func (v *View) Raw(id int64, year int, field string) model.Value {
	return v.values[Key{CompanyID: id, Year: year, Field: field}]
}

// RegistrationYear returns the year the company was registered.
func (v *View) RegistrationYear(id int64) (int, error) {
	if _, ok := v.companies[id]; !ok {
		return 0, eris.Wrapf(ErrNotFound, "company %d", id)
	}
	y, ok := v.registered[id]
	if !ok {
		return 0, eris.Wrapf(ErrNoRegistration, "company %d", id)
	}
	return y, nil
}

// Len returns the number of stored (non-absent) values.
func (v *View) Len() int { return len(v.values) }

// YearSpan returns the earliest and latest year holding a value. ok is false
// for a view without values.
func (v *View) YearSpan() (first, last int, ok bool) {
	if len(v.years) == 0 {
		return 0, 0, false
	}
	return v.firstYear, v.lastYear, true
}

// Companies returns the company ids in ascending order.
func (v *View) Companies() []int64 {
	out := make([]int64, 0, len(v.companies))
	for id := range v.companies {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Years returns the years that hold at least one value, ascending.
func (v *View) Years() []int {
	out := make([]int, 0, len(v.years))
	for y := range v.years {
		out = append(out, y)
	}
	sort.Ints(out)
	return out
}

// Fields returns the field names that hold at least one value, sorted.
func (v *View) Fields() []string {
	out := make([]string, 0, len(v.fields))
	for f := range v.fields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
