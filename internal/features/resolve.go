// Package features resolves lookback queries and derived metrics against a
// dataset view and assembles them into result tables.
package features

import (
	"github.com/sells-group/feature-cli/internal/model"
)

// Lookup is the read side of a dataset view.
type Lookup interface {
	Get(id int64, year int, field string) (model.Value, error)
	RegistrationYear(id int64) (int, error)
}

// yearSpanner is implemented by lookups that know which years hold values.
type yearSpanner interface {
	YearSpan() (first, last int, ok bool)
}

// Resolve returns the most recent value of field for company id within the
// window [referenceYear-prev-lastAvailable, referenceYear-prev], scanning from
// the newest year. Lookup errors (unknown company) resolve to Absent.
func Resolve(src Lookup, id int64, referenceYear int, field string, prev, lastAvailable int) model.Value {
	hi := referenceYear - prev
	lo := hi - lastAvailable
	if span, ok := src.(yearSpanner); ok {
		first, last, has := span.YearSpan()
		if !has {
			return model.Absent
		}
		hi = min(hi, last)
		lo = max(lo, first)
	}
	for year := hi; year >= lo; year-- {
		v, err := src.Get(id, year, field)
		if err != nil {
			return model.Absent
		}
		if !v.IsAbsent() {
			return v
		}
	}
	return model.Absent
}
