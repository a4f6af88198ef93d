package model

import (
	"strconv"
	"strings"
)

// Bounds on the year offsets a query may use. The validate tags on Query
// carry the same numbers.
const (
	MaxShift         = 1000
	MaxLastAvailable = 1000
)

// Query describes one output column: a stored field or a derived metric,
// resolved with a lookback shift (Prev) and a fallback window (LastAvailable).
type Query struct {
	FieldName     string `json:"field_name" yaml:"field_name" mapstructure:"field_name" validate:"required"`
	Prev          int    `json:"prev,omitempty" yaml:"prev,omitempty" mapstructure:"prev" validate:"min=-1000,max=1000"`
	LastAvailable int    `json:"last_available,omitempty" yaml:"last_available,omitempty" mapstructure:"last_available" validate:"gte=0,lte=1000"`
}

// ColumnName returns the deterministic output column name for q.
//
//	{field_name: "revenue"}                           -> "revenue"
//	{field_name: "revenue", prev: 2}                  -> "revenue PrevPrev"
//	{field_name: "revenue", prev: -1, last_available: 3} -> "revenue Next LA3"
//
// Shifts beyond MaxShift never pass validation; they are written as a count
// ("Prev5000") instead of being repeated.
func (q Query) ColumnName() string {
	var postfix strings.Builder
	switch {
	case q.Prev > MaxShift:
		postfix.WriteString("Prev" + strconv.Itoa(q.Prev))
	case q.Prev < -MaxShift:
		// -q.Prev overflows for math.MinInt.
		postfix.WriteString("Next" + strings.TrimPrefix(strconv.Itoa(q.Prev), "-"))
	case q.Prev > 0:
		postfix.WriteString(strings.Repeat("Prev", q.Prev))
	case q.Prev < 0:
		postfix.WriteString(strings.Repeat("Next", -q.Prev))
	}
	if q.LastAvailable != 0 {
		postfix.WriteString(" LA")
		postfix.WriteString(strconv.Itoa(q.LastAvailable))
	}
	return strings.TrimSpace(q.FieldName + " " + strings.TrimSpace(postfix.String()))
}
