package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies what a Value holds.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindNumber
	KindText
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	default:
		return "absent"
	}
}

// Value is a dataset cell or a resolved feature. The zero Value is Absent,
// which is distinct from numeric zero and from any text (including "").
type Value struct {
	kind Kind
	num  float64
	text string
}

// Absent is the single missing-value sentinel used across the pipeline.
var Absent = Value{}

// Number wraps f. NaN and ±Inf normalise to Absent.
func Number(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Absent
	}
	return Value{kind: KindNumber, num: f}
}

// Text wraps s as a raw textual value.
func Text(s string) Value {
	return Value{kind: KindText, text: s}
}

// Kind reports the value kind.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether v is the missing sentinel.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// IsNumber reports whether v holds a number.
func (v Value) IsNumber() bool { return v.kind == KindNumber }

// IsText reports whether v holds text.
func (v Value) IsText() bool { return v.kind == KindText }

// Float returns the numeric payload and true if v is a number.
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// Str returns the textual payload and true if v is text.
func (v Value) Str() (string, bool) {
	if v.kind != KindText {
		return "", false
	}
	return v.text, true
}

// Int returns the number as an int64 when it has no fractional part.
func (v Value) Int() (int64, bool) {
	f, ok := v.Float()
	if !ok || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}

// Integer is Int that also accepts integral text such as " 42".
func (v Value) Integer() (int64, bool) {
	if s, ok := v.Str(); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		return n, err == nil
	}
	return v.Int()
}

// Scale multiplies a number by k. Non-numbers become Absent.
func (v Value) Scale(k float64) Value {
	f, ok := v.Float()
	if !ok {
		return Absent
	}
	return Number(f * k)
}

// Add returns v + o. If either operand is not a number the sum is Absent.
func (v Value) Add(o Value) Value {
	a, ok := v.Float()
	if !ok {
		return Absent
	}
	b, ok := o.Float()
	if !ok {
		return Absent
	}
	return Number(a + b)
}

// Equal reports whether v and o have the same kind and payload.
func (v Value) Equal(o Value) bool {
	return v == o
}

// String renders v for tabular output. Absent renders as "".
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindText:
		return v.text
	default:
		return ""
	}
}

// MarshalJSON encodes Absent as null, numbers as JSON numbers and text as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.num)
	case KindText:
		return json.Marshal(v.text)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts null, numbers, strings and booleans (as text).
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// FromAny converts a decoded scalar into a Value. Unknown types render as text.
func FromAny(raw any) Value {
	switch x := raw.(type) {
	case nil:
		return Absent
	case Value:
		return x
	case float64:
		return Number(x)
	case float32:
		return Number(float64(x))
	case int:
		return Number(float64(x))
	case int8:
		return Number(float64(x))
	case int16:
		return Number(float64(x))
	case int32:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case uint:
		return Number(float64(x))
	case uint8:
		return Number(float64(x))
	case uint16:
		return Number(float64(x))
	case uint32:
		return Number(float64(x))
	case uint64:
		return Number(float64(x))
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Text(x.String())
		}
		return Number(f)
	case string:
		return Text(x)
	case []byte:
		return Text(string(x))
	case bool:
		return Text(strconv.FormatBool(x))
	case time.Time:
		return Text(x.Format(time.RFC3339))
	default:
		return Text(fmt.Sprint(x))
	}
}
