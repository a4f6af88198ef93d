package model

import "github.com/rotisserie/eris"

// ErrMalformed marks input that aborts a batch before any row is processed:
// a query without a field name, an application without _id or year, a
// dataset without _id, and similar structural defects.
var ErrMalformed = eris.New("malformed input")

// Malformedf wraps ErrMalformed with a formatted description.
func Malformedf(format string, args ...any) error {
	return eris.Wrapf(ErrMalformed, format, args...)
}
