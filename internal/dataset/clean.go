package dataset

import (
	"strconv"
	"strings"

	"github.com/sells-group/feature-cli/internal/model"
)

// Clean applies the read-time cleaning policy to a stored value.
//
// Numbers and Absent pass through. Text made only of digits, spaces and
// decimal points is parsed as a number after removing the spaces ("1 234.5"
// becomes 1234.5); if that text still fails to parse ("", ".", "1.2.3") the
// result is Absent. Any other text is returned unchanged.
func Clean(v model.Value) model.Value {
	s, ok := v.Str()
	if !ok {
		return v
	}
	if !numericLike(s) {
		return v
	}
	f, err := strconv.ParseFloat(stripSpaces(s), 64)
	if err != nil {
		return model.Absent
	}
	return model.Number(f)
}

func numericLike(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', isGroupSpace(r):
		default:
			return false
		}
	}
	return true
}

// isGroupSpace matches the spaces used as thousands separators, including
// the no-break variants spreadsheet exports emit.
func isGroupSpace(r rune) bool {
	return r == ' ' || r == '\u00a0' || r == '\u202f'
}

func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if isGroupSpace(r) {
			return -1
		}
		return r
	}, s)
}
