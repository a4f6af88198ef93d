package dataset

import (
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/feature-cli/internal/model"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02.01.2006",
	"02.01.2006 15:04:05",
	"01/02/2006",
	"2006/01/02",
}

// registrationYear extracts a calendar year from a registration date cell.
// Numbers in [1000, 9999] are taken as a bare year.
func registrationYear(v model.Value) (int, bool) {
	if n, ok := v.Int(); ok {
		if n >= 1000 && n <= 9999 {
			return int(n), true
		}
		return 0, false
	}
	s, ok := v.Str()
	if !ok {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if len(s) == 4 {
		if y, err := strconv.Atoi(s); err == nil {
			return y, true
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Year(), true
		}
	}
	return 0, false
}
