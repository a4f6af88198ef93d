package features

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/feature-cli/internal/model"
)

// Term is one signed component of the profit formula.
type Term struct {
	Field string  `json:"field" yaml:"field" mapstructure:"field"`
	Sign  float64 `json:"sign" yaml:"sign" mapstructure:"sign"`
}

// DefaultProfitTerms is revenue less cost of sales, administrative and
// commercial expenses.
var DefaultProfitTerms = []Term{
	{Field: "revenue", Sign: 1},
	{Field: "cost_of_sales", Sign: -1},
	{Field: "administrative_expenses", Sign: -1},
	{Field: "commercial_expenses", Sign: -1},
}

// AgePolicy selects how a reference year at or before registration is reported.
type AgePolicy string

const (
	// AgeStrict reports Absent when the age is not strictly positive.
	AgeStrict AgePolicy = "strict"
	// AgeAbsolute reports the absolute year difference.
	AgeAbsolute AgePolicy = "absolute"
)

// ParseAgePolicy validates a policy name. Empty means AgeStrict.
func ParseAgePolicy(s string) (AgePolicy, error) {
	switch AgePolicy(s) {
	case "", AgeStrict:
		return AgeStrict, nil
	case AgeAbsolute:
		return AgeAbsolute, nil
	default:
		return "", eris.Errorf("features: unknown age policy %q", s)
	}
}

// Profit sums the profit terms, each resolved with the same window. A term that
// is Absent or not numeric makes the whole result Absent.
func (e *Engine) Profit(src Lookup, id int64, referenceYear, prev, lastAvailable int) model.Value {
	sum := model.Number(0)
	for _, t := range e.terms {
		v := Resolve(src, id, referenceYear, t.Field, prev, lastAvailable)
		if !v.IsNumber() {
			return model.Absent
		}
		sum = sum.Add(v.Scale(t.Sign))
	}
	return sum
}

// CompanyAge is referenceYear minus the registration year, subject to the
// engine's age policy. Unknown companies and dates are Absent.
func (e *Engine) CompanyAge(src Lookup, id int64, referenceYear int) model.Value {
	registered, err := src.RegistrationYear(id)
	if err != nil {
		return model.Absent
	}
	age := referenceYear - registered
	switch e.opts.AgePolicy {
	case AgeAbsolute:
		if age < 0 {
			age = -age
		}
	default:
		if age <= 0 {
			return model.Absent
		}
	}
	return model.Number(float64(age))
}
