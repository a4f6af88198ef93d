package model

// Application is one evaluation request: the company and the reference year
// that lookback queries are evaluated against.
type Application struct {
	CompanyID int64 `json:"_id" yaml:"_id" mapstructure:"_id"`
	Year      int   `json:"year" yaml:"year" mapstructure:"year"`
}
