// Package query loads and validates query lists.
package query

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/feature-cli/internal/model"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		// Report JSON names (field_name, last_available) in errors.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks every query and reports the first malformed one.
func Validate(queries []model.Query) error {
	v := validatorInstance()
	for i, q := range queries {
		if strings.TrimSpace(q.FieldName) == "" {
			return model.Malformedf("query %d: field_name is required", i)
		}
		if err := v.Struct(q); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				fe := verrs[0]
				return model.Malformedf("query %d: %s failed %q (got %v)", i, fe.Field(), fe.Tag(), fe.Value())
			}
			return model.Malformedf("query %d: %v", i, err)
		}
	}
	return nil
}

// Parse decodes a query list. YAML is a superset of JSON, but JSON input goes
// through encoding/json so that unknown-type errors read naturally.
func Parse(data []byte) ([]model.Query, error) {
	var queries []model.Query
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &queries); err != nil {
			return nil, eris.Wrap(err, "query: parse json")
		}
	} else {
		var err error
		if queries, err = parseYAML(data); err != nil {
			return nil, err
		}
	}
	if err := Validate(queries); err != nil {
		return nil, err
	}
	return queries, nil
}

// parseYAML accepts either a bare sequence of queries or a mapping with a
// "queries" key.
func parseYAML(data []byte) ([]model.Query, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, eris.Wrap(err, "query: parse yaml")
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]
	var queries []model.Query
	if root.Kind == yaml.SequenceNode {
		if err := root.Decode(&queries); err != nil {
			return nil, eris.Wrap(err, "query: decode yaml list")
		}
		return queries, nil
	}
	var doc struct {
		Queries []model.Query `yaml:"queries"`
	}
	if err := root.Decode(&doc); err != nil {
		return nil, eris.Wrap(err, "query: decode yaml document")
	}
	return doc.Queries, nil
}

// Load reads a query list from a .yaml, .yml or .json file.
func Load(path string) ([]model.Query, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "query: read %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
	default:
		return nil, eris.Errorf("query: unsupported file type %q", filepath.Ext(path))
	}
	queries, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "query: load %s", path)
	}
	return queries, nil
}

// Columns returns the output column name of each query, in order.
func Columns(queries []model.Query) []string {
	out := make([]string, len(queries))
	for i, q := range queries {
		out[i] = q.ColumnName()
	}
	return out
}
