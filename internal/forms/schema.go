package forms

import (
	"embed"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"dfsportal/internal/types"
)

//go:embed schemas/*.yaml
var embeddedSchemas embed.FS

// FieldSpec describes one form field.
type FieldSpec struct {
	Name      string   `yaml:"name" json:"name"`
	Label     string   `yaml:"label" json:"label"`
	Kind      Kind     `yaml:"kind" json:"kind"`
	Required  bool     `yaml:"required" json:"required"`
	Min       *float64 `yaml:"min" json:"min,omitempty"`
	Max       *float64 `yaml:"max" json:"max,omitempty"`
	MaxLength int      `yaml:"maxLength" json:"max_length,omitempty"`
}

// Schema is a named, versioned set of fields.
type Schema struct {
	Name    string      `yaml:"name" json:"name"`
	Version int         `yaml:"version" json:"version"`
	Title   string      `yaml:"title" json:"title"`
	Fields  []FieldSpec `yaml:"fields" json:"fields"`

	byName map[string]int
}

// ParseSchema decodes and checks a YAML schema document.
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding schema: %w", err)
	}
	if s.Name == "" {
		return nil, errors.New("schema has no name")
	}
	if len(s.Fields) == 0 {
		return nil, fmt.Errorf("schema %s has no fields", s.Name)
	}

	s.byName = make(map[string]int, len(s.Fields))
	for i, f := range s.Fields {
		if f.Name == "" {
			return nil, fmt.Errorf("schema %s: field %d has no name", s.Name, i)
		}
		if !f.Kind.Valid() {
			return nil, fmt.Errorf("schema %s: field %s has unknown kind %q", s.Name, f.Name, f.Kind)
		}
		if _, dup := s.byName[f.Name]; dup {
			return nil, fmt.Errorf("schema %s: duplicate field %s", s.Name, f.Name)
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			return nil, fmt.Errorf("schema %s: field %s has min > max", s.Name, f.Name)
		}
		s.byName[f.Name] = i
	}
	return &s, nil
}

var loadSalesReport = sync.OnceValues(func() (*Schema, error) {
	data, err := embeddedSchemas.ReadFile("schemas/sales_report.yaml")
	if err != nil {
		return nil, err
	}
	return ParseSchema(data)
})

// SalesReport returns the embedded sales report schema. The embedded document
// is checked by tests, so a failure here is a build defect.
func SalesReport() *Schema {
	s, err := loadSalesReport()
	if err != nil {
		panic(fmt.Sprintf("embedded sales report schema: %v", err))
	}
	return s
}

// Field returns the definition of name.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	i, ok := s.byName[name]
	if !ok {
		return FieldSpec{}, false
	}
	return s.Fields[i], true
}

// Normalize coerces every value in payload through its field codec and
// validates it. Unknown fields are rejected. With partial set, required
// fields may be absent, which is how in-progress drafts are saved; a null
// value counts as absent. All problems are reported together in a
// validation_invalid_field error whose details map field names to messages.
func (s *Schema) Normalize(payload map[string]any, partial bool) (map[string]any, error) {
	out := make(map[string]any, len(payload))
	problems := make(map[string]string)

	for name, raw := range payload {
		f, ok := s.Field(name)
		if !ok {
			problems[name] = "unknown field"
			continue
		}
		if raw == nil {
			continue
		}

		codec, _ := Lookup(f.Kind)
		v, err := codec.Parse(raw)
		if err != nil {
			problems[name] = err.Error()
			continue
		}
		if err := codec.Validate(v, f); err != nil {
			problems[name] = err.Error()
			continue
		}
		out[name] = v
	}

	if !partial {
		for _, f := range s.Fields {
			if _, present := out[f.Name]; !present && f.Required {
				if _, already := problems[f.Name]; !already {
					problems[f.Name] = "is required"
				}
			}
		}
	}

	if len(problems) > 0 {
		names := make([]string, 0, len(problems))
		for n := range problems {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
			fmt.Sprintf("%d field(s) of %s are invalid: %v", len(problems), s.Name, names), nil,
			map[string]any{"fields": problems})
	}
	return out, nil
}

// Format renders every known field of payload for display, keyed by field
// name. Values that do not parse are rendered as-is.
func (s *Schema) Format(payload map[string]any) map[string]string {
	out := make(map[string]string, len(payload))
	for name, v := range payload {
		f, ok := s.Field(name)
		if !ok || v == nil {
			continue
		}
		codec, _ := Lookup(f.Kind)
		canon, err := codec.Parse(v)
		if err != nil {
			out[name] = fmt.Sprint(v)
			continue
		}
		out[name] = codec.Format(canon)
	}
	return out
}
