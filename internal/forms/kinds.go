// Package forms describes the fields of portal forms and normalizes submitted
// values. Each field kind is handled by a Codec looked up from a fixed table;
// adding a kind means adding a table entry, not another branch.
package forms

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Kind is the closed set of field value kinds.
type Kind string

const (
	KindString   Kind = "string"
	KindNumber   Kind = "number"
	KindInteger  Kind = "integer"
	KindBoolean  Kind = "boolean"
	KindDateTime Kind = "datetime"
)

// Codec converts between raw submitted values and the canonical JSON-native
// value stored in a draft.
type Codec struct {
	// Parse coerces raw input into the canonical value: string, float64
	// (integral for integers), bool, or an RFC 3339 UTC string for datetimes.
	Parse func(raw any) (any, error)
	// Format renders a canonical value for display.
	Format func(v any) string
	// Validate checks a canonical value against the field's constraints.
	Validate func(v any, f FieldSpec) error
}

var codecs = map[Kind]Codec{
	KindString:   {Parse: parseString, Format: formatString, Validate: validateString},
	KindNumber:   {Parse: parseNumber, Format: formatNumber, Validate: validateRange},
	KindInteger:  {Parse: parseInteger, Format: formatInteger, Validate: validateRange},
	KindBoolean:  {Parse: parseBoolean, Format: formatBoolean, Validate: noConstraints},
	KindDateTime: {Parse: parseDateTime, Format: formatDateTime, Validate: noConstraints},
}

// Lookup returns the codec for k.
func Lookup(k Kind) (Codec, bool) {
	c, ok := codecs[k]
	return c, ok
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := codecs[k]
	return ok
}

// UnmarshalYAML rejects unknown kinds when a schema is loaded.
func (k *Kind) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if !Kind(s).Valid() {
		return fmt.Errorf("line %d: unknown field kind %q", node.Line, s)
	}
	*k = Kind(s)
	return nil
}

var errWrongType = errors.New("wrong type")

func parseString(raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: expected text", errWrongType)
	}
	return s, nil
}

func formatString(v any) string {
	s, _ := v.(string)
	return s
}

func validateString(v any, f FieldSpec) error {
	s, _ := v.(string)
	if f.MaxLength > 0 && utf8.RuneCountInString(s) > f.MaxLength {
		return fmt.Errorf("must be at most %d characters", f.MaxLength)
	}
	return nil
}

func parseNumber(raw any) (any, error) {
	var n float64
	switch v := raw.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", v.String())
		}
		n = f
	case string:
		// Form inputs arrive as text, often with thousands separators.
		cleaned := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", v)
		}
		n = f
	default:
		return nil, fmt.Errorf("%w: expected a number", errWrongType)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, errors.New("must be a finite number")
	}
	return n, nil
}

func formatNumber(v any) string {
	n, _ := v.(float64)
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func parseInteger(raw any) (any, error) {
	v, err := parseNumber(raw)
	if err != nil {
		return nil, err
	}
	n := v.(float64)
	if n != math.Trunc(n) {
		return nil, errors.New("must be a whole number")
	}
	if math.Abs(n) > 1<<53 {
		return nil, errors.New("is too large")
	}
	return n, nil
}

func formatInteger(v any) string {
	n, _ := v.(float64)
	return strconv.FormatInt(int64(n), 10)
}

func validateRange(v any, f FieldSpec) error {
	n, _ := v.(float64)
	if f.Min != nil && n < *f.Min {
		return fmt.Errorf("must be at least %s", formatNumber(*f.Min))
	}
	if f.Max != nil && n > *f.Max {
		return fmt.Errorf("must be at most %s", formatNumber(*f.Max))
	}
	return nil
}

func parseBoolean(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "on", "yes", "1":
			return true, nil
		case "false", "off", "no", "0", "":
			return false, nil
		}
		return nil, fmt.Errorf("not a yes/no value: %q", v)
	default:
		return nil, fmt.Errorf("%w: expected true or false", errWrongType)
	}
}

func formatBoolean(v any) string {
	if b, _ := v.(bool); b {
		return "yes"
	}
	return "no"
}

// Layouts accepted for datetime input, most specific first. The
// datetime-local input of a browser omits seconds and zone; such values are
// read as UTC.
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseDateTime(raw any) (any, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339), nil
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range dateTimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC().Format(time.RFC3339), nil
			}
		}
		return nil, fmt.Errorf("not a date/time: %q", v)
	default:
		return nil, fmt.Errorf("%w: expected a date/time", errWrongType)
	}
}

func formatDateTime(v any) string {
	s, _ := v.(string)
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func noConstraints(any, FieldSpec) error { return nil }
