package types

import "log/slog"

const redacted = "[REDACTED]"

// SecretString holds a credential such as DATABASE_URL or the backend API
// key. Every way a value ends up in a log line or a JSON dump (fmt verbs,
// slog attributes, encoding/json) prints a placeholder; only Unmask returns
// the real value. An unset secret prints as empty so config dumps still show
// which credentials are missing.
type SecretString string

func (s SecretString) mask() string {
	if s == "" {
		return ""
	}
	return redacted
}

// String implements fmt.Stringer.
func (s SecretString) String() string { return s.mask() }

// GoString keeps %#v from printing the raw value.
func (s SecretString) GoString() string { return `types.SecretString("` + s.mask() + `")` }

// LogValue implements slog.LogValuer.
func (s SecretString) LogValue() slog.Value { return slog.StringValue(s.mask()) }

// MarshalJSON implements json.Marshaler.
func (s SecretString) MarshalJSON() ([]byte, error) { return []byte(`"` + s.mask() + `"`), nil }

// IsSet reports whether a value was configured.
func (s SecretString) IsSet() bool { return s != "" }

// Unmask returns the real value for the driver or HTTP client that needs it.
func (s SecretString) Unmask() string { return string(s) }
