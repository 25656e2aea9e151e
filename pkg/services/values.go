package services

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// Values is an untyped key-value mapping as supplied by the host, used both for
// integration configuration and for request payloads.
type Values map[string]any

// Request is the payload passed to a service handler.
type Request = Values

// Has reports whether key is present with a non-nil value.
func (v Values) Has(key string) bool {
	if v == nil {
		return false
	}
	val, ok := v[key]
	return ok && val != nil
}

// Get returns the raw value for key.
func (v Values) Get(key string) any {
	if v == nil {
		return nil
	}
	return v[key]
}

// String returns the value for key as a trimmed string, or "" when absent or not convertible.
func (v Values) String(key string) string {
	if !v.Has(key) {
		return ""
	}
	s, err := cast.ToStringE(v[key])
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// StringOr returns the string value for key, or def when it is empty.
func (v Values) StringOr(key, def string) string {
	if s := v.String(key); s != "" {
		return s
	}
	return def
}

// RequireString returns the string value for key or a FieldError when it is empty.
func (v Values) RequireString(key string) (string, error) {
	s := v.String(key)
	if s == "" {
		return "", &FieldError{Field: key}
	}
	return s, nil
}

// Int returns the value for key as an int.
func (v Values) Int(key string) (int, error) {
	if !v.Has(key) {
		return 0, &FieldError{Field: key}
	}
	n, err := cast.ToIntE(v[key])
	if err != nil {
		return 0, &FieldError{Field: key, Reason: fmt.Sprintf("expected integer: %v", err)}
	}
	return n, nil
}

// IntOr returns the int value for key, or def when absent or not convertible.
func (v Values) IntOr(key string, def int) int {
	n, err := v.Int(key)
	if err != nil {
		return def
	}
	return n
}

// BoolOr returns the bool value for key, or def when absent or not convertible.
func (v Values) BoolOr(key string, def bool) bool {
	if !v.Has(key) {
		return def
	}
	b, err := cast.ToBoolE(v[key])
	if err != nil {
		return def
	}
	return b
}

// FloatOr returns the float value for key, or def when absent or not convertible.
func (v Values) FloatOr(key string, def float64) float64 {
	if !v.Has(key) {
		return def
	}
	f, err := cast.ToFloat64E(v[key])
	if err != nil {
		return def
	}
	return f
}

// Map returns a nested mapping for key, or nil.
func (v Values) Map(key string) Values {
	if !v.Has(key) {
		return nil
	}
	m, err := cast.ToStringMapE(v[key])
	if err != nil {
		return nil
	}
	return Values(m)
}

// StringMap returns a nested string mapping for key (e.g. headers), or an empty map.
func (v Values) StringMap(key string) map[string]string {
	out := make(map[string]string)
	if !v.Has(key) {
		return out
	}
	m, err := cast.ToStringMapStringE(v[key])
	if err != nil {
		return out
	}
	for k, val := range m {
		out[k] = val
	}
	return out
}

// Slice returns the list value for key, or nil.
func (v Values) Slice(key string) []any {
	if !v.Has(key) {
		return nil
	}
	s, err := cast.ToSliceE(v[key])
	if err != nil {
		return nil
	}
	return s
}

// StringSlice returns the list value for key as strings. A single string is
// treated as a one-element list.
func (v Values) StringSlice(key string) []string {
	if !v.Has(key) {
		return nil
	}
	if s, ok := v[key].(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		return []string{s}
	}
	s, err := cast.ToStringSliceE(v[key])
	if err != nil {
		return nil
	}
	return s
}

// Clone returns a shallow copy.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Bool returns the value for key as a bool.
func (v Values) Bool(key string) (bool, error) {
	if !v.Has(key) {
		return false, &FieldError{Field: key}
	}
	b, err := cast.ToBoolE(v[key])
	if err != nil {
		return false, &FieldError{Field: key, Reason: fmt.Sprintf("expected boolean: %v", err)}
	}
	return b, nil
}

// Float returns the value for key as a float64.
func (v Values) Float(key string) (float64, error) {
	if !v.Has(key) {
		return 0, &FieldError{Field: key}
	}
	f, err := cast.ToFloat64E(v[key])
	if err != nil {
		return 0, &FieldError{Field: key, Reason: fmt.Sprintf("expected number: %v", err)}
	}
	return f, nil
}
