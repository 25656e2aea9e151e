package services

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingField is returned when a required request field is absent.
	ErrMissingField = errors.New("missing required field")

	// ErrNotConfigured is returned when a required configuration key is absent.
	ErrNotConfigured = errors.New("not configured")

	// ErrNotFound is returned when the vendor reports the addressed resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrServiceNotFound is returned when no handler is registered for a (domain, service) pair.
	ErrServiceNotFound = errors.New("service not registered")
)

// FieldError describes a request field that is missing or malformed.
type FieldError struct {
	Field  string
	Reason string

	plural bool
}

func (e *FieldError) Error() string {
	switch {
	case e.Reason != "":
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	case e.plural:
		return fmt.Sprintf("%s are required", e.Field)
	default:
		return fmt.Sprintf("%s is required", e.Field)
	}
}

func (e *FieldError) Is(target error) bool {
	return target == ErrMissingField
}

// MissingFields returns a FieldError naming every key, e.g. "chat_id and message are required".
func MissingFields(keys ...string) error {
	switch len(keys) {
	case 0:
		return ErrMissingField
	case 1:
		return &FieldError{Field: keys[0]}
	}
	names := keys[0]
	for i := 1; i < len(keys); i++ {
		if i == len(keys)-1 {
			names += " and " + keys[i]
		} else {
			names += ", " + keys[i]
		}
	}
	return &FieldError{Field: names, plural: true}
}

// ConfigError reports a missing or invalid configuration key.
type ConfigError struct {
	Domain string
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "not configured"
	}
	if e.Domain != "" {
		return fmt.Sprintf("%s: %s %s", e.Domain, e.Key, reason)
	}
	return fmt.Sprintf("%s %s", e.Key, reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrNotConfigured
}

// UpstreamError wraps a non-2xx response or SDK failure from a vendor.
type UpstreamError struct {
	Service    string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s request failed: %v", e.Service, e.Err)
	case e.Body != "":
		return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("%s returned status %d", e.Service, e.StatusCode)
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NotFoundError is returned by integrations that special-case vendor not-found responses.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// IsStatus reports whether err is an UpstreamError with the given status code.
func IsStatus(err error, code int) bool {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.StatusCode == code
	}
	return false
}
