// Package validation provides reusable input validation functions for asynchttp
// configuration and CLI input. All validators return nil on success and a
// *Result describing the field on failure.
package validation

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

// Common validation errors. These are sentinel errors that can be checked with errors.Is().
var (
	// ErrRequired indicates a required field is missing or empty.
	ErrRequired = errors.New("field is required")

	// ErrInvalidFormat indicates a value doesn't match the expected format.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrOutOfRange indicates a numeric value is outside the allowed range.
	ErrOutOfRange = errors.New("value out of range")

	// ErrNotAllowed indicates a value is not one of the accepted choices.
	ErrNotAllowed = errors.New("value not allowed")
)

// MaxPropertyKeyLength is the maximum length for dotted property keys.
const MaxPropertyKeyLength = 128

// propertyKeyPattern matches dotted property keys such as feign.httpclient.max-connections.
var propertyKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9]*([.-][a-z0-9]+)*$`)

// Result represents a validation result with field context.
type Result struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (r *Result) Error() string {
	if r.Field != "" {
		return fmt.Sprintf("%s: %s", r.Field, r.Message)
	}
	return r.Message
}

// Unwrap returns the underlying error for errors.Is() support.
func (r *Result) Unwrap() error {
	return r.Err
}

// NewResult creates a validation result.
func NewResult(field, message string, err error) *Result {
	return &Result{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// Required validates that a string is non-empty.
func Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return NewResult(field, "is required", ErrRequired)
	}
	return nil
}

// Positive validates that an integer is positive (> 0).
func Positive(field string, value int) error {
	if value <= 0 {
		return NewResult(field, "must be positive", ErrOutOfRange)
	}
	return nil
}

// NonNegative validates that an integer is non-negative (>= 0).
func NonNegative(field string, value int) error {
	if value < 0 {
		return NewResult(field, "must be non-negative", ErrOutOfRange)
	}
	return nil
}

// OneOf validates that value is one of allowed. Comparison is exact.
func OneOf(field, value string, allowed ...string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return NewResult(field, fmt.Sprintf("must be one of %s", strings.Join(allowed, ", ")), ErrNotAllowed)
}

// HostPort validates a host:port address.
func HostPort(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}

	if _, _, err := net.SplitHostPort(value); err != nil {
		return NewResult(field, "must be in host:port format", ErrInvalidFormat)
	}

	return nil
}

// HTTPURL validates an absolute http or https URL.
func HTTPURL(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}

	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return NewResult(field, "must be an absolute URL", ErrInvalidFormat)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NewResult(field, "scheme must be http or https", ErrInvalidFormat)
	}

	return nil
}

// PropertyKey validates a dotted, lower-case property key.
func PropertyKey(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}
	if len(value) > MaxPropertyKeyLength {
		return NewResult(field, fmt.Sprintf("exceeds maximum length of %d characters", MaxPropertyKeyLength), ErrOutOfRange)
	}
	if !propertyKeyPattern.MatchString(value) {
		return NewResult(field, "must be lower-case words separated by dots or dashes", ErrInvalidFormat)
	}
	return nil
}

// Errors collects multiple validation errors.
type Errors []error

// Add appends an error to the collection (nil errors are ignored).
func (e *Errors) Add(err error) {
	if err != nil {
		*e = append(*e, err)
	}
}

// HasErrors returns true if any errors were collected.
func (e Errors) HasErrors() bool {
	return len(e) > 0
}

// Error returns all errors as a single error message.
func (e Errors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	b.WriteString("multiple validation errors: ")
	for i, err := range e {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e Errors) Unwrap() []error {
	return e
}

// First returns the first error, or nil if none.
func (e Errors) First() error {
	if len(e) == 0 {
		return nil
	}
	return e[0]
}

// Err returns the collection as an error, or nil when it is empty.
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}
