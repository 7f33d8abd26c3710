// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")

	ErrConfiguration   = errors.New("configuration error")
	ErrRemoteOperation = errors.New("remote operation error")
	ErrInvalidAction   = errors.New("invalid action")
	ErrResourceRelease = errors.New("resource release error")
	ErrUnavailable     = errors.New("unavailable")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error    // Wrapped sentinel for errors.Is() classification
	Message  string   // Human-readable message
	Field    string   // For validation errors (e.g., "id", "action")
	Fields   []string // Every missing field of a configuration error
	Resource string   // For not found/conflict (e.g., "deployment")
	Op       string   // Operation that failed (e.g., "batch.createPool")
	Cause    error    // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the underlying cause, so callers can
// classify with errors.Is and still reach vendor errors with errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Configuration reports every missing configuration field at once.
// Fields are sorted so the message is stable.
func Configuration(fields ...string) error {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	return &Error{
		Sentinel: ErrConfiguration,
		Message:  "missing configuration values: " + strings.Join(sorted, ", "),
		Fields:   sorted,
	}
}

// InvalidConfiguration reports a present but unusable configuration value.
func InvalidConfiguration(field, message string) error {
	return &Error{
		Sentinel: ErrConfiguration,
		Message:  fmt.Sprintf("invalid configuration value %s: %s", field, message),
		Field:    field,
		Fields:   []string{field},
	}
}

// Remote wraps a failed call to an external service. An error that is
// already a remote operation error is returned unchanged.
func Remote(op string, cause error) error {
	if errors.Is(cause, ErrRemoteOperation) {
		return cause
	}
	return &Error{
		Sentinel: ErrRemoteOperation,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// InvalidAction reports an unsupported connector action.
func InvalidAction(action string) error {
	return &Error{
		Sentinel: ErrInvalidAction,
		Message:  fmt.Sprintf("invalid action %q", action),
		Field:    "action",
	}
}

// ResourceRelease reports that releasing credentials or clients failed.
func ResourceRelease(cause error) error {
	return &Error{
		Sentinel: ErrResourceRelease,
		Message:  fmt.Sprintf("release resources: %v", cause),
		Op:       "close",
		Cause:    cause,
	}
}

// Unavailable reports that op cannot be served right now, for example while
// the service is shutting down.
func Unavailable(op string, cause error) error {
	return &Error{
		Sentinel: ErrUnavailable,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// MissingFields returns the fields named by a configuration error, or nil.
func MissingFields(err error) []string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Sentinel == ErrConfiguration {
		return appErr.Fields
	}
	return nil
}
