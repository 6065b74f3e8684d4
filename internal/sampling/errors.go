package sampling

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Wrap them with Error and test with errors.Is.
var (
	// ErrNotReady is returned when a derived result is requested before the
	// computation producing it has completed.
	ErrNotReady = errors.New("result not ready")
	// ErrImmutable is returned when a caller attempts to replace a value that
	// has already been computed.
	ErrImmutable = errors.New("field is read-only")
	// ErrNumerical marks a numerical degeneracy that could not be mapped to a
	// finite or infinite value.
	ErrNumerical = errors.New("numerical degeneracy")
	// ErrUnavailable is returned when a sampling backend or engine is not
	// available in this build.
	ErrUnavailable = errors.New("collaborator unavailable")
	// ErrRunFailed marks the failure of a single model run.
	ErrRunFailed = errors.New("run failed")
	// ErrUndefinedInput is returned for inputs with no defined result, such
	// as a non-positive data count for the Bayesian information criterion.
	ErrUndefinedInput = errors.New("undefined input")
	// ErrInvalidConfig is returned when a configuration cannot be used.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Error represents a sampling error with context
// that can be wrapped with additional information.
type Error struct {
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	if e.Component != "" && e.Op != "" {
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	} else if e.Component != "" {
		prefix = e.Component
	} else if e.Op != "" {
		prefix = e.Op
	}

	if e.Err != nil {
		if prefix != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// NewError creates a new sampling error with the given message.
func NewError(message string) *Error {
	return &Error{
		Message: message,
	}
}

// WrapError wraps an existing error with additional context.
// If err is nil, WrapError returns nil.
func WrapError(err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: message,
		Err:     err,
	}
}

// WrapErrorf wraps an existing error with additional formatted context.
// If err is nil, WrapErrorf returns nil.
func WrapErrorf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// NotReady builds an ErrNotReady error for the given component and operation.
func NotReady(component, op, message string) error {
	return WrapError(ErrNotReady, message).WithComponent(component).WithOperation(op)
}

// IsSamplingError checks if an error is of type Error.
// If the error is a sampling error, it returns the error and true.
// Otherwise, it returns nil and false.
func IsSamplingError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
