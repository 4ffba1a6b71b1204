// Package apperr provides the coded error type shared by shopsync services.
package apperr

import (
	"errors"
	"fmt"
)

// Error pairs a stable machine-readable code with an underlying cause. Codes
// follow the form "package.operation.reason" and survive wrapping, so callers
// can branch on the code while errors.Is/As still reach the cause.
type Error struct {
	code string
	err  error
}

// New builds a coded error for the given operation and reason.
func New(operation string, reason string, cause error) error {
	return &Error{code: operation + "." + reason, err: cause}
}

// Error renders the code with the cause appended when present.
func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

// Unwrap exposes the cause for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.err
}

// Code returns the machine-readable error code.
func (e *Error) Code() string {
	return e.code
}

// CodeOf extracts the code from an error chain, or "" when no coded error is
// present.
func CodeOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return ""
}
