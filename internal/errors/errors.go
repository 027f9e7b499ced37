package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Tensient error code.
type ErrorCode string

const (
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"  // 400
	ErrUsageLimit      ErrorCode = "USAGE_LIMIT"      // 402
	ErrNotFound        ErrorCode = "NOT_FOUND"        // 404
	ErrConflict        ErrorCode = "CONFLICT"         // 409
	ErrInternal        ErrorCode = "INTERNAL"         // 500
	ErrProviderFailure ErrorCode = "PROVIDER_FAILURE" // 502
)

// Error represents a structured error with code, status, and details.
type Error struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *Error {
	return &Error{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error. The message names only the kind and the
// identifier the caller supplied, so a row that exists in another workspace
// is indistinguishable from one that does not exist at all.
func NewNotFound(kind, identifier string) *Error {
	return &Error{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *Error {
	return &Error{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewUsageLimit creates a 402 error when the usage allowance rejects a call.
// It is raised before any provider call is made.
func NewUsageLimit(reason string) *Error {
	if reason == "" {
		reason = "usage limit reached"
	}
	return &Error{
		Code:    ErrUsageLimit,
		Status:  402,
		Message: reason,
		Details: map[string]any{"reason": reason},
	}
}

// NewProviderFailure creates a 502 error for embedding or generation failures,
// including responses that violate the requested output schema.
func NewProviderFailure(stage string, err error) *Error {
	msg := stage + " failed"
	if err != nil {
		msg = fmt.Sprintf("%s failed: %v", stage, err)
	}
	return &Error{
		Code:    ErrProviderFailure,
		Status:  502,
		Message: msg,
		Details: map[string]any{"stage": stage},
		cause:   err,
	}
}

// WithDetail returns e with an extra detail key set.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *Error {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if err is (or wraps) an *Error with the given code.
func Is(err error, code ErrorCode) bool {
	var tErr *Error
	if stderrors.As(err, &tErr) {
		return tErr.Code == code
	}
	return false
}

// As returns the *Error in err's chain, or nil.
func As(err error) *Error {
	var tErr *Error
	if stderrors.As(err, &tErr) {
		return tErr
	}
	return nil
}
