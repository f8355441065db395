// Package apperr defines the coded errors reported to clients in ERROR responses.
package apperr

import (
	"errors"
	"fmt"
)

const (
	CodeNotFound              = "NOT_FOUND"
	CodeConflict              = "CONFLICT"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeValidation            = "VALIDATION_ERROR"
	CodeDuplicateRegistration = "DUPLICATE_REGISTRATION"
	CodeInvalidCredentials    = "INVALID_CREDENTIALS"
	CodeRateLimited           = "RATE_LIMITED"
	CodeInternal              = "INTERNAL_ERROR"
)

// Error carries a taxonomy code and a message that is safe to show to the client.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(err error, code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

func Unauthorized(message string) *Error {
	return New(CodeUnauthorized, message)
}

func Validation(message string) *Error {
	return New(CodeValidation, message)
}

func Internal(err error) *Error {
	return Wrap(err, CodeInternal, "Server error")
}

// As extracts the coded error from err. Errors without a code become
// INTERNAL_ERROR so that their details never reach the client.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Code == code
}
