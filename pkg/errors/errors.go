package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// Document workflow errors.
var (
	ErrInvalidState    = New("INVALID_STATE", http.StatusConflict, "transition not allowed from current document status")
	ErrLimitExceeded   = New("LIMIT_EXCEEDED", http.StatusUnprocessableEntity, "document limit reached")
	ErrDuplicateLabel  = New("DUPLICATE_LABEL", http.StatusConflict, "a document with this label already exists")
	ErrInvalidFileType = New("INVALID_FILE_TYPE", http.StatusUnsupportedMediaType, "file type not allowed")
	ErrFileTooLarge    = New("FILE_TOO_LARGE", http.StatusRequestEntityTooLarge, "file too large")
	ErrMissingComment  = New("MISSING_COMMENT", http.StatusBadRequest, "a comment is required to reject a document")
	ErrStorageFailure  = New("STORAGE_FAILURE", http.StatusServiceUnavailable, "temporary storage failure, please try again")
)

// Storage wraps an infrastructure failure behind the generic retryable message.
func Storage(err error) *Error {
	return Wrap(err, ErrStorageFailure.Code, ErrStorageFailure.Status, ErrStorageFailure.Message)
}

// Is reports whether err carries the same code as target.
func Is(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code == target.Code
	}
	return false
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
