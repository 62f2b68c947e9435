package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a convoset error code.
type ErrorCode string

const (
	ErrInvalidName     ErrorCode = "INVALID_NAME"       // 400
	ErrIndexOutOfRange ErrorCode = "INDEX_OUT_OF_RANGE" // 400
	ErrValidation      ErrorCode = "VALIDATION_ERROR"   // 400
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"    // 400
	ErrFileNotFound    ErrorCode = "FILE_NOT_FOUND"     // 404
	ErrAlreadyExists   ErrorCode = "ALREADY_EXISTS"     // 409
	ErrConflict        ErrorCode = "CONFLICT"           // 409 (revision mismatch on save)
	ErrDecode          ErrorCode = "DECODE_ERROR"       // 422
	ErrCancelled       ErrorCode = "CANCELLED"          // 499
	ErrInternal        ErrorCode = "INTERNAL"           // 500
)

// ConvoError represents a structured error with code, status, and details.
type ConvoError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *ConvoError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidName creates a 400 error for dataset names that fail the naming rule.
func NewInvalidName(name string) *ConvoError {
	return &ConvoError{
		Code:    ErrInvalidName,
		Status:  400,
		Message: "Invalid dataset name. Use letters, numbers, dash or underscore.",
		Details: map[string]any{"name": name},
	}
}

// NewAlreadyExists creates a 409 error for dataset name collisions.
func NewAlreadyExists(name string) *ConvoError {
	return &ConvoError{
		Code:    ErrAlreadyExists,
		Status:  409,
		Message: fmt.Sprintf("Dataset %q already exists", name),
		Details: map[string]any{"name": name},
	}
}

// NewIndexOutOfRange creates a 400 error for a flattened index outside [0, length).
// The message stays "Invalid index" because existing clients match on it.
func NewIndexOutOfRange(index, length int) *ConvoError {
	return &ConvoError{
		Code:    ErrIndexOutOfRange,
		Status:  400,
		Message: "Invalid index",
		Details: map[string]any{"index": index, "length": length},
	}
}

// NewValidation creates a 400 error for a missing or malformed required field.
func NewValidation(msg string) *ConvoError {
	return &ConvoError{
		Code:    ErrValidation,
		Status:  400,
		Message: msg,
	}
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *ConvoError {
	return &ConvoError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewFileNotFound creates a 404 error for a missing import file.
func NewFileNotFound(path string) *ConvoError {
	return &ConvoError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *ConvoError {
	return &ConvoError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewDecode creates a 422 error for codec tokens or payloads that cannot be decoded.
func NewDecode(msg string) *ConvoError {
	return &ConvoError{
		Code:    ErrDecode,
		Status:  422,
		Message: msg,
	}
}

// NewCancelled creates a 499 error when an operation is interrupted by its context.
func NewCancelled(op string) *ConvoError {
	return &ConvoError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
		Details: map[string]any{"operation": op},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message is generic; the underlying error is kept in Details for logging.
func NewInternal(err error) *ConvoError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &ConvoError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
	}
}

// Is checks if an error is (or wraps) a ConvoError with the given code.
func Is(err error, code ErrorCode) bool {
	var cErr *ConvoError
	if stderrors.As(err, &cErr) {
		return cErr.Code == code
	}
	return false
}

// As returns the ConvoError carried by err, wrapping anything else as INTERNAL.
func As(err error) *ConvoError {
	var cErr *ConvoError
	if stderrors.As(err, &cErr) {
		return cErr
	}
	return NewInternal(err)
}
