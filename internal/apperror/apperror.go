package apperror

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorCodeValidation   ErrorCode = "validation_error"
	ErrorCodeNotFound     ErrorCode = "not_found"
	ErrorCodeInvalidState ErrorCode = "invalid_state"
	ErrorCodeConflict     ErrorCode = "conflict"
	ErrorCodePersistence  ErrorCode = "persistence_error"
)

// Sentinels for errors.Is matching by code.
var (
	ErrValidation   = &Error{Code: ErrorCodeValidation}
	ErrNotFound     = &Error{Code: ErrorCodeNotFound}
	ErrInvalidState = &Error{Code: ErrorCodeInvalidState}
	ErrConflict     = &Error{Code: ErrorCodeConflict}
	ErrPersistence  = &Error{Code: ErrorCodePersistence}
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func Validation(message string) *Error {
	return New(ErrorCodeValidation, message, nil)
}

func NotFound(message string, err error) *Error {
	return New(ErrorCodeNotFound, message, err)
}

func InvalidState(message string) *Error {
	return New(ErrorCodeInvalidState, message, nil)
}

func Conflict(message string, err error) *Error {
	return New(ErrorCodeConflict, message, err)
}

func Persistence(message string, err error) *Error {
	return New(ErrorCodePersistence, message, err)
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrorCodePersistence for foreign errors.
func CodeOf(err error) ErrorCode {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrorCodePersistence
}
