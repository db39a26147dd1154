package api

import (
	"fmt"
	"net/http"

	"therapy-chat-sync/internal/apperror"
)

type HTTPError struct {
	StatusCode int
	Message    string
	ErrorLog   error
}

func (e *HTTPError) Error() string {
	return e.Message
}

type ApiError struct {
	Error string `json:"message"`
	Code  string `json:"code,omitempty"`
}

func BadRequest(message string, err error) *HTTPError {
	return &HTTPError{StatusCode: http.StatusBadRequest, Message: message, ErrorLog: err}
}

func Forbidden(err error) *HTTPError {
	return &HTTPError{StatusCode: http.StatusForbidden, Message: "Forbidden", ErrorLog: err}
}

// FromServiceError maps library errors onto HTTP statuses. Persistence
// failures and foreign errors keep their detail in the log only.
func FromServiceError(err error) *HTTPError {
	if err == nil {
		return nil
	}
	code := apperror.CodeOf(err)
	message := err.Error()
	if appErr, ok := asAppError(err); ok && appErr.Message != "" {
		message = appErr.Message
	}

	switch code {
	case apperror.ErrorCodeValidation:
		return &HTTPError{StatusCode: http.StatusBadRequest, Message: message, ErrorLog: err}
	case apperror.ErrorCodeNotFound:
		return &HTTPError{StatusCode: http.StatusNotFound, Message: message, ErrorLog: err}
	case apperror.ErrorCodeInvalidState, apperror.ErrorCodeConflict:
		return &HTTPError{StatusCode: http.StatusConflict, Message: message, ErrorLog: err}
	default:
		return &HTTPError{
			StatusCode: http.StatusServiceUnavailable,
			Message:    "Storage temporarily unavailable",
			ErrorLog:   fmt.Errorf("service: %w", err),
		}
	}
}
