package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"therapy-chat-sync/internal/api/middleware"
	"therapy-chat-sync/internal/apperror"
	"therapy-chat-sync/internal/observability"
	"therapy-chat-sync/internal/queue"
)

type apiFunc func(http.ResponseWriter, *http.Request) error

func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func asAppError(err error) (*apperror.Error, bool) {
	var appErr *apperror.Error
	ok := errors.As(err, &appErr)
	return appErr, ok
}

// MakeHTTPHandleFunc runs f on the request queue behind CORS, tracing,
// logging, and the given auth middleware, and renders returned errors as
// JSON.
func (s *APIServer) MakeHTTPHandleFunc(f apiFunc, authMiddleware ...middleware.Middleware) http.HandlerFunc {
	baseHandler := func(w http.ResponseWriter, r *http.Request) {
		errc := make(chan error, 1)
		job := queue.Job{
			Fn: func() error {
				return f(w, r)
			},
			Errc: errc,
		}

		var err error
		if qerr := s.requestQueueManager.EnqueueJob(r.Context(), job); qerr != nil {
			err = &HTTPError{StatusCode: http.StatusServiceUnavailable, Message: "Server busy", ErrorLog: qerr}
		} else {
			err = <-errc
		}
		if err != nil {
			s.writeError(w, r, err)
		}
	}

	middlewares := []middleware.Middleware{
		middleware.CORS(s.cors),
		middleware.Tracing(),
		middleware.Logging(),
	}
	middlewares = append(middlewares, authMiddleware...)

	return middleware.Chain(baseHandler, middlewares...)
}

func (s *APIServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.LoggerFromContext(r.Context())

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		if _, ok := asAppError(err); ok {
			httpErr = FromServiceError(err)
		} else {
			logger.Error().Err(err).Msg("unhandled handler error")
			_ = WriteJSON(w, http.StatusInternalServerError, ApiError{Error: "Internal server error"})
			return
		}
	}

	event := logger.Warn()
	if httpErr.StatusCode >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Err(httpErr.ErrorLog).Int("status", httpErr.StatusCode).Msg(httpErr.Message)

	body := ApiError{Error: httpErr.Message}
	if appErr, ok := asAppError(httpErr.ErrorLog); ok {
		body.Code = string(appErr.Code)
	}
	_ = WriteJSON(w, httpErr.StatusCode, body)
}
