package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"therapy-chat-sync/internal/api"
	"therapy-chat-sync/internal/session"
)

type HTTPError = api.HTTPError

type ApiMessageResponse struct {
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) error {
	return api.WriteJSON(w, status, v)
}

func MethodHandler(
	w http.ResponseWriter,
	r *http.Request,
	allowed map[string]func(http.ResponseWriter, *http.Request) error,
) error {
	if handler, ok := allowed[r.Method]; ok {
		return handler(w, r)
	}
	return &HTTPError{
		StatusCode: http.StatusMethodNotAllowed,
		Message:    "Method not allowed.",
		ErrorLog:   fmt.Errorf("method %s not allowed on %s", r.Method, r.URL.Path),
	}
}

func decodeJSON(r *http.Request, v any, what string) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return api.BadRequest("Invalid request payload", fmt.Errorf("decode %s: %w", what, err))
	}
	return nil
}

// sessionFrom returns the caller installed by the auth middleware.
func sessionFrom(r *http.Request) (session.Session, error) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		return session.Session{}, &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Unauthorized",
			ErrorLog:   fmt.Errorf("no session on %s", r.URL.Path),
		}
	}
	return sess, nil
}

func pathID(r *http.Request, name string) (string, error) {
	id := strings.TrimSpace(r.PathValue(name))
	if id == "" {
		return "", &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("missing path value %q in %s", name, r.URL.Path),
		}
	}
	return id, nil
}

func requireParticipant(sess session.Session, patientID, therapistID string) error {
	if !sess.Participates(patientID, therapistID) {
		return api.Forbidden(fmt.Errorf("%s %s is not part of pair %s/%s", sess.Role, sess.UserID, patientID, therapistID))
	}
	return nil
}

func serviceError(err error) error {
	if err == nil {
		return nil
	}
	return api.FromServiceError(err)
}
