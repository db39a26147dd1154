// Package session carries the authenticated caller explicitly. Services take
// ids as arguments; the API layer derives a Session per request and checks
// access with it.
package session

import (
	"context"

	"therapy-chat-sync/internal/apperror"
	"therapy-chat-sync/internal/model"
)

type Session struct {
	UserID string
	Role   model.Role
}

func New(userID string, role model.Role) (Session, error) {
	if err := model.ValidateID("userId", userID); err != nil {
		return Session{}, err
	}
	if !role.Valid() {
		return Session{}, apperror.Validation("role must be patient or therapist")
	}
	return Session{UserID: userID, Role: role}, nil
}

// Participates reports whether the session is one side of the pair.
func (s Session) Participates(patientID, therapistID string) bool {
	switch s.Role {
	case model.RolePatient:
		return s.UserID == patientID
	case model.RoleTherapist:
		return s.UserID == therapistID
	default:
		return false
	}
}

type contextKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(contextKey{}).(Session)
	return s, ok
}
