package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"therapy-chat-sync/internal/jwt"
	"therapy-chat-sync/internal/session"
)

// TokenParser turns a bearer token into the caller's session.
type TokenParser interface {
	ParseToken(token string) (session.Session, error)
}

var _ TokenParser = (*jwt.Signer)(nil)

// ExtractToken reads "Authorization: Bearer <token>", falling back to the
// token query parameter for websocket clients that cannot set headers.
func ExtractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header != "" {
		if len(header) > len("Bearer ") && strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
			return strings.TrimSpace(header[len("Bearer "):])
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// Authenticate rejects requests without a valid token and stores the
// session in the request context.
func Authenticate(parser TokenParser) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r)
			if token == "" {
				unauthorized(w, "Unauthorized")
				return
			}

			sess, err := parser.ParseToken(token)
			if err != nil {
				unauthorized(w, "Invalid or expired token")
				return
			}

			next(w, r.WithContext(session.WithSession(r.Context(), sess)))
		}
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
