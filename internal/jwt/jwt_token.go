package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"

	"therapy-chat-sync/internal/model"
	"therapy-chat-sync/internal/session"
)

const DefaultTokenTTL = 15 * time.Minute

var (
	ErrEmptyToken   = errors.New("token string is empty")
	ErrInvalidToken = errors.New("token is not valid")
)

// Signer issues and verifies HS256 session tokens carrying a user id and
// a role.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt: signing secret is empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// CreateToken signs a token for sess. validUntil is a unix timestamp; zero
// means now plus the signer's ttl.
func (s *Signer) CreateToken(sess session.Session, validUntil int64) (string, error) {
	if validUntil == 0 {
		validUntil = s.now().Add(s.ttl).Unix()
	}

	claims := jwt.MapClaims{
		ClaimSubject: sess.UserID,
		ClaimRole:    string(sess.Role),
		ClaimExpires: validUntil,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Signer) CreateTokenResponse(sess session.Session) (TokenResponse, error) {
	expiresAt := s.now().Add(s.ttl).Unix()
	token, err := s.CreateToken(sess, expiresAt)
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{AccessToken: token, ExpiresAt: expiresAt}, nil
}

// ParseToken verifies the signature and expiry and returns the session the
// token was issued for.
func (s *Signer) ParseToken(tokenString string) (session.Session, error) {
	if len(tokenString) == 0 {
		return session.Session{}, ErrEmptyToken
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return session.Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return session.Session{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return session.Session{}, fmt.Errorf("%w: claims of unexpected type", ErrInvalidToken)
	}
	if _, ok := claims[ClaimExpires]; !ok {
		return session.Session{}, fmt.Errorf("%w: missing %s", ErrInvalidToken, ClaimExpires)
	}

	userID, _ := claims[ClaimSubject].(string)
	role, _ := claims[ClaimRole].(string)
	sess, err := session.New(userID, model.Role(role))
	if err != nil {
		return session.Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return sess, nil
}
