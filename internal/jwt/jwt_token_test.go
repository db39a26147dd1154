package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"therapy-chat-sync/internal/model"
	"therapy-chat-sync/internal/session"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner("jwt-test-secret", time.Minute)
	require.NoError(t, err)
	return s
}

func TestTokenRoundTrip(t *testing.T) {
	signer := newTestSigner(t)
	sess := session.Session{UserID: "therapist-1", Role: model.RoleTherapist}

	token, err := signer.CreateToken(sess, 0)
	require.NoError(t, err)

	got, err := signer.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, sess, got)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	signer := newTestSigner(t)
	sess := session.Session{UserID: "patient-1", Role: model.RolePatient}

	token, err := signer.CreateToken(sess, time.Now().Add(-time.Minute).Unix())
	require.NoError(t, err)

	_, err = signer.ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsForeignSecret(t *testing.T) {
	other, err := NewSigner("another-secret", time.Minute)
	require.NoError(t, err)
	token, err := other.CreateToken(session.Session{UserID: "p1", Role: model.RolePatient}, 0)
	require.NoError(t, err)

	_, err = newTestSigner(t).ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsUnknownRole(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		ClaimSubject: "u1",
		ClaimRole:    "admin",
		ClaimExpires: time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("jwt-test-secret"))
	require.NoError(t, err)

	_, err = newTestSigner(t).ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsTokenWithoutExpiry(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		ClaimSubject: "u1",
		ClaimRole:    "patient",
	}).SignedString([]byte("jwt-test-secret"))
	require.NoError(t, err)

	_, err = newTestSigner(t).ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = newTestSigner(t).ParseToken("")
	assert.ErrorIs(t, err, ErrEmptyToken)
}

func TestNewSignerRequiresSecret(t *testing.T) {
	_, err := NewSigner("", time.Minute)
	assert.Error(t, err)
}
