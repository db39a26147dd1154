package observability

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"therapy-chat-sync/internal/model"
	"therapy-chat-sync/internal/session"
)

func TestLoggerFromContextAddsSession(t *testing.T) {
	original := log.Logger
	t.Cleanup(func() { log.Logger = original })

	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)

	ctx := session.WithSession(context.Background(), session.Session{UserID: "p1", Role: model.RolePatient})
	LoggerFromContext(ctx).Info().Msg("booked")

	assert.Contains(t, buf.String(), `"user_id":"p1"`)
	assert.Contains(t, buf.String(), `"role":"patient"`)
}

func TestLoggerFromContextAddsRequestID(t *testing.T) {
	original := log.Logger
	t.Cleanup(func() { log.Logger = original })

	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)

	LoggerFromContext(WithRequestID(context.Background(), "req-42")).Info().Msg("cancelled")
	assert.Contains(t, buf.String(), `"request_id":"req-42"`)

	_, ok := RequestIDFromContext(WithRequestID(context.Background(), ""))
	assert.False(t, ok)
}

func TestInitLoggerWritesRotatedFile(t *testing.T) {
	original := log.Logger
	t.Cleanup(func() { log.Logger = original })

	path := filepath.Join(t.TempDir(), "sync.log")
	InitLogger("therapy-chat-sync", "production", "debug", path)
	log.Info().Str("component", "test").Msg("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"service":"therapy-chat-sync"`)
	assert.Contains(t, string(data), `"message":"hello"`)
}
