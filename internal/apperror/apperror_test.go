package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesByCode(t *testing.T) {
	err := fmt.Errorf("book: %w", Validation("start time must be in the future"))

	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, ErrorCodeValidation, CodeOf(err))
}

func TestPersistenceUnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Persistence("failed to store message", cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrPersistence))
	assert.Equal(t, "failed to store message: connection reset", err.Error())
}

func TestCodeOfForeignError(t *testing.T) {
	assert.Equal(t, ErrorCodePersistence, CodeOf(errors.New("boom")))
}
