package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFactorError(t *testing.T) {
	err := &FactorError{Cache: "get_users_in_room", Factor: -1}
	assert.Contains(t, err.Error(), "get_users_in_room")
	assert.ErrorIs(t, err, ErrInvalidFactor)
	assert.True(t, IsInvalid(fmt.Errorf("apply: %w", err)))

	global := &FactorError{Factor: 0}
	assert.Contains(t, global.Error(), "global")
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(fmt.Errorf("clear %q: %w", "x", ErrUnknownCache)))
	assert.False(t, IsNotFound(errors.New("other")))
	assert.False(t, IsInvalid(ErrUnknownCache))
}
