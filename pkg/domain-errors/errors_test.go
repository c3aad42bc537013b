package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	t.Run("matches outer code", func(t *testing.T) {
		err := New(CodeNotFound, "profile not found")
		assert.True(t, HasCode(err, CodeNotFound))
		assert.False(t, HasCode(err, CodeConflict))
	})

	t.Run("matches inner code through wrapping", func(t *testing.T) {
		inner := New(CodeInvalidTransition, "cannot approve")
		err := Wrap(fmt.Errorf("tx: %w", inner), CodeInternal, "approve failed")
		assert.True(t, HasCode(err, CodeInternal))
		assert.True(t, HasCode(err, CodeInvalidTransition))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	})
}

func TestWrap(t *testing.T) {
	sentinel := errors.New("db down")
	err := Wrap(sentinel, CodeInternal, "failed to load profile")
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, "failed to load profile: db down", err.Error())
	assert.Nil(t, Wrap(nil, CodeInternal, "unused"))
}
