package tracer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsInvalidCommand(t *testing.T) {
	assert.True(t, IsInvalidCommand(errInvalidCommand()))
	assert.False(t, IsInvalidCommand(errInternal("boom")))
	assert.False(t, IsInvalidCommand(errors.New("not a tracer error")))
}

func TestWrapInternalPreservesCause(t *testing.T) {
	cause := errors.New("wait4 failed")
	err := wrapInternal(cause, "event loop")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "event loop")
}

func TestWrapInternalNilCause(t *testing.T) {
	assert.NoError(t, wrapInternal(nil, "whatever"))
}
