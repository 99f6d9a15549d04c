package routeros

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrapError_Interrupted(t *testing.T) {
	interrupted := &TrapError{Message: "interrupted"}
	assert.True(t, interrupted.Interrupted())

	real := &TrapError{Category: "0", Message: "missing value for 'name'"}
	assert.False(t, real.Interrupted())
	assert.Contains(t, real.Error(), "missing value for 'name'")
}

func TestUnregisteredTagError_Unwraps(t *testing.T) {
	err := &unregisteredTagError{tag: "42"}
	assert.True(t, errors.Is(err, ErrUnregisteredTag))
	assert.Contains(t, err.Error(), "42")
}

func TestConnectionLostError_Unwraps(t *testing.T) {
	err := &connectionLostError{reason: "reset"}
	assert.True(t, errors.Is(err, ErrConnectionLost))
	assert.Contains(t, err.Error(), "reset")
}
