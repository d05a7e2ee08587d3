package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/convoloop/types"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StateIdle, StateRunning},
		{StateIdle, StateTerminated},
		{StateRunning, StatePaused},
		{StateRunning, StateTerminated},
		{StatePaused, StateRunning},
		{StatePaused, StateTerminated},
	}
	for _, tt := range allowed {
		assert.True(t, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	denied := []struct{ from, to State }{
		{StateIdle, StatePaused},
		{StateRunning, StateIdle},
		{StateRunning, StateRunning},
		{StatePaused, StateIdle},
		{StateTerminated, StateRunning},
		{StateTerminated, StatePaused},
		{StateTerminated, StateIdle},
		{StateTerminated, StateTerminated},
	}
	for _, tt := range denied {
		assert.False(t, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTransitionError(t *testing.T) {
	err := transitionError(StateTerminated, StateRunning)
	assert.Equal(t, types.ErrSessionTerminated, types.GetErrorCode(err))

	err = transitionError(StateIdle, StatePaused)
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))
}
