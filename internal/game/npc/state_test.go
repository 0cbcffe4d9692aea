package npc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/simverse/internal/game/npc"
)

func TestState_StringAndParse(t *testing.T) {
	for _, s := range []npc.State{npc.StateIdle, npc.StateMoving, npc.StateBlocked, npc.StateTimedOut} {
		got, err := npc.ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := npc.ParseState("walking")
	assert.Error(t, err)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, npc.CanTransition(npc.StateIdle, npc.StateMoving))
	assert.True(t, npc.CanTransition(npc.StateIdle, npc.StateBlocked))
	assert.False(t, npc.CanTransition(npc.StateIdle, npc.StateTimedOut))
	assert.False(t, npc.CanTransition(npc.StateMoving, npc.StateMoving))
	assert.True(t, npc.CanTransition(npc.StateMoving, npc.StateTimedOut))
	assert.True(t, npc.CanTransition(npc.StateMoving, npc.StateIdle))
	assert.True(t, npc.CanTransition(npc.StateTimedOut, npc.StateIdle))
	assert.False(t, npc.CanTransition(npc.StateTimedOut, npc.StateTimedOut))
}
