package npc

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recovered(fn func()) (v any) {
	defer func() { v = recover() }()
	fn()
	return nil
}

func TestMustTransitionLocked_PanicsOnIllegalEdge(t *testing.T) {
	reg := NewRegistry(Options{Speed: 1, MoveTimeout: time.Second})
	require.NoError(t, reg.Add(Spec{ID: "npc_1", Name: "walker"}))
	rec := reg.npcs["npc_1"]
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	v := recovered(func() { reg.mustTransitionLocked(rec, StateTimedOut, now) })
	err, ok := v.(error)
	require.True(t, ok, "expected an error panic, got %v", v)
	assert.True(t, errors.Is(err, ErrIllegalTransition))
	assert.Equal(t, StateIdle, rec.state, "a refused edge leaves the record untouched")
	assert.Equal(t, uint64(0), rec.revision)

	assert.Nil(t, recovered(func() { reg.mustTransitionLocked(rec, StateMoving, now) }))
	assert.Equal(t, StateMoving, rec.state)
}
