package postgres_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/simverse/internal/game/grid"
	"github.com/cory-johannsen/simverse/internal/game/npc"
	"github.com/cory-johannsen/simverse/internal/storage/postgres"
)

type memWriter struct {
	mu      sync.Mutex
	entries []postgres.JournalEntry
	block   chan struct{}
	fail    bool
}

func (w *memWriter) InsertBatch(_ context.Context, entries []postgres.JournalEntry) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("database unavailable")
	}
	w.entries = append(w.entries, entries...)
	return nil
}

func (w *memWriter) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

func stateEvent(id, reason string, state npc.State) npc.Event {
	return npc.Event{
		Kind:   npc.EventState,
		Reason: reason,
		NPC:    npc.Status{ID: id, State: state, Position: grid.Point{X: 3, Y: 4}},
		At:     time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestEntryFromEvent(t *testing.T) {
	move := npc.Event{
		Kind: npc.EventMove,
		NPC:  npc.Status{ID: "npc_1", State: npc.StateMoving},
		Path: []grid.Point{{X: 1, Y: 1}, {X: 48, Y: 80}},
	}
	e, ok := postgres.EntryFromEvent(move)
	require.True(t, ok)
	assert.Equal(t, postgres.KindMoveAccepted, e.Kind)
	assert.Equal(t, 2, e.PathLength)
	require.NotNil(t, e.TargetX)
	assert.Equal(t, 48.0, *e.TargetX)
	assert.Equal(t, 80.0, *e.TargetY)

	blocked := stateEvent("npc_1", npc.ReasonBlocked, npc.StateBlocked)
	blocked.NPC.FailedTarget = &grid.Point{X: 7, Y: 9}
	e, ok = postgres.EntryFromEvent(blocked)
	require.True(t, ok)
	assert.Equal(t, postgres.KindBlocked, e.Kind)
	assert.Equal(t, 9.0, *e.TargetY)

	for reason, kind := range map[string]string{
		npc.ReasonArrived: postgres.KindArrived,
		npc.ReasonTimeout: postgres.KindTimedOut,
		npc.ReasonReset:   postgres.KindReset,
	} {
		e, ok = postgres.EntryFromEvent(stateEvent("npc_1", reason, npc.StateIdle))
		require.True(t, ok, reason)
		assert.Equal(t, kind, e.Kind)
		assert.Nil(t, e.TargetX)
	}

	_, ok = postgres.EntryFromEvent(stateEvent("npc_1", npc.ReasonAdvanced, npc.StateMoving))
	assert.False(t, ok)
	_, ok = postgres.EntryFromEvent(stateEvent("npc_1", npc.ReasonAccepted, npc.StateMoving))
	assert.False(t, ok)
}

func TestJournal_WritesAndFlushesOnClose(t *testing.T) {
	w := &memWriter{}
	j := postgres.NewJournal(w, 16, zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() { done <- j.Run(context.Background()) }()

	for i := 0; i < 5; i++ {
		j.Mirror(stateEvent("npc_1", npc.ReasonArrived, npc.StateIdle))
	}
	j.Close()
	assert.ErrorIs(t, <-done, postgres.ErrJournalClosed)
	assert.Equal(t, 5, w.len())
	assert.Equal(t, uint64(5), j.Written())

	j.Mirror(stateEvent("npc_1", npc.ReasonArrived, npc.StateIdle))
	assert.Equal(t, 5, w.len())
}

func TestJournal_FullBufferDropsWithoutBlocking(t *testing.T) {
	w := &memWriter{}
	j := postgres.NewJournal(w, 2, zaptest.NewLogger(t))

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			j.Mirror(stateEvent("npc_1", npc.ReasonReset, npc.StateIdle))
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Mirror blocked on a full buffer")
	}
	assert.Equal(t, uint64(8), j.Dropped())

	j.Close()
	assert.ErrorIs(t, j.Run(context.Background()), postgres.ErrJournalClosed)
	assert.Equal(t, 2, w.len())
}

func TestJournal_WriteFailureIsLoggedNotFatal(t *testing.T) {
	w := &memWriter{fail: true}
	j := postgres.NewJournal(w, 4, zaptest.NewLogger(t))
	j.Mirror(stateEvent("npc_1", npc.ReasonTimeout, npc.StateTimedOut))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, j.Run(ctx), context.Canceled)
	assert.Equal(t, uint64(0), j.Written())
}
