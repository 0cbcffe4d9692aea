package npc_test

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/simverse/internal/game/grid"
	"github.com/cory-johannsen/simverse/internal/game/npc"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Add(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type recorder struct {
	mu     sync.Mutex
	events []npc.Event
}

func (r *recorder) Publish(ev npc.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) reasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Reason)
	}
	return out
}

func newRegistry(t *testing.T, clock *fakeClock) (*npc.Registry, *recorder) {
	t.Helper()
	reg := npc.NewRegistry(npc.Options{
		Speed:          10,
		ArrivalEpsilon: 1,
		MoveTimeout:    5 * time.Second,
		Now:            clock.Now,
	})
	rec := &recorder{}
	reg.SetSink(rec)
	require.NoError(t, reg.Add(npc.Spec{ID: "npc_1", Name: "guard", Kind: "guard", X: 0, Y: 0}))
	return reg, rec
}

func TestRegistry_AddRejectsDuplicatesAndInvalid(t *testing.T) {
	reg, _ := newRegistry(t, newFakeClock())
	assert.Error(t, reg.Add(npc.Spec{ID: "npc_1", Name: "again"}))
	assert.Error(t, reg.Add(npc.Spec{ID: "", Name: "nameless"}))
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_SnapshotIsSortedCopy(t *testing.T) {
	reg, _ := newRegistry(t, newFakeClock())
	require.NoError(t, reg.Add(npc.Spec{ID: "npc_0", Name: "first"}))

	snap := reg.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "npc_0", snap[0].ID)
	assert.Equal(t, "npc_1", snap[1].ID)

	snap[0].Position = grid.Point{X: 99, Y: 99}
	st, ok := reg.Get("npc_0")
	require.True(t, ok)
	assert.Equal(t, grid.Point{}, st.Position)
}

func TestRegistry_BeginMoveAndArrive(t *testing.T) {
	clock := newFakeClock()
	reg, rec := newRegistry(t, clock)
	st, _ := reg.Get("npc_1")

	path := []grid.Point{{X: 6, Y: 8}, {X: 6, Y: 20}}
	moved, err := reg.BeginMove("npc_1", st.Revision, path)
	require.NoError(t, err)
	assert.Equal(t, npc.StateMoving, moved.State)
	assert.Equal(t, path, moved.Path)
	assert.Equal(t, clock.Now().Add(5*time.Second), moved.Deadline)

	reg.Advance(clock.Add(50 * time.Millisecond))
	st, _ = reg.Get("npc_1")
	assert.Equal(t, npc.StateMoving, st.State)
	assert.Equal(t, grid.Point{X: 6, Y: 8}, st.Position)

	reg.Advance(clock.Add(50 * time.Millisecond))
	st, _ = reg.Get("npc_1")
	assert.Equal(t, npc.StateMoving, st.State)
	assert.InDelta(t, 18.0, st.Position.Y, 1e-9)

	reg.Advance(clock.Add(50 * time.Millisecond))
	st, _ = reg.Get("npc_1")
	assert.Equal(t, npc.StateIdle, st.State)
	assert.Equal(t, grid.Point{X: 6, Y: 20}, st.Position)
	assert.Nil(t, st.Path)
	assert.True(t, st.Deadline.IsZero())

	assert.Equal(t, []string{
		npc.ReasonAccepted, npc.ReasonAccepted,
		npc.ReasonAdvanced, npc.ReasonAdvanced,
		npc.ReasonArrived,
	}, rec.reasons())
	assert.Equal(t, npc.EventMove, rec.events[0].Kind)
	assert.Equal(t, path, rec.events[0].Path)
}

func TestRegistry_ArrivalEpsilonSnaps(t *testing.T) {
	clock := newFakeClock()
	reg, _ := newRegistry(t, clock)
	st, _ := reg.Get("npc_1")

	_, err := reg.BeginMove("npc_1", st.Revision, []grid.Point{{X: 10.5, Y: 0}})
	require.NoError(t, err)
	reg.Advance(clock.Add(time.Millisecond))

	st, _ = reg.Get("npc_1")
	assert.Equal(t, npc.StateIdle, st.State)
	assert.Equal(t, grid.Point{X: 10.5, Y: 0}, st.Position)
}

func TestRegistry_StaleRevisionRejected(t *testing.T) {
	reg, _ := newRegistry(t, newFakeClock())
	st, _ := reg.Get("npc_1")

	_, err := reg.BeginMove("npc_1", st.Revision, []grid.Point{{X: 100, Y: 0}})
	require.NoError(t, err)
	_, err = reg.BeginMove("npc_1", st.Revision, []grid.Point{{X: 0, Y: 100}})
	assert.ErrorIs(t, err, npc.ErrStale)
	_, err = reg.MarkBlocked("npc_1", st.Revision, grid.Point{})
	assert.ErrorIs(t, err, npc.ErrStale)
}

func TestRegistry_UnknownNPC(t *testing.T) {
	reg, _ := newRegistry(t, newFakeClock())
	_, ok := reg.Get("ghost")
	assert.False(t, ok)
	_, err := reg.BeginMove("ghost", 0, []grid.Point{{X: 1, Y: 1}})
	assert.ErrorIs(t, err, npc.ErrNotFound)
	_, err = reg.MarkBlocked("ghost", 0, grid.Point{})
	assert.ErrorIs(t, err, npc.ErrNotFound)
	_, err = reg.Reset("ghost")
	assert.ErrorIs(t, err, npc.ErrNotFound)
}

func TestRegistry_MovingCannotBeginAgain(t *testing.T) {
	reg, _ := newRegistry(t, newFakeClock())
	st, _ := reg.Get("npc_1")
	moved, err := reg.BeginMove("npc_1", st.Revision, []grid.Point{{X: 100, Y: 0}})
	require.NoError(t, err)

	_, err = reg.BeginMove("npc_1", moved.Revision, []grid.Point{{X: 0, Y: 100}})
	assert.True(t, errors.Is(err, npc.ErrIllegalTransition))
}

func TestRegistry_TimeoutWithoutTicks(t *testing.T) {
	clock := newFakeClock()
	reg, rec := newRegistry(t, clock)
	st, _ := reg.Get("npc_1")
	_, err := reg.BeginMove("npc_1", st.Revision, []grid.Point{{X: 10000, Y: 0}})
	require.NoError(t, err)

	clock.Add(5 * time.Second)
	st, _ = reg.Get("npc_1")
	assert.Equal(t, npc.StateMoving, st.State, "deadline is inclusive")

	clock.Add(time.Millisecond)
	st, _ = reg.Get("npc_1")
	assert.Equal(t, npc.StateTimedOut, st.State)
	assert.Nil(t, st.Path)
	assert.Equal(t, grid.Point{}, st.Position)
	assert.Contains(t, rec.reasons(), npc.ReasonTimeout)
}

func TestRegistry_TimeoutOnAdvance(t *testing.T) {
	clock := newFakeClock()
	reg, _ := newRegistry(t, clock)
	st, _ := reg.Get("npc_1")
	_, err := reg.BeginMove("npc_1", st.Revision, []grid.Point{{X: 10000, Y: 0}})
	require.NoError(t, err)

	n := reg.Advance(clock.Add(6 * time.Second))
	assert.Equal(t, 1, n)
	st, _ = reg.Get("npc_1")
	assert.Equal(t, npc.StateTimedOut, st.State)
	assert.Equal(t, grid.Point{}, st.Position, "expired NPCs do not move")
}

func TestRegistry_MarkBlocked(t *testing.T) {
	reg, rec := newRegistry(t, newFakeClock())
	st, _ := reg.Get("npc_1")
	target := grid.Point{X: 50, Y: 60}

	blocked, err := reg.MarkBlocked("npc_1", st.Revision, target)
	require.NoError(t, err)
	assert.Equal(t, npc.StateBlocked, blocked.State)
	require.NotNil(t, blocked.FailedTarget)
	assert.Equal(t, target, *blocked.FailedTarget)
	assert.Equal(t, grid.Point{}, blocked.Position)
	assert.Equal(t, []string{npc.ReasonBlocked}, rec.reasons())
}

func TestRegistry_MarkBlockedForgetsNonFiniteTarget(t *testing.T) {
	for _, target := range []grid.Point{{X: math.NaN(), Y: 1}, {X: 1, Y: math.Inf(-1)}} {
		reg, _ := newRegistry(t, newFakeClock())
		st, _ := reg.Get("npc_1")
		blocked, err := reg.MarkBlocked("npc_1", st.Revision, target)
		require.NoError(t, err)
		assert.Equal(t, npc.StateBlocked, blocked.State)
		assert.Nil(t, blocked.FailedTarget)
	}
}

func TestRegistry_ResetFromEveryState(t *testing.T) {
	setups := map[string]func(*npc.Registry, *fakeClock){
		"idle": func(*npc.Registry, *fakeClock) {},
		"moving": func(reg *npc.Registry, _ *fakeClock) {
			st, _ := reg.Get("npc_1")
			_, _ = reg.BeginMove("npc_1", st.Revision, []grid.Point{{X: 1000, Y: 0}})
		},
		"blocked": func(reg *npc.Registry, _ *fakeClock) {
			st, _ := reg.Get("npc_1")
			_, _ = reg.MarkBlocked("npc_1", st.Revision, grid.Point{X: 1, Y: 1})
		},
		"timed_out": func(reg *npc.Registry, clock *fakeClock) {
			st, _ := reg.Get("npc_1")
			_, _ = reg.BeginMove("npc_1", st.Revision, []grid.Point{{X: 1000, Y: 0}})
			reg.Advance(clock.Add(time.Hour))
		},
	}
	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			reg, _ := newRegistry(t, clock)
			setup(reg, clock)
			before, _ := reg.Get("npc_1")
			assert.Equal(t, name, before.State.String())

			st, err := reg.Reset("npc_1")
			require.NoError(t, err)
			assert.Equal(t, npc.StateIdle, st.State)
			assert.Nil(t, st.Path)
			assert.Nil(t, st.FailedTarget)
			assert.True(t, st.Deadline.IsZero())
			assert.Equal(t, before.Position, st.Position)
			assert.Greater(t, st.Revision, before.Revision)
		})
	}
}

func TestRegistry_ViewHoldsLockAgainstAdvance(t *testing.T) {
	clock := newFakeClock()
	reg, rec := newRegistry(t, clock)
	st, _ := reg.Get("npc_1")
	_, err := reg.BeginMove("npc_1", st.Revision, []grid.Point{{X: 1000, Y: 0}})
	require.NoError(t, err)

	var seen int
	reg.View(func(snap []npc.Status) {
		rec.mu.Lock()
		seen = len(rec.events)
		rec.mu.Unlock()
		require.Len(t, snap, 1)
		assert.Equal(t, npc.StateMoving, snap[0].State)
	})
	assert.Equal(t, 2, seen)
}

func TestProperty_PositionNeverLeavesPathHull(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		clock := newFakeClock()
		reg := npc.NewRegistry(npc.Options{
			Speed:          rapid.Float64Range(0.5, 50).Draw(rt, "speed"),
			ArrivalEpsilon: rapid.Float64Range(0, 2).Draw(rt, "eps"),
			MoveTimeout:    time.Hour,
			Now:            clock.Now,
		})
		require.NoError(rt, reg.Add(npc.Spec{ID: "a", Name: "a"}))

		n := rapid.IntRange(1, 6).Draw(rt, "waypoints")
		path := make([]grid.Point, n)
		for i := range path {
			path[i] = grid.Point{
				X: float64(rapid.IntRange(0, 200).Draw(rt, "x")),
				Y: float64(rapid.IntRange(0, 200).Draw(rt, "y")),
			}
		}
		st, _ := reg.Get("a")
		_, err := reg.BeginMove("a", st.Revision, path)
		require.NoError(rt, err)

		for i := 0; i < 10000; i++ {
			reg.Advance(clock.Add(time.Millisecond))
			st, _ = reg.Get("a")
			if st.State != npc.StateMoving {
				break
			}
			assert.True(rt, st.Position.X >= 0 && st.Position.X <= 200)
			assert.True(rt, st.Position.Y >= 0 && st.Position.Y <= 200)
		}
		assert.Equal(rt, npc.StateIdle, st.State)
		assert.Equal(rt, path[n-1], st.Position)
	})
}
