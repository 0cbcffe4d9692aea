// Package npc owns the NPC records, their state machine, and path progression.
package npc

import (
	"time"

	"github.com/cory-johannsen/simverse/internal/game/grid"
)

// record is the registry-owned mutable NPC. It never leaves the registry;
// callers observe it through Status copies.
type record struct {
	id    string
	name  string
	kind  string
	color string

	position grid.Point
	state    State
	path     []grid.Point
	next     int

	enteredAt    time.Time
	deadline     time.Time
	failedTarget *grid.Point

	// revision increments on every state transition; commands commit only
	// against the revision they validated.
	revision uint64
}

// Status is a point-in-time copy of one NPC.
type Status struct {
	ID       string
	Name     string
	Kind     string
	Color    string
	Position grid.Point
	State    State
	// Path holds the waypoints not yet reached; nil unless Moving.
	Path []grid.Point
	// EnteredAt is when the current state was entered.
	EnteredAt time.Time
	// Deadline is the hard move deadline; zero unless Moving.
	Deadline time.Time
	// FailedTarget is the last unreachable target; nil unless Blocked.
	FailedTarget *grid.Point
	Revision     uint64
}

func (r *record) status() Status {
	st := Status{
		ID:        r.id,
		Name:      r.name,
		Kind:      r.kind,
		Color:     r.color,
		Position:  r.position,
		State:     r.state,
		EnteredAt: r.enteredAt,
		Deadline:  r.deadline,
		Revision:  r.revision,
	}
	if r.next < len(r.path) {
		st.Path = append([]grid.Point(nil), r.path[r.next:]...)
	}
	if r.failedTarget != nil {
		t := *r.failedTarget
		st.FailedTarget = &t
	}
	return st
}

// EventKind distinguishes registry events.
type EventKind int

const (
	// EventMove announces a newly accepted path.
	EventMove EventKind = iota + 1
	// EventState announces a transition or a position advance.
	EventState
)

// Reason values attached to events.
const (
	ReasonAccepted = "accepted"
	ReasonAdvanced = "advanced"
	ReasonArrived  = "arrived"
	ReasonTimeout  = "timeout"
	ReasonBlocked  = "blocked"
	ReasonReset    = "reset"
)

// Event is a discrete registry mutation handed to the EventSink.
type Event struct {
	Kind   EventKind
	Reason string
	NPC    Status
	// Path is set for EventMove only.
	Path []grid.Point
	At   time.Time
}

// EventSink receives events while the registry lock is held; Publish must
// not block and must not call back into the Registry.
type EventSink interface {
	Publish(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// Publish calls f(ev).
func (f EventSinkFunc) Publish(ev Event) { f(ev) }
