package npc

import (
	"errors"
	"fmt"
)

// State is the motion state of an NPC.
type State int

const (
	// StateIdle accepts move commands.
	StateIdle State = iota
	// StateMoving is walking a planned path; commands are rejected.
	StateMoving
	// StateBlocked means the last move could not be planned.
	StateBlocked
	// StateTimedOut means the last move exceeded its deadline.
	StateTimedOut
)

// String returns the wire name of s.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMoving:
		return "moving"
	case StateBlocked:
		return "blocked"
	case StateTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseState is the inverse of State.String.
func ParseState(name string) (State, error) {
	for _, s := range []State{StateIdle, StateMoving, StateBlocked, StateTimedOut} {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown npc state %q", name)
}

// ErrIllegalTransition is returned when a mutation would take an NPC along an
// edge missing from the transition table. Reaching it indicates a bug.
var ErrIllegalTransition = errors.New("illegal npc state transition")

// transitions is the complete edge set. Blocked and TimedOut may re-plan only
// when the command policy allows retries; administrative reset is the one
// mutation that ignores this table.
var transitions = map[State]map[State]bool{
	StateIdle:     {StateMoving: true, StateBlocked: true},
	StateMoving:   {StateIdle: true, StateTimedOut: true, StateBlocked: true},
	StateBlocked:  {StateIdle: true, StateMoving: true, StateBlocked: true},
	StateTimedOut: {StateIdle: true, StateMoving: true, StateBlocked: true},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to State) bool {
	return transitions[from][to]
}
