// Package protocol defines the viewer wire messages and their encodings.
package protocol

import (
	"time"

	"github.com/cory-johannsen/simverse/internal/game/grid"
	"github.com/cory-johannsen/simverse/internal/game/npc"
)

// Message types.
const (
	TypeConnectionEstablished = "connection_established"
	TypeMoveAlongPath         = "move_along_path"
	TypeStateUpdate           = "state_update"
	TypeCommandResult         = "command_result"
	TypePong                  = "pong"

	// Inbound.
	TypeMove = "move"
	TypePing = "ping"
)

// NPCState is one NPC as seen by a viewer.
type NPCState struct {
	NPCID    string     `json:"npc_id" msgpack:"npc_id"`
	Name     string     `json:"name,omitempty" msgpack:"name,omitempty"`
	Kind     string     `json:"kind,omitempty" msgpack:"kind,omitempty"`
	Color    string     `json:"color,omitempty" msgpack:"color,omitempty"`
	Position grid.Point `json:"position" msgpack:"position"`
	State    string     `json:"state" msgpack:"state"`
}

// Message is the single envelope for every frame. Type selects which of the
// remaining fields are meaningful.
type Message struct {
	Type string `json:"type" msgpack:"type"`

	ClientID string `json:"client_id,omitempty" msgpack:"client_id,omitempty"`
	// Snapshot is set only on connection_established, where it is always
	// present, as [] for an empty world.
	Snapshot *[]NPCState `json:"snapshot,omitempty" msgpack:"snapshot,omitempty"`

	NPCID    string       `json:"npc_id,omitempty" msgpack:"npc_id,omitempty"`
	Path     []grid.Point `json:"path,omitempty" msgpack:"path,omitempty"`
	Position *grid.Point  `json:"position,omitempty" msgpack:"position,omitempty"`
	State    string       `json:"state,omitempty" msgpack:"state,omitempty"`
	Reason   string       `json:"reason,omitempty" msgpack:"reason,omitempty"`

	Target  *grid.Point `json:"target,omitempty" msgpack:"target,omitempty"`
	Outcome string      `json:"outcome,omitempty" msgpack:"outcome,omitempty"`
	Error   string      `json:"error,omitempty" msgpack:"error,omitempty"`

	Timestamp int64 `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
}

// FromStatus converts a registry status to its wire form.
func FromStatus(st npc.Status) NPCState {
	return NPCState{
		NPCID:    st.ID,
		Name:     st.Name,
		Kind:     st.Kind,
		Color:    st.Color,
		Position: st.Position,
		State:    st.State.String(),
	}
}

// States returns the snapshot entries, or nil when the frame carries none.
func (m Message) States() []NPCState {
	if m.Snapshot == nil {
		return nil
	}
	return *m.Snapshot
}

// ConnectionEstablished builds the first frame sent to a new viewer.
func ConnectionEstablished(clientID string, snapshot []npc.Status, at time.Time) Message {
	states := make([]NPCState, 0, len(snapshot))
	for _, st := range snapshot {
		states = append(states, FromStatus(st))
	}
	return Message{
		Type:      TypeConnectionEstablished,
		ClientID:  clientID,
		Snapshot:  &states,
		Timestamp: at.UnixMilli(),
	}
}

// FromEvent converts a registry event to its broadcast frame.
func FromEvent(ev npc.Event) Message {
	if ev.Kind == npc.EventMove {
		return Message{
			Type:      TypeMoveAlongPath,
			NPCID:     ev.NPC.ID,
			Path:      ev.Path,
			Timestamp: ev.At.UnixMilli(),
		}
	}
	pos := ev.NPC.Position
	return Message{
		Type:      TypeStateUpdate,
		NPCID:     ev.NPC.ID,
		Position:  &pos,
		State:     ev.NPC.State.String(),
		Reason:    ev.Reason,
		Timestamp: ev.At.UnixMilli(),
	}
}

// CommandResult builds the reply to an inbound move frame.
func CommandResult(npcID, outcome string, path []grid.Point, err error) Message {
	m := Message{Type: TypeCommandResult, NPCID: npcID, Outcome: outcome, Path: path}
	if err != nil {
		m.Error = err.Error()
	}
	return m
}
