// Package command validates move requests and commits their outcome into the
// NPC registry.
package command

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/simverse/internal/game/grid"
	"github.com/cory-johannsen/simverse/internal/game/npc"
	"github.com/cory-johannsen/simverse/internal/game/pathfind"
	"github.com/cory-johannsen/simverse/internal/observability"
)

var (
	// ErrNPCNotFound is returned when a command names an unknown NPC.
	ErrNPCNotFound = errors.New("npc not found")
	// ErrNPCBusy is returned when the NPC cannot accept a move in its current state.
	ErrNPCBusy = errors.New("npc busy")
)

// OutcomeKind classifies the result of a move command.
type OutcomeKind int

const (
	OutcomeAccepted OutcomeKind = iota + 1
	OutcomeBlocked
	OutcomeBusy
	OutcomeNotFound
)

// String returns the wire name of k.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeBusy:
		return "busy"
	case OutcomeNotFound:
		return "not_found"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the single result of one move command.
type Outcome struct {
	Kind  OutcomeKind
	NPCID string
	// Path is the accepted waypoint sequence; nil unless accepted.
	Path []grid.Point
	// NPC is the NPC's status after the command; zero for not_found.
	NPC npc.Status
}

// Processor validates move commands, plans outside the registry lock, and
// commits the result against the revision it validated.
type Processor struct {
	reg             *npc.Registry
	world           *grid.Map
	planner         pathfind.Planner
	retryFromFailed bool
	logger          *zap.Logger
}

// NewProcessor creates a Processor.
//
// Precondition: reg, world, and logger must be non-nil.
// Postcondition: When retryFromFailed is false only Idle NPCs accept moves;
// otherwise Blocked and TimedOut NPCs may re-plan too.
func NewProcessor(reg *npc.Registry, world *grid.Map, planner pathfind.Planner, retryFromFailed bool, logger *zap.Logger) *Processor {
	return &Processor{
		reg:             reg,
		world:           world,
		planner:         planner,
		retryFromFailed: retryFromFailed,
		logger:          logger,
	}
}

// Move handles one move command for id toward the world point target.
//
// Postcondition: Returns exactly one outcome. err wraps ErrNPCNotFound or
// ErrNPCBusy for those outcomes, is ctx.Err() if ctx ended before commit, and
// is nil for accepted and blocked.
func (p *Processor) Move(ctx context.Context, id string, target grid.Point) (Outcome, error) {
	st, ok := p.reg.Get(id)
	if !ok {
		p.logger.Warn("move rejected: unknown npc", zap.String("npc_id", id))
		return Outcome{Kind: OutcomeNotFound, NPCID: id}, fmt.Errorf("%w: %q", ErrNPCNotFound, id)
	}
	if !p.accepts(st.State) {
		return p.busy(st, "npc is "+st.State.String())
	}

	if !target.Finite() {
		return p.block(st, target, "target not finite")
	}
	goal := p.world.WorldToCell(target)
	if !p.world.Passable(goal) {
		return p.block(st, target, "target cell impassable")
	}

	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	path, err := p.planner.Plan(p.world, st.Position, target)
	if errors.Is(err, pathfind.ErrNoPath) {
		return p.block(st, target, "no path")
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("planning move for %q: %w", id, err)
	}

	moved, err := p.reg.BeginMove(id, st.Revision, path)
	if err != nil {
		return p.commitFailed(st, err)
	}
	observability.NPC(p.logger, id).Info("move accepted",
		zap.Float64("target_x", target.X),
		zap.Float64("target_y", target.Y),
		zap.Int("waypoints", len(path)),
	)
	return Outcome{Kind: OutcomeAccepted, NPCID: id, Path: moved.Path, NPC: moved}, nil
}

// Reset forces id back to Idle.
//
// Postcondition: Returns ErrNPCNotFound for an unknown id.
func (p *Processor) Reset(id string) (npc.Status, error) {
	st, err := p.reg.Reset(id)
	if errors.Is(err, npc.ErrNotFound) {
		return npc.Status{}, fmt.Errorf("%w: %q", ErrNPCNotFound, id)
	}
	if err != nil {
		return npc.Status{}, err
	}
	observability.NPC(p.logger, id).Info("npc reset", zap.Stringer("state", st.State))
	return st, nil
}

func (p *Processor) accepts(s npc.State) bool {
	switch s {
	case npc.StateIdle:
		return true
	case npc.StateBlocked, npc.StateTimedOut:
		return p.retryFromFailed
	default:
		return false
	}
}

func (p *Processor) block(st npc.Status, target grid.Point, why string) (Outcome, error) {
	blocked, err := p.reg.MarkBlocked(st.ID, st.Revision, target)
	if err != nil {
		return p.commitFailed(st, err)
	}
	observability.NPC(p.logger, st.ID).Warn("move blocked",
		zap.String("reason", why),
		zap.Float64("target_x", target.X),
		zap.Float64("target_y", target.Y),
	)
	return Outcome{Kind: OutcomeBlocked, NPCID: st.ID, NPC: blocked}, nil
}

func (p *Processor) busy(st npc.Status, why string) (Outcome, error) {
	observability.NPC(p.logger, st.ID).Warn("move rejected: busy", zap.String("reason", why))
	return Outcome{Kind: OutcomeBusy, NPCID: st.ID, NPC: st}, fmt.Errorf("%w: %q %s", ErrNPCBusy, st.ID, why)
}

// commitFailed maps a failed registry commit onto an outcome. A stale
// revision means another mutation won the race, which the caller sees as busy.
func (p *Processor) commitFailed(st npc.Status, err error) (Outcome, error) {
	if errors.Is(err, npc.ErrStale) || errors.Is(err, npc.ErrIllegalTransition) {
		current, ok := p.reg.Get(st.ID)
		if !ok {
			current = st
		}
		if errors.Is(err, npc.ErrIllegalTransition) {
			p.logger.Error("illegal transition on commit", zap.String("npc_id", st.ID), zap.Error(err))
		}
		return p.busy(current, "state changed during planning")
	}
	if errors.Is(err, npc.ErrNotFound) {
		return Outcome{Kind: OutcomeNotFound, NPCID: st.ID}, fmt.Errorf("%w: %q", ErrNPCNotFound, st.ID)
	}
	return Outcome{}, err
}
