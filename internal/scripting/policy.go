package scripting

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// NextMoveHook is the global function a controller script must define:
//
//	function next_move(npc_ids, width, height) return npc_id, x, y end
const NextMoveHook = "next_move"

var (
	// ErrNoDecision is returned when the script declines to move anyone.
	ErrNoDecision = errors.New("script returned no move")
	// ErrBadDecision is returned when the script names an unknown npc or a
	// non-numeric target.
	ErrBadDecision = errors.New("script returned an invalid move")
)

// Move is one controller decision: send NPCID toward (X, Y).
type Move struct {
	NPCID string
	X, Y  float64
}

// Chooser picks the next controller move.
type Chooser interface {
	NextMove(npcIDs []string, width, height float64) (Move, error)
}

// Random picks a uniformly random npc and a uniformly random point inside
// the map bounds.
type Random struct {
	Rand *rand.Rand
}

// NextMove implements Chooser.
//
// Precondition: npcIDs must be non-empty; width and height must be positive.
func (r Random) NextMove(npcIDs []string, width, height float64) (Move, error) {
	if len(npcIDs) == 0 {
		return Move{}, ErrNoDecision
	}
	rng := r.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return Move{
		NPCID: npcIDs[rng.IntN(len(npcIDs))],
		X:     rng.Float64() * width,
		Y:     rng.Float64() * height,
	}, nil
}

// Policy runs a controller script's next_move hook. Calls are serialized;
// each gets a fresh instruction budget.
type Policy struct {
	mu        sync.Mutex
	L         *lua.LState
	instLimit int
	logger    *zap.Logger
}

// LoadPolicy creates a sandboxed VM and executes the script at path.
//
// Precondition: logger must be non-nil.
// Postcondition: Returns a Policy whose script defines next_move, or an error.
func LoadPolicy(path string, instLimit int, logger *zap.Logger) (*Policy, error) {
	return load(func(L *lua.LState) error { return L.DoFile(path) }, path, instLimit, logger)
}

// LoadPolicyString is LoadPolicy for inline source.
func LoadPolicyString(src string, instLimit int, logger *zap.Logger) (*Policy, error) {
	return load(func(L *lua.LState) error { return L.DoString(src) }, "<inline>", instLimit, logger)
}

func load(exec func(*lua.LState) error, name string, instLimit int, logger *zap.Logger) (*Policy, error) {
	L := NewSandboxedState(instLimit)
	registerModules(L, logger)
	if err := exec(L); err != nil {
		L.Close()
		return nil, fmt.Errorf("scripting: loading %s: %w", name, err)
	}
	if _, ok := L.GetGlobal(NextMoveHook).(*lua.LFunction); !ok {
		L.Close()
		return nil, fmt.Errorf("scripting: %s does not define %s", name, NextMoveHook)
	}
	return &Policy{L: L, instLimit: instLimit, logger: logger}, nil
}

// NextMove implements Chooser by calling next_move(npc_ids, width, height).
//
// Postcondition: On success Move.NPCID is one of npcIDs. A script error,
// including an exhausted budget, is returned wrapped.
func (p *Policy) NextMove(npcIDs []string, width, height float64) (Move, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cancel := Refill(p.L, p.instLimit)
	defer cancel()

	ids := p.L.NewTable()
	for _, id := range npcIDs {
		ids.Append(lua.LString(id))
	}
	if err := p.L.CallByParam(lua.P{
		Fn:      p.L.GetGlobal(NextMoveHook),
		NRet:    3,
		Protect: true,
	}, ids, lua.LNumber(width), lua.LNumber(height)); err != nil {
		return Move{}, fmt.Errorf("scripting: %s: %w", NextMoveHook, err)
	}
	id, x, y := p.L.Get(-3), p.L.Get(-2), p.L.Get(-1)
	p.L.Pop(3)

	if id == lua.LNil {
		return Move{}, ErrNoDecision
	}
	name, ok := id.(lua.LString)
	if !ok || !slices.Contains(npcIDs, string(name)) {
		return Move{}, fmt.Errorf("%w: npc %v", ErrBadDecision, id)
	}
	tx, okX := x.(lua.LNumber)
	ty, okY := y.(lua.LNumber)
	if !okX || !okY {
		return Move{}, fmt.Errorf("%w: target (%v, %v)", ErrBadDecision, x, y)
	}
	return Move{NPCID: string(name), X: float64(tx), Y: float64(ty)}, nil
}

// Close releases the VM.
func (p *Policy) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.L.Close()
}
