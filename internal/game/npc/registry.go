package npc

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cory-johannsen/simverse/internal/game/grid"
)

// ErrNotFound is returned for an unknown NPC id.
var ErrNotFound = errors.New("npc not found")

// ErrStale is returned when a commit names a revision that is no longer current.
var ErrStale = errors.New("npc revision is stale")

// Options configures motion and timeouts.
type Options struct {
	// Speed is the distance covered per Advance, in world units.
	Speed float64
	// ArrivalEpsilon is the distance at which a waypoint counts as reached.
	ArrivalEpsilon float64
	// MoveTimeout is the hard ceiling on a move, measured from entering Moving.
	MoveTimeout time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Registry owns every NPC. A single mutex serializes all mutation, and every
// read returns copies taken under that lock. All methods are safe for
// concurrent use.
type Registry struct {
	mu    sync.Mutex
	npcs  map[string]*record
	order []string
	sink  EventSink
	opts  Options
}

// NewRegistry creates an empty Registry.
//
// Precondition: opts.Speed > 0 and opts.MoveTimeout > 0.
// Postcondition: Returns a Registry with no NPCs and no sink.
func NewRegistry(opts Options) *Registry {
	if opts.Speed <= 0 {
		panic("npc.NewRegistry: speed must be > 0")
	}
	if opts.MoveTimeout <= 0 {
		panic("npc.NewRegistry: move timeout must be > 0")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		npcs: make(map[string]*record),
		opts: opts,
	}
}

// SetSink installs the event sink. Events produced before a sink is set are
// discarded.
func (r *Registry) SetSink(sink EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

// Now returns the registry clock's current time.
func (r *Registry) Now() time.Time {
	return r.opts.Now()
}

// Add registers a new Idle NPC.
//
// Precondition: spec must pass Validate.
// Postcondition: Returns an error if spec is invalid or the id is taken.
func (r *Registry) Add(spec Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.npcs[spec.ID]; exists {
		return fmt.Errorf("npc %q already registered", spec.ID)
	}
	r.npcs[spec.ID] = &record{
		id:        spec.ID,
		name:      spec.Name,
		kind:      spec.Kind,
		color:     spec.Color,
		position:  grid.Point{X: spec.X, Y: spec.Y},
		state:     StateIdle,
		enteredAt: r.opts.Now(),
	}
	r.order = append(r.order, spec.ID)
	sort.Strings(r.order)
	return nil
}

// Len returns the number of registered NPCs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.npcs)
}

// Get returns the current status of id.
//
// Postcondition: Returns (status, true) if found, or (Status{}, false).
func (r *Registry) Get(id string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.npcs[id]
	if !ok {
		return Status{}, false
	}
	r.expireLocked(rec, r.opts.Now())
	return rec.status(), true
}

// Snapshot returns every NPC ordered by id.
//
// Postcondition: Returns a non-nil slice.
func (r *Registry) Snapshot() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// View calls fn with a snapshot while holding the registry lock, so no event
// can be published between the snapshot and fn's side effects. fn must not
// call back into the Registry.
func (r *Registry) View(fn func([]Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.snapshotLocked())
}

func (r *Registry) snapshotLocked() []Status {
	now := r.opts.Now()
	out := make([]Status, 0, len(r.order))
	for _, id := range r.order {
		rec := r.npcs[id]
		r.expireLocked(rec, now)
		out = append(out, rec.status())
	}
	return out
}

// BeginMove commits an accepted path: the NPC enters Moving with its waypoint
// index at zero and a deadline of now + MoveTimeout.
//
// Precondition: path must be non-empty.
// Postcondition: Returns ErrNotFound, ErrStale if revision is not current, or
// ErrIllegalTransition; on success publishes a move event and a state event.
func (r *Registry) BeginMove(id string, revision uint64, path []grid.Point) (Status, error) {
	if len(path) == 0 {
		return Status{}, fmt.Errorf("npc %q: empty path", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.lookupLocked(id, revision)
	if err != nil {
		return Status{}, err
	}
	now := r.opts.Now()
	if err := r.transitionLocked(rec, StateMoving, now); err != nil {
		return Status{}, err
	}
	rec.path = append([]grid.Point(nil), path...)
	rec.next = 0
	rec.deadline = now.Add(r.opts.MoveTimeout)
	rec.failedTarget = nil

	st := rec.status()
	r.publishLocked(Event{Kind: EventMove, Reason: ReasonAccepted, NPC: st, Path: st.Path, At: now})
	r.publishLocked(Event{Kind: EventState, Reason: ReasonAccepted, NPC: st, At: now})
	return st, nil
}

// MarkBlocked records an unplannable move: the NPC enters Blocked, keeps its
// position, and remembers target for diagnostics. A non-finite target is not
// remembered.
//
// Postcondition: Returns ErrNotFound, ErrStale, or ErrIllegalTransition; on
// success publishes a state event.
func (r *Registry) MarkBlocked(id string, revision uint64, target grid.Point) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.lookupLocked(id, revision)
	if err != nil {
		return Status{}, err
	}
	now := r.opts.Now()
	if err := r.transitionLocked(rec, StateBlocked, now); err != nil {
		return Status{}, err
	}
	rec.clearPath()
	rec.failedTarget = nil
	if target.Finite() {
		rec.failedTarget = &target
	}

	st := rec.status()
	r.publishLocked(Event{Kind: EventState, Reason: ReasonBlocked, NPC: st, At: now})
	return st, nil
}

// Reset forces id to Idle from any state, clearing path and diagnostics.
// Position is left where it is.
//
// Postcondition: Returns ErrNotFound for an unknown id; otherwise the NPC is
// Idle and a state event is published.
func (r *Registry) Reset(id string) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.npcs[id]
	if !ok {
		return Status{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	now := r.opts.Now()
	rec.state = StateIdle
	rec.enteredAt = now
	rec.revision++
	rec.clearPath()
	rec.failedTarget = nil

	st := rec.status()
	r.publishLocked(Event{Kind: EventState, Reason: ReasonReset, NPC: st, At: now})
	return st, nil
}

// Advance runs one progression step at now: every Moving NPC past its
// deadline becomes TimedOut, the rest move up to Speed along their paths,
// and NPCs that reach their final waypoint become Idle.
//
// Postcondition: Returns the number of NPCs that were Moving at entry.
func (r *Registry) Advance(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	moving := 0
	for _, id := range r.order {
		rec := r.npcs[id]
		if rec.state != StateMoving {
			continue
		}
		moving++
		if r.expireLocked(rec, now) {
			continue
		}
		r.stepLocked(rec, now)
	}
	return moving
}

func (r *Registry) stepLocked(rec *record, now time.Time) {
	budget := r.opts.Speed
	eps := r.opts.ArrivalEpsilon
	for budget > 0 && rec.next < len(rec.path) {
		wp := rec.path[rec.next]
		d := rec.position.Dist(wp)
		if d <= budget || d <= eps {
			rec.position = wp
			rec.next++
			budget -= d
			continue
		}
		ratio := budget / d
		rec.position = grid.Point{
			X: rec.position.X + (wp.X-rec.position.X)*ratio,
			Y: rec.position.Y + (wp.Y-rec.position.Y)*ratio,
		}
		budget = 0
		if rec.position.Dist(wp) <= eps {
			rec.position = wp
			rec.next++
		}
	}

	if rec.next < len(rec.path) {
		r.publishLocked(Event{Kind: EventState, Reason: ReasonAdvanced, NPC: rec.status(), At: now})
		return
	}

	rec.position = rec.path[len(rec.path)-1]
	r.mustTransitionLocked(rec, StateIdle, now)
	rec.clearPath()
	r.publishLocked(Event{Kind: EventState, Reason: ReasonArrived, NPC: rec.status(), At: now})
}

// expireLocked moves rec to TimedOut when it is Moving past its deadline.
func (r *Registry) expireLocked(rec *record, now time.Time) bool {
	if rec.state != StateMoving || !now.After(rec.deadline) {
		return false
	}
	r.mustTransitionLocked(rec, StateTimedOut, now)
	rec.clearPath()
	r.publishLocked(Event{Kind: EventState, Reason: ReasonTimeout, NPC: rec.status(), At: now})
	return true
}

func (r *Registry) lookupLocked(id string, revision uint64) (*record, error) {
	rec, ok := r.npcs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	r.expireLocked(rec, r.opts.Now())
	if rec.revision != revision {
		return nil, fmt.Errorf("%w: %q at revision %d, expected %d", ErrStale, id, rec.revision, revision)
	}
	return rec, nil
}

func (r *Registry) transitionLocked(rec *record, to State, now time.Time) error {
	if !CanTransition(rec.state, to) {
		return fmt.Errorf("%w: npc %q %s -> %s", ErrIllegalTransition, rec.id, rec.state, to)
	}
	rec.state = to
	rec.enteredAt = now
	rec.revision++
	return nil
}

// mustTransitionLocked is transitionLocked for edges the progression itself
// takes. Those edges are always in the table, so a refusal is a bug and
// panics rather than leaving the NPC half-updated.
func (r *Registry) mustTransitionLocked(rec *record, to State, now time.Time) {
	if err := r.transitionLocked(rec, to, now); err != nil {
		panic(err)
	}
}

func (r *Registry) publishLocked(ev Event) {
	if r.sink != nil {
		r.sink.Publish(ev)
	}
}

func (rec *record) clearPath() {
	rec.path = nil
	rec.next = 0
	rec.deadline = time.Time{}
}
