package postgres

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/simverse/internal/game/npc"
)

// ErrJournalClosed is returned by Run after Close.
var ErrJournalClosed = errors.New("journal closed")

// BatchWriter persists journal entries.
type BatchWriter interface {
	InsertBatch(ctx context.Context, entries []JournalEntry) error
}

const maxBatch = 64

// Journal records NPC lifecycle events asynchronously. Mirror never blocks:
// when the buffer is full the entry is dropped and counted.
type Journal struct {
	writer  BatchWriter
	entries chan JournalEntry
	logger  *zap.Logger
	dropped atomic.Uint64
	written atomic.Uint64

	closeOnce sync.Once
	closing   chan struct{}
	mu        sync.RWMutex
	closed    bool
}

// NewJournal creates a Journal buffering up to buffer entries.
//
// Precondition: writer and logger must be non-nil; buffer must be > 0.
func NewJournal(writer BatchWriter, buffer int, logger *zap.Logger) *Journal {
	if buffer <= 0 {
		buffer = 1
	}
	return &Journal{
		writer:  writer,
		entries: make(chan JournalEntry, buffer),
		logger:  logger,
		closing: make(chan struct{}),
	}
}

// Mirror converts ev into a journal entry and enqueues it. Position advances
// and the state half of an accepted move are not journaled.
func (j *Journal) Mirror(ev npc.Event) {
	entry, ok := EntryFromEvent(ev)
	if !ok {
		return
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.entries <- entry:
	default:
		if n := j.dropped.Add(1); n == 1 || n%100 == 0 {
			j.logger.Warn("journal buffer full, dropping entries",
				zap.String("npc_id", entry.NPCID),
				zap.Uint64("dropped_total", n),
			)
		}
	}
}

// EntryFromEvent maps a registry event onto a journal entry.
//
// Postcondition: ok is false for events that are not journaled.
func EntryFromEvent(ev npc.Event) (entry JournalEntry, ok bool) {
	entry = JournalEntry{
		NPCID:      ev.NPC.ID,
		State:      ev.NPC.State.String(),
		X:          ev.NPC.Position.X,
		Y:          ev.NPC.Position.Y,
		OccurredAt: ev.At,
	}
	switch {
	case ev.Kind == npc.EventMove:
		entry.Kind = KindMoveAccepted
		entry.PathLength = len(ev.Path)
		if n := len(ev.Path); n > 0 {
			tx, ty := ev.Path[n-1].X, ev.Path[n-1].Y
			entry.TargetX, entry.TargetY = &tx, &ty
		}
	case ev.Reason == npc.ReasonArrived:
		entry.Kind = KindArrived
	case ev.Reason == npc.ReasonTimeout:
		entry.Kind = KindTimedOut
	case ev.Reason == npc.ReasonReset:
		entry.Kind = KindReset
	case ev.Reason == npc.ReasonBlocked:
		entry.Kind = KindBlocked
		if t := ev.NPC.FailedTarget; t != nil {
			tx, ty := t.X, t.Y
			entry.TargetX, entry.TargetY = &tx, &ty
		}
	default:
		return JournalEntry{}, false
	}
	return entry, true
}

// Run writes buffered entries in batches until Close is called or ctx ends,
// then flushes what remains.
//
// Postcondition: Returns ErrJournalClosed after Close, or ctx.Err().
func (j *Journal) Run(ctx context.Context) error {
	batch := make([]JournalEntry, 0, maxBatch)
	for {
		select {
		case e := <-j.entries:
			batch = append(batch[:0], e)
			batch = j.fill(batch)
			j.write(ctx, batch)
		case <-j.closing:
			j.flush()
			return ErrJournalClosed
		case <-ctx.Done():
			j.flush()
			return ctx.Err()
		}
	}
}

// Close stops accepting entries and ends Run after a final flush.
func (j *Journal) Close() {
	j.closeOnce.Do(func() {
		j.mu.Lock()
		j.closed = true
		j.mu.Unlock()
		close(j.closing)
	})
}

// Dropped returns the number of entries discarded because the buffer was full.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Written returns the number of entries persisted.
func (j *Journal) Written() uint64 { return j.written.Load() }

func (j *Journal) fill(batch []JournalEntry) []JournalEntry {
	for len(batch) < maxBatch {
		select {
		case e := <-j.entries:
			batch = append(batch, e)
		default:
			return batch
		}
	}
	return batch
}

func (j *Journal) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		batch := j.fill(make([]JournalEntry, 0, maxBatch))
		if len(batch) == 0 {
			return
		}
		j.write(ctx, batch)
	}
}

func (j *Journal) write(ctx context.Context, batch []JournalEntry) {
	if err := j.writer.InsertBatch(ctx, batch); err != nil {
		j.logger.Error("writing journal batch", zap.Int("entries", len(batch)), zap.Error(err))
		return
	}
	j.written.Add(uint64(len(batch)))
}
