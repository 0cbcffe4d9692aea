package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// JournalEntry is one recorded NPC lifecycle event.
type JournalEntry struct {
	ID    int64  `json:"id"`
	NPCID string `json:"npc_id"`
	// Kind is one of the Kind* constants.
	Kind  string  `json:"kind"`
	State string  `json:"state"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	// TargetX and TargetY are set for accepted and blocked moves.
	TargetX    *float64  `json:"target_x,omitempty"`
	TargetY    *float64  `json:"target_y,omitempty"`
	PathLength int       `json:"path_length"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Journal entry kinds.
const (
	KindMoveAccepted = "move_accepted"
	KindArrived      = "arrived"
	KindTimedOut     = "timed_out"
	KindBlocked      = "blocked"
	KindReset        = "reset"
)

// JournalRepository provides append and query access to the npc_journal table.
type JournalRepository struct {
	db *pgxpool.Pool
}

// NewJournalRepository creates a JournalRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewJournalRepository(db *pgxpool.Pool) *JournalRepository {
	return &JournalRepository{db: db}
}

const insertEntrySQL = `INSERT INTO npc_journal
	(npc_id, kind, state, x, y, target_x, target_y, path_length, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// InsertBatch appends entries in a single round trip.
//
// Postcondition: Either every entry is stored or an error is returned.
func (r *JournalRepository) InsertBatch(ctx context.Context, entries []JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning journal batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(insertEntrySQL,
			e.NPCID, e.Kind, e.State, e.X, e.Y, e.TargetX, e.TargetY, e.PathLength, e.OccurredAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting %d journal entries: %w", len(entries), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing journal batch: %w", err)
	}
	return nil
}

// Recent returns up to limit entries for npcID, newest first.
//
// Precondition: limit must be > 0.
// Postcondition: Returns a non-nil slice, empty when the NPC has no history.
func (r *JournalRepository) Recent(ctx context.Context, npcID string, limit int) ([]JournalEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, npc_id, kind, state, x, y, target_x, target_y, path_length, occurred_at
		 FROM npc_journal
		 WHERE npc_id = $1
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT $2`,
		npcID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying journal for %q: %w", npcID, err)
	}
	defer rows.Close()

	out := []JournalEntry{}
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.NPCID, &e.Kind, &e.State, &e.X, &e.Y,
			&e.TargetX, &e.TargetY, &e.PathLength, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal rows: %w", err)
	}
	return out, nil
}
