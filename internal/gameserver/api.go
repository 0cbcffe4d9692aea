// Package gameserver wires the simulation core to its HTTP, websocket, and
// tick-driven surfaces.
package gameserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/simverse/internal/game/command"
	"github.com/cory-johannsen/simverse/internal/game/grid"
	"github.com/cory-johannsen/simverse/internal/game/npc"
	"github.com/cory-johannsen/simverse/internal/storage/postgres"
)

// HistoryReader serves journal queries for the admin API.
type HistoryReader interface {
	Recent(ctx context.Context, npcID string, limit int) ([]postgres.JournalEntry, error)
}

// APIConfig collects the API's collaborators.
type APIConfig struct {
	Processor *command.Processor
	Registry  *npc.Registry
	World     *grid.Map
	// History is nil when the journal is disabled.
	History HistoryReader
	// AdminTokenHash guards /admin routes; empty disables the check.
	AdminTokenHash string
	// HealthCheck, when set, must pass for /healthz to report ok.
	HealthCheck func(ctx context.Context) error
	Logger      *zap.Logger
}

// API serves the command and administrative HTTP endpoints.
type API struct {
	cfg APIConfig
}

// NewAPI creates an API.
//
// Precondition: Processor, Registry, World, and Logger must be non-nil.
func NewAPI(cfg APIConfig) *API {
	return &API{cfg: cfg}
}

// Register adds every API route to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /command/move/{npc_id}", a.handleMove)
	mux.HandleFunc("POST /command/interactive_move", a.handleInteractiveMove)
	mux.HandleFunc("GET /map", a.handleMap)
	mux.HandleFunc("GET /healthz", a.handleHealth)

	admin := func(h http.HandlerFunc) http.Handler { return RequireAdmin(a.cfg.AdminTokenHash, h) }
	mux.Handle("GET /admin/npc_states", admin(a.handleStates))
	mux.Handle("POST /admin/reset_npc_state/{npc_id}", admin(a.handleReset))
	mux.Handle("GET /admin/npc_history/{npc_id}", admin(a.handleHistory))
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if a.cfg.HealthCheck != nil {
		if err := a.cfg.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(err.Error()))
			return
		}
	}
	_, _ = w.Write([]byte("ok"))
}

type moveRequest struct {
	NPCID   string   `json:"npc_id"`
	TargetX *float64 `json:"target_x"`
	TargetY *float64 `json:"target_y"`
}

type moveResponse struct {
	Outcome    string       `json:"outcome"`
	NPCID      string       `json:"npc_id"`
	Path       []grid.Point `json:"path,omitempty"`
	PathLength int          `json:"path_length"`
	State      string       `json:"state,omitempty"`
	Error      string       `json:"error,omitempty"`
}

func (a *API) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.NPCID = r.PathValue("npc_id")
	a.move(w, r, req)
}

func (a *API) handleInteractiveMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a.move(w, r, req)
}

func (a *API) move(w http.ResponseWriter, r *http.Request, req moveRequest) {
	if req.NPCID == "" || req.TargetX == nil || req.TargetY == nil {
		writeError(w, http.StatusBadRequest, "npc_id, target_x and target_y are required")
		return
	}
	out, err := a.cfg.Processor.Move(r.Context(), req.NPCID, grid.Point{X: *req.TargetX, Y: *req.TargetY})
	status, resp := moveResult(out, err)
	if status == http.StatusInternalServerError {
		a.cfg.Logger.Error("move command failed", zap.String("npc_id", req.NPCID), zap.Error(err))
	}
	writeJSON(w, status, resp)
}

// moveResult maps a command outcome to an HTTP status and body.
func moveResult(out command.Outcome, err error) (int, moveResponse) {
	resp := moveResponse{Outcome: out.Kind.String(), NPCID: out.NPCID}
	if out.NPC.ID != "" {
		resp.State = out.NPC.State.String()
	}
	switch {
	case errors.Is(err, command.ErrNPCNotFound):
		resp.Error = err.Error()
		return http.StatusNotFound, resp
	case errors.Is(err, command.ErrNPCBusy):
		resp.Error = err.Error()
		return http.StatusConflict, resp
	case err != nil:
		return http.StatusInternalServerError, moveResponse{Outcome: "error", NPCID: out.NPCID, Error: err.Error()}
	case out.Kind == command.OutcomeBlocked:
		return http.StatusUnprocessableEntity, resp
	default:
		resp.Path = out.Path
		resp.PathLength = len(out.Path)
		return http.StatusOK, resp
	}
}

type npcRow struct {
	NPCID          string      `json:"npc_id"`
	Name           string      `json:"name"`
	Kind           string      `json:"kind"`
	Position       grid.Point  `json:"position"`
	State          string      `json:"state"`
	StateEnteredAt time.Time   `json:"state_entered_at"`
	Deadline       *time.Time  `json:"deadline,omitempty"`
	FailedTarget   *grid.Point `json:"failed_target,omitempty"`
	Remaining      int         `json:"remaining_waypoints"`
}

func rowFromStatus(st npc.Status) npcRow {
	row := npcRow{
		NPCID:          st.ID,
		Name:           st.Name,
		Kind:           st.Kind,
		Position:       st.Position,
		State:          st.State.String(),
		StateEnteredAt: st.EnteredAt,
		FailedTarget:   st.FailedTarget,
		Remaining:      len(st.Path),
	}
	if !st.Deadline.IsZero() {
		d := st.Deadline
		row.Deadline = &d
	}
	return row
}

func (a *API) handleStates(w http.ResponseWriter, _ *http.Request) {
	snapshot := a.cfg.Registry.Snapshot()
	rows := make([]npcRow, 0, len(snapshot))
	for _, st := range snapshot {
		rows = append(rows, rowFromStatus(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{"npcs": rows, "count": len(rows)})
}

func (a *API) handleReset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("npc_id")
	st, err := a.cfg.Processor.Reset(id)
	if errors.Is(err, command.ErrNPCNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		a.cfg.Logger.Error("reset failed", zap.String("npc_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rowFromStatus(st))
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	if a.cfg.History == nil {
		writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	id := r.PathValue("npc_id")
	if _, ok := a.cfg.Registry.Get(id); !ok {
		writeError(w, http.StatusNotFound, "npc not found")
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	entries, err := a.cfg.History.Recent(r.Context(), id, limit)
	if err != nil {
		a.cfg.Logger.Error("reading journal", zap.String("npc_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "reading journal failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"npc_id": id, "entries": entries})
}

type mapResponse struct {
	Width    int         `json:"width"`
	Height   int         `json:"height"`
	CellSize float64     `json:"cell_size"`
	Blocked  []grid.Cell `json:"blocked"`
}

func (a *API) handleMap(w http.ResponseWriter, _ *http.Request) {
	m := a.cfg.World
	writeJSON(w, http.StatusOK, mapResponse{
		Width:    m.Width(),
		Height:   m.Height(),
		CellSize: m.CellSize(),
		Blocked:  m.BlockedCells(),
	})
}

const maxBodyBytes = 1 << 16

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"encoding response failed"}` + "\n"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
