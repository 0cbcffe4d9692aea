package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/simverse/internal/game/npc"
	"github.com/cory-johannsen/simverse/internal/protocol"
)

// Mirror receives every event the Hub broadcasts. Mirror must not block; it
// is called while the registry lock is held.
type Mirror interface {
	Mirror(ev npc.Event)
}

// Hub is the registry's EventSink. It owns the active connection set and
// delivers each event to every connection, pruning any that cannot accept it.
//
// Lock order is registry then hub: Join takes the hub lock inside
// Registry.View and Publish is invoked by the registry under its lock.
type Hub struct {
	reg       *npc.Registry
	queueSize int
	logger    *zap.Logger

	mu      sync.Mutex
	conns   map[string]*Connection
	mirrors []Mirror
}

// NewHub creates a Hub and installs it as reg's event sink.
//
// Precondition: reg and logger must be non-nil.
// Postcondition: Every subsequent registry event is broadcast by the Hub.
func NewHub(reg *npc.Registry, queueSize int, logger *zap.Logger) *Hub {
	h := &Hub{
		reg:       reg,
		queueSize: queueSize,
		logger:    logger,
		conns:     make(map[string]*Connection),
	}
	reg.SetSink(h)
	return h
}

// AddMirror registers m to receive every broadcast event.
func (h *Hub) AddMirror(m Mirror) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mirrors = append(h.mirrors, m)
}

// Join registers a new connection. Its first frame is a
// connection_established message carrying the full registry snapshot, and
// it receives every event published after that snapshot.
//
// Precondition: codec must be non-nil.
// Postcondition: Returns a registered Connection, or an error if the
// snapshot could not be encoded or queued.
func (h *Hub) Join(codec protocol.Codec) (*Connection, error) {
	conn := newConnection(uuid.NewString(), codec, h.queueSize)

	var joinErr error
	h.reg.View(func(snapshot []npc.Status) {
		data, err := codec.Marshal(protocol.ConnectionEstablished(conn.ID(), snapshot, h.reg.Now()))
		if err != nil {
			joinErr = fmt.Errorf("encoding snapshot: %w", err)
			return
		}
		if err := conn.Push(data); err != nil {
			joinErr = err
			return
		}
		h.mu.Lock()
		h.conns[conn.ID()] = conn
		h.mu.Unlock()
	})
	if joinErr != nil {
		conn.Close()
		return nil, joinErr
	}

	h.logger.Info("viewer joined",
		zap.String("client_id", conn.ID()),
		zap.String("encoding", codec.Name()),
	)
	return conn, nil
}

// Leave removes and closes the connection with the given id. Unknown ids are
// ignored.
func (h *Hub) Leave(id string) {
	h.mu.Lock()
	conn, ok := h.conns[id]
	delete(h.conns, id)
	h.mu.Unlock()

	if ok {
		conn.Close()
		h.logger.Info("viewer left", zap.String("client_id", id))
	}
}

// Publish broadcasts ev to every connection and mirror. A connection that
// cannot accept the frame is removed; delivery to the others continues.
func (h *Hub) Publish(ev npc.Event) {
	msg := protocol.FromEvent(ev)
	encoded := make(map[string][]byte, len(protocol.Codecs))

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, conn := range h.conns {
		codec := conn.Codec()
		data, ok := encoded[codec.Name()]
		if !ok {
			var err error
			data, err = codec.Marshal(msg)
			if err != nil {
				h.logger.Error("encoding event",
					zap.String("encoding", codec.Name()),
					zap.String("type", msg.Type),
					zap.Error(err),
				)
				continue
			}
			encoded[codec.Name()] = data
		}
		if err := conn.Push(data); err != nil {
			h.dropLocked(id, conn, err)
		}
	}
	for _, m := range h.mirrors {
		m.Mirror(ev)
	}
}

// Send delivers msg to a single connection, removing it on failure.
//
// Postcondition: Returns the delivery error, if any.
func (h *Hub) Send(conn *Connection, msg protocol.Message) error {
	data, err := conn.Codec().Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", msg.Type, err)
	}
	if err := conn.Push(data); err != nil {
		h.mu.Lock()
		if h.conns[conn.ID()] == conn {
			h.dropLocked(conn.ID(), conn, err)
		}
		h.mu.Unlock()
		return err
	}
	return nil
}

// Len returns the number of active connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// IDs returns the active connection ids in sorted order.
func (h *Hub) IDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close removes and closes every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.conns {
		conn.Close()
		delete(h.conns, id)
	}
}

func (h *Hub) dropLocked(id string, conn *Connection, cause error) {
	delete(h.conns, id)
	conn.Close()
	h.logger.Warn("dropping viewer", zap.String("client_id", id), zap.Error(cause))
}
