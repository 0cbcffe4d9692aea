package gameserver

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/simverse/internal/game/command"
	"github.com/cory-johannsen/simverse/internal/game/session"
	"github.com/cory-johannsen/simverse/internal/protocol"
)

const maxInboundFrame = 4096

var errMalformedMove = errors.New("move requires npc_id and target")

// WSConfig configures the viewer websocket endpoint.
type WSConfig struct {
	// ReadTimeout is how long a viewer may stay silent, pongs included;
	// zero disables the deadline and keepalive pings.
	ReadTimeout time.Duration
	// WriteTimeout is the deadline for each outbound frame.
	WriteTimeout time.Duration
	// AllowedOrigins restricts the Origin header; empty accepts any.
	AllowedOrigins []string
}

// WSHandler upgrades viewers, joins them to the Hub, pumps their outbound
// queue, and serves inbound move and ping frames.
type WSHandler struct {
	hub      *session.Hub
	proc     *command.Processor
	cfg      WSConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWSHandler creates a WSHandler.
//
// Precondition: hub, proc, and logger must be non-nil.
func NewWSHandler(hub *session.Hub, proc *command.Processor, cfg WSConfig, logger *zap.Logger) *WSHandler {
	h := &WSHandler{hub: hub, proc: proc, cfg: cfg, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

// ServeHTTP handles GET /ws[?encoding=json|msgpack].
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	codec, err := protocol.CodecByName(r.URL.Query().Get("encoding"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	conn, err := h.hub.Join(codec)
	if err != nil {
		h.logger.Warn("viewer join failed", zap.Error(err))
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "join failed"))
		_ = ws.Close()
		return
	}

	go h.writeLoop(ws, conn)
	h.readLoop(r.Context(), ws, conn)
}

func (h *WSHandler) writeLoop(ws *websocket.Conn, conn *session.Connection) {
	defer ws.Close()

	var ping <-chan time.Time
	if h.cfg.ReadTimeout > 0 {
		t := time.NewTicker(h.cfg.ReadTimeout * 9 / 10)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case f, ok := <-conn.Frames():
			if !ok {
				h.setWriteDeadline(ws)
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			mt := websocket.TextMessage
			if f.Binary {
				mt = websocket.BinaryMessage
			}
			h.setWriteDeadline(ws)
			if err := ws.WriteMessage(mt, f.Data); err != nil {
				h.logger.Debug("viewer write failed", zap.String("client_id", conn.ID()), zap.Error(err))
				h.hub.Leave(conn.ID())
				return
			}
		case <-ping:
			h.setWriteDeadline(ws)
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.hub.Leave(conn.ID())
				return
			}
		}
	}
}

func (h *WSHandler) setWriteDeadline(ws *websocket.Conn) {
	if h.cfg.WriteTimeout > 0 {
		_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	}
}

func (h *WSHandler) extendReadDeadline(ws *websocket.Conn) {
	if h.cfg.ReadTimeout > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	}
}

func (h *WSHandler) readLoop(ctx context.Context, ws *websocket.Conn, conn *session.Connection) {
	defer h.hub.Leave(conn.ID())

	ws.SetReadLimit(maxInboundFrame)
	h.extendReadDeadline(ws)
	ws.SetPongHandler(func(string) error {
		h.extendReadDeadline(ws)
		return nil
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("viewer read failed", zap.String("client_id", conn.ID()), zap.Error(err))
			}
			return
		}
		h.extendReadDeadline(ws)

		codec := conn.Codec()
		if mt == websocket.TextMessage {
			codec = protocol.JSONCodec{}
		}
		var msg protocol.Message
		if err := codec.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("discarding malformed frame", zap.String("client_id", conn.ID()), zap.Error(err))
			continue
		}
		if !h.dispatch(ctx, conn, msg) {
			return
		}
	}
}

// dispatch serves one inbound frame. It returns false when the connection
// has been dropped.
func (h *WSHandler) dispatch(ctx context.Context, conn *session.Connection, msg protocol.Message) bool {
	var reply protocol.Message
	switch msg.Type {
	case protocol.TypePing:
		reply = protocol.Message{Type: protocol.TypePong, Timestamp: time.Now().UnixMilli()}
	case protocol.TypeMove:
		if msg.NPCID == "" || msg.Target == nil {
			reply = protocol.CommandResult(msg.NPCID, "malformed", nil, errMalformedMove)
			break
		}
		out, err := h.proc.Move(ctx, msg.NPCID, *msg.Target)
		outcome := out.Kind.String()
		if err != nil && out.Kind == 0 {
			outcome = "error"
		}
		reply = protocol.CommandResult(msg.NPCID, outcome, out.Path, err)
	default:
		h.logger.Debug("ignoring frame", zap.String("client_id", conn.ID()), zap.String("type", msg.Type))
		return true
	}
	return h.hub.Send(conn, reply) == nil
}
