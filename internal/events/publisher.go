package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/cory-johannsen/simverse/internal/game/npc"
	"github.com/cory-johannsen/simverse/internal/protocol"
)

// Connect dials a NATS server with reconnects enabled and logging handlers.
//
// Postcondition: Returns a connected client or a non-nil error.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("simverse"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return nc, nil
}

var subjectToken = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

// Subject returns the subject an event for npcID is published on.
func Subject(prefix, npcID string) string {
	return prefix + "." + subjectToken.Replace(npcID)
}

// Publisher mirrors events to NATS. Mirror only enqueues; a background Run
// loop encodes and publishes, so a slow broker never stalls the registry.
type Publisher struct {
	conn    *nats.Conn
	prefix  string
	queue   chan npc.Event
	logger  *zap.Logger
	dropped atomic.Uint64

	closeOnce sync.Once
	closing   chan struct{}
}

// NewPublisher creates a Publisher for subjects under prefix.
//
// Precondition: conn must be connected; buffer must be > 0.
func NewPublisher(conn *nats.Conn, prefix string, buffer int, logger *zap.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 1
	}
	return &Publisher{
		conn:    conn,
		prefix:  prefix,
		queue:   make(chan npc.Event, buffer),
		logger:  logger,
		closing: make(chan struct{}),
	}
}

// Mirror enqueues ev for publishing, dropping it when the queue is full.
func (p *Publisher) Mirror(ev npc.Event) {
	select {
	case p.queue <- ev:
	default:
		if n := p.dropped.Add(1); n == 1 || n%100 == 0 {
			p.logger.Warn("nats mirror queue full, dropping events", zap.Uint64("dropped_total", n))
		}
	}
}

// Run publishes queued events until ctx ends or Close is called, then
// flushes the connection.
func (p *Publisher) Run(ctx context.Context) {
	defer func() {
		if err := p.conn.Flush(); err != nil {
			p.logger.Debug("flushing nats connection", zap.Error(err))
		}
	}()
	for {
		select {
		case ev := <-p.queue:
			p.publish(ev)
		case <-p.closing:
			p.drain()
			return
		case <-ctx.Done():
			p.drain()
			return
		}
	}
}

// Close ends Run after the queued events are published.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() { close(p.closing) })
}

// Dropped returns the number of events discarded because the queue was full.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

func (p *Publisher) drain() {
	for {
		select {
		case ev := <-p.queue:
			p.publish(ev)
		default:
			return
		}
	}
}

func (p *Publisher) publish(ev npc.Event) {
	data, err := protocol.JSONCodec{}.Marshal(protocol.FromEvent(ev))
	if err != nil {
		p.logger.Error("encoding event for nats", zap.String("npc_id", ev.NPC.ID), zap.Error(err))
		return
	}
	if err := p.conn.Publish(Subject(p.prefix, ev.NPC.ID), data); err != nil {
		p.logger.Warn("publishing event to nats", zap.String("npc_id", ev.NPC.ID), zap.Error(err))
	}
}
