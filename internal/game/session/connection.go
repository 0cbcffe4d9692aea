// Package session tracks viewer connections and fans registry events out to
// them.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cory-johannsen/simverse/internal/protocol"
)

var (
	// ErrQueueFull is returned when a connection's outbound queue has no room.
	ErrQueueFull = errors.New("outbound queue full")
	// ErrConnectionClosed is returned when pushing to a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
)

// Frame is one encoded outbound message.
type Frame struct {
	Data   []byte
	Binary bool
}

// Connection is one viewer's ordered outbound queue. The transport goroutine
// drains Frames; the Hub is the only producer.
type Connection struct {
	id     string
	codec  protocol.Codec
	frames chan Frame
	mu     sync.Mutex
	closed bool
}

func newConnection(id string, codec protocol.Codec, queueSize int) *Connection {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Connection{
		id:     id,
		codec:  codec,
		frames: make(chan Frame, queueSize),
	}
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() string {
	return c.id
}

// Codec returns the encoding negotiated for this connection.
func (c *Connection) Codec() protocol.Codec {
	return c.codec
}

// Push enqueues data without blocking.
//
// Postcondition: Returns ErrConnectionClosed or ErrQueueFull when the frame
// was not enqueued.
func (c *Connection) Push(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection %s: %w", c.id, ErrConnectionClosed)
	}
	select {
	case c.frames <- Frame{Data: data, Binary: c.codec.Binary()}:
		return nil
	default:
		return fmt.Errorf("connection %s: %w", c.id, ErrQueueFull)
	}
}

// Frames returns the read-only outbound channel. It is closed by Close.
func (c *Connection) Frames() <-chan Frame {
	return c.frames
}

// Close marks the connection closed and closes its frame channel. Close is
// idempotent.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.frames)
	}
}

// IsClosed reports whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
