package testutil

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cory-johannsen/simverse/internal/protocol"
)

// ViewerClient is a websocket test client speaking the viewer protocol.
type ViewerClient struct {
	conn  *websocket.Conn
	codec protocol.Codec
	t     *testing.T
}

// NewViewerClient dials the /ws endpoint of an HTTP test server.
//
// Precondition: baseURL must be an http:// URL of a running server.
// Postcondition: Returns a connected ViewerClient or fails the test.
func NewViewerClient(t *testing.T, baseURL string, codec protocol.Codec) *ViewerClient {
	t.Helper()
	start := time.Now()

	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws?encoding=" + codec.Name()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v [%s]", url, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("viewer connected to %s [%s]", url, time.Since(start))
	return &ViewerClient{conn: conn, codec: codec, t: t}
}

// Read returns the next decoded message or fails on timeout.
func (c *ViewerClient) Read(timeout time.Duration) protocol.Message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	codec := c.codec
	if mt == websocket.TextMessage {
		codec = protocol.JSONCodec{}
	}
	var msg protocol.Message
	if err := codec.Unmarshal(data, &msg); err != nil {
		c.t.Fatalf("decoding frame: %v", err)
	}
	return msg
}

// ReadUntil reads messages until one of type typ arrives, returning it.
//
// Postcondition: Returns the matching message, or fails on timeout.
func (c *ViewerClient) ReadUntil(typ string, timeout time.Duration) protocol.Message {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("timed out waiting for %q", typ)
		}
		if msg := c.Read(remaining); msg.Type == typ {
			return msg
		}
	}
}

// Send encodes and writes msg.
func (c *ViewerClient) Send(msg protocol.Message) {
	c.t.Helper()
	data, err := c.codec.Marshal(msg)
	if err != nil {
		c.t.Fatalf("encoding %s: %v", msg.Type, err)
	}
	mt := websocket.TextMessage
	if c.codec.Binary() {
		mt = websocket.BinaryMessage
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(mt, data); err != nil {
		c.t.Fatalf("sending %s: %v", msg.Type, err)
	}
}

// SendRaw writes a text frame verbatim.
func (c *ViewerClient) SendRaw(text string) {
	c.t.Helper()
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		c.t.Fatalf("sending raw frame: %v", err)
	}
}

// Close closes the underlying connection.
func (c *ViewerClient) Close() {
	c.conn.Close()
}
