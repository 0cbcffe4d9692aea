package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/simverse/internal/protocol"
)

func TestConnection_Push(t *testing.T) {
	c := newConnection("test", protocol.JSONCodec{}, 4)
	require.NoError(t, c.Push([]byte("hello")))

	f := <-c.Frames()
	assert.Equal(t, []byte("hello"), f.Data)
	assert.False(t, f.Binary)
}

func TestConnection_PushBinaryCodec(t *testing.T) {
	c := newConnection("test", protocol.MsgpackCodec{}, 4)
	require.NoError(t, c.Push([]byte{0x80}))
	assert.True(t, (<-c.Frames()).Binary)
}

func TestConnection_PushClosed(t *testing.T) {
	c := newConnection("test", protocol.JSONCodec{}, 4)
	c.Close()
	assert.True(t, c.IsClosed())
	assert.ErrorIs(t, c.Push([]byte("fail")), ErrConnectionClosed)
}

func TestConnection_PushFull(t *testing.T) {
	c := newConnection("test", protocol.JSONCodec{}, 1)
	require.NoError(t, c.Push([]byte("first")))
	assert.ErrorIs(t, c.Push([]byte("overflow")), ErrQueueFull)
}

func TestConnection_CloseIdempotent(t *testing.T) {
	c := newConnection("test", protocol.JSONCodec{}, 4)
	c.Close()
	c.Close()
	assert.True(t, c.IsClosed())
	_, open := <-c.Frames()
	assert.False(t, open)
}
