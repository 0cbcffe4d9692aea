package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes and decodes Messages for one transport encoding.
type Codec interface {
	// Name is the value accepted by the ?encoding= query parameter.
	Name() string
	// Binary reports whether frames must be sent as binary websocket messages.
	Binary() bool
	Marshal(m Message) ([]byte, error)
	Unmarshal(data []byte, m *Message) error
}

// JSONCodec is the default text encoding.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }
func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Marshal(m Message) ([]byte, error) { return json.Marshal(m) }

func (JSONCodec) Unmarshal(data []byte, m *Message) error { return json.Unmarshal(data, m) }

// MsgpackCodec is the compact binary encoding.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }
func (MsgpackCodec) Binary() bool { return true }

func (MsgpackCodec) Marshal(m Message) ([]byte, error) { return msgpack.Marshal(&m) }

func (MsgpackCodec) Unmarshal(data []byte, m *Message) error { return msgpack.Unmarshal(data, m) }

// Codecs lists every supported encoding, default first.
var Codecs = []Codec{JSONCodec{}, MsgpackCodec{}}

// CodecByName resolves an encoding name; the empty name selects JSON.
//
// Postcondition: Returns a Codec or an error naming the unknown encoding.
func CodecByName(name string) (Codec, error) {
	if name == "" {
		return JSONCodec{}, nil
	}
	for _, c := range Codecs {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("unsupported encoding %q", name)
}
