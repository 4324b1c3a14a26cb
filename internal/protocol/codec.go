package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Wire formats
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// Codec frames envelopes for the websocket.
type Codec interface {
	Encode(env Envelope) ([]byte, error)
	Decode(data []byte) (Envelope, error)
	// Binary reports whether frames must be sent as binary messages.
	Binary() bool
	Name() string
}

// NewCodec returns the codec for format; an empty format means JSON.
func NewCodec(format string) (Codec, error) {
	switch format {
	case "", FormatJSON:
		return JSONCodec{}, nil
	case FormatMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("protocol: unknown wire format %q", format)
	}
}

// JSONCodec sends text frames.
type JSONCodec struct{}

func (JSONCodec) Encode(env Envelope) ([]byte, error) { return json.Marshal(env) }

func (JSONCodec) Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env, nil
}

func (JSONCodec) Binary() bool { return false }
func (JSONCodec) Name() string { return FormatJSON }

// MsgpackCodec sends binary frames. Maps decode as map[string]any so both
// codecs hand ParseCommand the same shapes.
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(env Envelope) ([]byte, error) { return msgpack.Marshal(env) }

func (MsgpackCodec) Decode(data []byte) (Envelope, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetMapDecoder(func(d *msgpack.Decoder) (any, error) {
		return d.DecodeMap()
	})
	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env, nil
}

func (MsgpackCodec) Binary() bool { return true }
func (MsgpackCodec) Name() string { return FormatMsgpack }
