package events

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes events for the wire.
type Codec interface {
	Encode(ev Event) ([]byte, error)
	Decode(data []byte, ev *Event) error
	ContentType() string
}

// CodecByName returns the codec for "json" or "msgpack".
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("events: unknown codec %q", name)
	}
}

// JSONCodec is the default codec.
type JSONCodec struct{}

func (JSONCodec) Encode(ev Event) ([]byte, error) { return json.Marshal(ev) }
func (JSONCodec) Decode(data []byte, ev *Event) error { return json.Unmarshal(data, ev) }
func (JSONCodec) ContentType() string { return "application/json" }

// MsgpackCodec is the compact binary codec.
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(ev Event) ([]byte, error) { return msgpack.Marshal(&ev) }
func (MsgpackCodec) Decode(data []byte, ev *Event) error { return msgpack.Unmarshal(data, ev) }
func (MsgpackCodec) ContentType() string { return "application/msgpack" }
