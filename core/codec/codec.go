// Package codec serializes cluster messages for the wire.
//
// The default [Msgpack] codec is schema-less and binary: arbitrary nested
// maps, slices and scalars round-trip without a declared schema. [JSON] is
// available for debugging and for peers that cannot speak msgpack.
//
// Decode failures always wrap [ErrMalformedPayload], so callers can tell
// corrupt frames apart from other errors with errors.Is.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var ErrMalformedPayload = errors.New("malformed payload")

type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Msgpack encodes with MessagePack. Interface values decode as int64,
// uint64, float64, string, []any and map[string]any.
type Msgpack struct{}

func (Msgpack) Name() string { return "msgpack" }

func (Msgpack) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Msgpack) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty", ErrMalformedPayload)
	}
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedPayload, r.Len())
	}
	return nil
}

type JSON struct{}

func (JSON) Name() string                  { return "json" }
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
func (JSON) Unmarshal(b []byte, v any) error {
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return nil
}

// ByName returns the codec registered under name. The empty name selects msgpack.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "msgpack":
		return Msgpack{}, nil
	case "json":
		return JSON{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}

var (
	_ Codec = Msgpack{}
	_ Codec = JSON{}
)
