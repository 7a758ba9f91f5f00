package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Packet is a decoded application message
type Packet map[string]any

// Codec converts between application packets and frame payloads.
// Replace it with WithCodec to speak something other than JSON objects.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (Packet, error)
}

// JSONCodec encodes any value as JSON and decodes frames that hold a single
// JSON object. Numbers decode as json.Number so prices keep their precision.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode packet: %w", err)
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte) (Packet, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("failed to decode frame: trailing data after JSON value")
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("failed to decode frame: %w", ErrNotObject)
	}
	return Packet(obj), nil
}
