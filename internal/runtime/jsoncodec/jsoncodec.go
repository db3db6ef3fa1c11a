// Package jsoncodec centralises JSON encoding so every wire path (envelopes,
// task payloads, HTTP listings) shares one sonic configuration.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// std mirrors encoding/json semantics (sorted map keys, HTML escaping, Marshaler support).
var std = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return std.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return std.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return std.Unmarshal(data, v)
}

// Valid reports whether data is a syntactically valid JSON document.
func Valid(data []byte) bool {
	return std.Valid(data)
}

func Encode(w io.Writer, v any) error {
	return std.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return std.NewDecoder(r).Decode(v)
}
