// Package xjson provides small, pure helpers over untyped JSON trees and raw
// JSON text, used wherever the pipeline has to navigate a "recursive
// tagged-variant value" instead of a named struct (tool-call salvage,
// Substrate frame fields, request body extensions).
package xjson

import (
	"bytes"
	"encoding/json"
)

var (
	EmptyJSON      = json.RawMessage("{}")
	NullJSON       = json.RawMessage("null")
	EmptyArrayJSON = json.RawMessage("[]")
)

func MustMarshalString(v any) string {
	return string(MustMarshal(v))
}

func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}

	return b
}

func MustTo[T any](v []byte) T {
	t, err := To[T](v)
	if err != nil {
		panic(err)
	}

	return t
}

func To[T any](v []byte) (T, error) {
	var t T

	err := json.Unmarshal(v, &t)
	if err != nil {
		return t, err
	}

	return t, nil
}

func IsNull(v json.RawMessage) bool {
	return len(v) == 0 || bytes.Equal(bytes.TrimSpace(v), NullJSON)
}

// IsObject reports whether the trimmed raw JSON value begins a JSON object.
func IsObject(v []byte) bool {
	t := bytes.TrimSpace(v)

	return len(t) > 0 && t[0] == '{'
}

// IsArray reports whether the trimmed raw JSON value begins a JSON array.
func IsArray(v []byte) bool {
	t := bytes.TrimSpace(v)

	return len(t) > 0 && t[0] == '['
}

// DeepClone copies v's bytes into a new slice, so the result shares no
// memory with v. Used by the response store, whose read/write contract
// requires deep-cloned bodies.
func DeepClone(v json.RawMessage) json.RawMessage {
	if len(v) == 0 {
		return nil
	}

	out := make(json.RawMessage, len(v))
	copy(out, v)

	return out
}
