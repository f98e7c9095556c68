package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Codec converts an entity to and from its persisted document.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(doc []byte) (T, error)
}

// JSONCodec stores entities as field-named JSON documents.
// Unknown fields are ignored on decode so documents written by newer versions stay readable.
type JSONCodec[T any] struct{}

// Encode marshals v to JSON.
func (JSONCodec[T]) Encode(v T) ([]byte, error) {
	return json.Marshal(v)
}

// Decode unmarshals a JSON document. Empty, null, non-object and trailing-garbage
// documents fail with ErrCorruptRecord.
func (JSONCodec[T]) Decode(doc []byte) (T, error) {
	var v T
	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return v, fmt.Errorf("%w: document is not a JSON object", ErrCorruptRecord)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if err := dec.Decode(&v); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		var zero T
		return zero, fmt.Errorf("%w: trailing data after document", ErrCorruptRecord)
	}
	return v, nil
}
