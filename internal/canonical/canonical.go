// Package canonical serialises ledger payloads into a deterministic byte form
// that is used as hashing input.
//
// Two payloads that carry the same fields and values always encode to the same
// bytes, whatever order their fields were inserted in. The encoding format is
// versioned: every ledger entry records the version it was hashed with, so a new
// version can be introduced without breaking verification of older entries.
package canonical

import (
	"errors"
	"fmt"
)

// ErrUnsupportedValue is returned when a payload contains a value kind the
// encoder has no canonical representation for.
var ErrUnsupportedValue = errors.New("canonical: unsupported value")

// ErrUnknownVersion is returned by Registry.Lookup for unregistered versions.
var ErrUnknownVersion = errors.New("canonical: unknown encoding version")

// Encoder turns a payload field map into canonical bytes.
type Encoder interface {
	// Version identifies the encoding format. It is persisted with every entry.
	Version() int

	// Normalize returns the payload in the exact shape that is persisted.
	// Encoding the normalized map yields the same bytes as encoding the input.
	Normalize(fields map[string]any) (map[string]any, error)

	// Encode returns the canonical byte form of fields.
	Encode(fields map[string]any) ([]byte, error)
}

// Registry holds every encoder version that may appear on persisted entries.
type Registry struct {
	encoders map[int]Encoder
	current  Encoder
}

// NewRegistry creates a Registry whose new entries use current. legacy encoders
// remain available for verifying entries written before current was introduced.
func NewRegistry(current Encoder, legacy ...Encoder) *Registry {
	r := &Registry{
		encoders: make(map[int]Encoder, len(legacy)+1),
		current:  current,
	}
	for _, e := range legacy {
		r.encoders[e.Version()] = e
	}
	r.encoders[current.Version()] = current
	return r
}

// DefaultRegistry returns a Registry with V1 as the current encoder.
func DefaultRegistry() *Registry {
	return NewRegistry(V1{})
}

// Current returns the encoder used for new entries.
func (r *Registry) Current() Encoder {
	return r.current
}

// Lookup returns the encoder registered for version.
func (r *Registry) Lookup(version int) (Encoder, error) {
	e, ok := r.encoders[version]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}
	return e, nil
}
