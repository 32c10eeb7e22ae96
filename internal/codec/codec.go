// Package codec provides the pluggable binary encoders for persisted
// property values. Every supported value kind, including the custom kinds
// (geo point, local time, local time range, embedded composites), has a codec
// registered under its kind; snapshot persistence encodes property values
// through a Registry so storage backends never depend on concrete value
// types.
package codec

import (
	"fmt"

	"entitycore/pkg/domain"
)

// Codec encodes and decodes one property value kind to a binary payload.
// Composite codecs receive the registry to encode their elements recursively.
type Codec interface {
	Kind() domain.Kind
	Encode(reg *Registry, v any) ([]byte, error)
	Decode(reg *Registry, data []byte) (any, error)
}

// Registry maps value kinds to codecs. The zero value is unusable; construct
// with NewRegistry, which installs the built-in codecs, then Register any
// custom ones.
type Registry struct {
	byKind map[domain.Kind]Codec
}

// NewRegistry returns a registry with every built-in codec installed.
func NewRegistry() *Registry {
	r := &Registry{byKind: make(map[domain.Kind]Codec)}
	for _, c := range []Codec{
		stringCodec{},
		intCodec{},
		floatCodec{},
		boolCodec{},
		geoPointCodec{},
		localTimeCodec{},
		localTimeRangeCodec{},
		mapCodec{},
		arrayCodec{},
	} {
		r.byKind[c.Kind()] = c
	}
	return r
}

// Register installs or replaces the codec for its kind.
func (r *Registry) Register(c Codec) {
	r.byKind[c.Kind()] = c
}

// EncodeValue encodes a property value, returning its kind tag and payload.
func (r *Registry) EncodeValue(v any) (domain.Kind, []byte, error) {
	kind, err := domain.KindOf(v)
	if err != nil {
		return "", nil, err
	}
	c, ok := r.byKind[kind]
	if !ok {
		return "", nil, fmt.Errorf("no codec registered for kind %s", kind)
	}
	data, err := c.Encode(r, v)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	return kind, data, nil
}

// DecodeValue decodes a payload previously produced by EncodeValue.
func (r *Registry) DecodeValue(kind domain.Kind, data []byte) (any, error) {
	c, ok := r.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("no codec registered for kind %s", kind)
	}
	v, err := c.Decode(r, data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return v, nil
}
