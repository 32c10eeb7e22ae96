// Package domain defines the wire-facing entity model, the condition and
// action variants of the mutation pipeline, and the error taxonomy shared by
// the store facade and the storage engine.
package domain

import (
	"github.com/google/uuid"
)

// ID uniquely identifies a stored entity within one storage environment.
type ID string

// NewID generates a fresh entity identifier.
func NewID() ID {
	return ID(uuid.NewString())
}

// NamespaceProperty is the reserved property that partitions entities of the
// same type into isolated namespaces. It never appears in user property maps.
const NamespaceProperty = "__namespace__"

// Ref points at an entity by type, identifier, or both. A valid reference
// carries at least one of the two.
type Ref struct {
	Type string `json:"type,omitempty"`
	ID   ID     `json:"id,omitempty"`
}

// Validate enforces the at-least-one-field invariant.
func (r Ref) Validate() error {
	if r.Type == "" && r.ID == "" {
		return ErrInvalidRequest
	}
	return nil
}

// Blob names a byte payload persisted alongside an entity. Multiple marks a
// blob name that may hold more than one stream.
type Blob struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Multiple bool   `json:"multiple,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// Entity is the wire representation of one logical mutation or query target.
// Environment selects the storage directory; entities addressed to different
// environments never share a transaction.
type Entity struct {
	Environment string           `json:"environment,omitempty"`
	Type        string           `json:"type,omitempty"`
	ID          ID               `json:"id,omitempty"`
	Namespace   string           `json:"namespace,omitempty"`
	Properties  *PropertyMap     `json:"properties,omitempty"`
	Blobs       []Blob           `json:"blobs,omitempty"`
	Links       map[string][]Ref `json:"links,omitempty"`
	Actions     []Action         `json:"-"`
	Filters     []Filter         `json:"filters,omitempty"`
	Conditions  []Condition      `json:"-"`
}

// Ref returns the entity's own reference.
func (e *Entity) Ref() Ref {
	return Ref{Type: e.Type, ID: e.ID}
}

// Validate checks the identifying-field invariant for the request.
func (e *Entity) Validate() error {
	if e == nil {
		return ErrInvalidRequest
	}
	return e.Ref().Validate()
}

// EntityHandle is the live entity surface handed to custom conditions and
// custom actions while a save transaction is open. Mutations performed through
// the handle share the transaction's commit/abort boundary.
type EntityHandle interface {
	Type() string
	ID() ID
	Property(name string) (any, bool)
	SetProperty(name string, value any) error
	DeleteProperty(name string) error
	Links(name string) []ID
	HasBlob(name string) bool
}

// TypeInfo describes one entity type known to an environment.
type TypeInfo struct {
	Name  string `json:"name"`
	Count int64  `json:"count,omitempty"`
}
