// Package engine implements the embedded entity-store engine consumed by the
// mutation pipeline: per-directory environments with single-writer
// transactions, typed property storage, a bidirectional link table, blob
// references, and ordered candidate scopes with set algebra.
package engine

import (
	"entitycore/pkg/domain"
)

// Scope is an ordered, deduplicated set of entity identifiers confined to one
// environment. All set operations are copy-on-narrow: they return a new Scope
// and never mutate the receiver, so earlier pipeline stages keep a stable view.
type Scope struct {
	ids []domain.ID
	set map[domain.ID]struct{}
}

// NewScope builds a scope from ids, keeping first occurrence order.
func NewScope(ids []domain.ID) *Scope {
	s := &Scope{set: make(map[domain.ID]struct{}, len(ids))}
	for _, id := range ids {
		if _, dup := s.set[id]; dup {
			continue
		}
		s.set[id] = struct{}{}
		s.ids = append(s.ids, id)
	}
	return s
}

// EmptyScope returns a scope with no members.
func EmptyScope() *Scope {
	return NewScope(nil)
}

// Len returns the member count.
func (s *Scope) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// Empty reports whether the scope has no members.
func (s *Scope) Empty() bool { return s.Len() == 0 }

// Contains reports membership.
func (s *Scope) Contains(id domain.ID) bool {
	if s == nil {
		return false
	}
	_, ok := s.set[id]
	return ok
}

// IDs returns the members in scope order.
func (s *Scope) IDs() []domain.ID {
	if s == nil {
		return nil
	}
	out := make([]domain.ID, len(s.ids))
	copy(out, s.ids)
	return out
}

// First returns the first member, or false when empty.
func (s *Scope) First() (domain.ID, bool) {
	if s.Len() == 0 {
		return "", false
	}
	return s.ids[0], true
}

// Last returns the last member, or false when empty.
func (s *Scope) Last() (domain.ID, bool) {
	if s.Len() == 0 {
		return "", false
	}
	return s.ids[len(s.ids)-1], true
}

// Intersect keeps the receiver's members also present in other, preserving
// the receiver's order.
func (s *Scope) Intersect(other *Scope) *Scope {
	if s == nil || other == nil {
		return EmptyScope()
	}
	out := make([]domain.ID, 0, min(len(s.ids), other.Len()))
	for _, id := range s.ids {
		if other.Contains(id) {
			out = append(out, id)
		}
	}
	return NewScope(out)
}

// Union appends other's members missing from the receiver.
func (s *Scope) Union(other *Scope) *Scope {
	out := make([]domain.ID, 0, s.Len()+other.Len())
	out = append(out, s.IDs()...)
	if other != nil {
		out = append(out, other.ids...)
	}
	return NewScope(out)
}

// Minus removes other's members from the receiver.
func (s *Scope) Minus(other *Scope) *Scope {
	if s == nil {
		return EmptyScope()
	}
	out := make([]domain.ID, 0, len(s.ids))
	for _, id := range s.ids {
		if other.Contains(id) {
			continue
		}
		out = append(out, id)
	}
	return NewScope(out)
}

// Filter keeps members for which keep returns true.
func (s *Scope) Filter(keep func(domain.ID) bool) *Scope {
	if s == nil {
		return EmptyScope()
	}
	out := make([]domain.ID, 0, len(s.ids))
	for _, id := range s.ids {
		if keep(id) {
			out = append(out, id)
		}
	}
	return NewScope(out)
}

// Combine applies a binary operator to the receiver and other.
func (s *Scope) Combine(op domain.BinaryOp, other *Scope) *Scope {
	switch op {
	case domain.OpUnion:
		return s.Union(other)
	case domain.OpMinus:
		return s.Minus(other)
	default:
		return s.Intersect(other)
	}
}

// Ref is the mutable cell threaded through the pipeline stages holding the
// current candidate scope. It exists for mutability through closures inside a
// single transaction; it is not a synchronisation primitive.
type Ref struct {
	current *Scope
}

// NewRef wraps an initial scope.
func NewRef(s *Scope) *Ref {
	if s == nil {
		s = EmptyScope()
	}
	return &Ref{current: s}
}

// Get returns the current scope.
func (r *Ref) Get() *Scope { return r.current }

// Replace swaps in a narrowed scope.
func (r *Ref) Replace(s *Scope) {
	if s == nil {
		s = EmptyScope()
	}
	r.current = s
}
