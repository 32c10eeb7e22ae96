// Package core implements the entity mutation pipeline: namespace scoping,
// filter narrowing, precondition evaluation, action dispatch, and the store
// facade that binds them to per-directory transactions.
package core

import (
	"fmt"

	"entitycore/internal/engine"
	"entitycore/pkg/domain"
)

// narrowByNamespace builds the initial candidate scope for a type. With a
// namespace the scope is all-of-type intersected with the entities whose
// reserved namespace property matches; without one it is all-of-type.
func narrowByNamespace(tx *engine.Txn, typ, namespace string) *engine.Scope {
	all := tx.AllOfType(typ)
	if namespace == "" {
		return all
	}
	return all.Intersect(tx.FindByProperty(typ, domain.NamespaceProperty, namespace))
}

// applyFilter narrows the scope by one filter predicate. Filters apply in list
// order, each narrowing what the previous one produced.
func applyFilter(tx *engine.Txn, typ string, scope *engine.Scope, f domain.Filter) (*engine.Scope, error) {
	switch f.Op {
	case domain.FilterEqual:
		return scope.Intersect(tx.FindByProperty(typ, f.Name, f.Value)), nil
	case domain.FilterNotEqual:
		return scope.Intersect(tx.AllOfType(typ).Minus(tx.FindByProperty(typ, f.Name, f.Value))), nil
	case domain.FilterStartsWith:
		prefix, ok := f.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: filter %s wants a string value, got %T", domain.ErrInvalidRequest, f.Op, f.Value)
		}
		return scope.Intersect(tx.FindByPropertyPrefix(typ, f.Name, prefix)), nil
	case domain.FilterNotStartsWith:
		prefix, ok := f.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: filter %s wants a string value, got %T", domain.ErrInvalidRequest, f.Op, f.Value)
		}
		return scope.Intersect(tx.AllOfType(typ).Minus(tx.FindByPropertyPrefix(typ, f.Name, prefix))), nil
	case domain.FilterInRange, domain.FilterContains:
		// Reserved operators fail loudly rather than being skipped.
		return nil, fmt.Errorf("%w: filter operator %s", domain.ErrNotImplemented, f.Op)
	default:
		return nil, fmt.Errorf("%w: unknown filter operator %q", domain.ErrInvalidRequest, f.Op)
	}
}

// applyFilters runs every filter of the request in order.
func applyFilters(tx *engine.Txn, typ string, scope *engine.Scope, filters []domain.Filter) (*engine.Scope, error) {
	var err error
	for _, f := range filters {
		scope, err = applyFilter(tx, typ, scope, f)
		if err != nil {
			return nil, err
		}
	}
	return scope, nil
}
