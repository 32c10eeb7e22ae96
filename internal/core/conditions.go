package core

import (
	"fmt"
	"strings"

	"github.com/mmcloughlin/geohash"

	"entitycore/internal/engine"
	"entitycore/internal/geo"
	"entitycore/pkg/domain"
)

// geoHashSuffix names the companion property the facade maintains next to
// every geo point property. Prefix lookups against it drive the geohash mode
// of the nearby condition.
const geoHashSuffix = ".geohash"

func geoHashProperty(name string) string { return name + geoHashSuffix }

// narrowScope applies one condition in query mode, combining the condition's
// match set with the scope using the condition's binary operator. Conditions
// that only make sense as per-entity preconditions are invalid here.
func narrowScope(tx *engine.Txn, typ string, scope *engine.Scope, cond domain.Condition) (*engine.Scope, error) {
	op := domain.ScopeOp(cond)
	switch c := cond.(type) {
	case domain.PropertyEqual:
		return scope.Combine(op, tx.FindByProperty(typ, c.Name, c.Value)), nil
	case domain.PropertyMinMax:
		return scope.Combine(op, tx.FindByPropertyRange(typ, c.Name, c.Min, c.Max)), nil
	case domain.PropertyStartsWith:
		return scope.Combine(op, tx.FindByPropertyPrefix(typ, c.Name, c.Prefix)), nil
	case domain.PropertyContains:
		match := tx.FindWithProperty(typ, c.Name).Filter(func(id domain.ID) bool {
			v, ok := tx.Property(id, c.Name)
			if !ok {
				return false
			}
			s, isString := v.(string)
			return isString && strings.Contains(s, c.Substring)
		})
		return scope.Combine(op, match), nil
	case domain.BlobExists:
		return scope.Combine(op, tx.FindByBlob(typ, c.Name)), nil
	case domain.PropertyNearby:
		return narrowNearby(tx, typ, scope, c)
	case domain.CustomCondition:
		if c.Narrow == nil {
			return nil, fmt.Errorf("%w: custom condition %q has no scope transformer", domain.ErrInvalidCondition, c.Name)
		}
		return engine.NewScope(c.Narrow(scope.IDs())), nil
	case domain.LinkCondition, domain.OppositeLinkCondition, domain.PropertyUnique, domain.LocalTimeRangeCondition:
		return nil, fmt.Errorf("%w: %T is a per-entity precondition, not a scope predicate", domain.ErrInvalidCondition, cond)
	default:
		return nil, fmt.Errorf("%w: unknown condition %T", domain.ErrInvalidCondition, cond)
	}
}

// narrowNearby matches entities whose geo point property lies within
// c.Distance kilometers of the query point. Geohash mode is a prefix filter at
// a precision derived from the distance; exact mode measures every candidate
// with ellipsoidal distance, a full scan that bypasses the read cache so a
// one-off query does not pollute it.
func narrowNearby(tx *engine.Txn, typ string, scope *engine.Scope, c domain.PropertyNearby) (*engine.Scope, error) {
	if err := (domain.GeoPoint{Lon: c.Lon, Lat: c.Lat}).Validate(); err != nil {
		return nil, err
	}
	op := domain.ScopeOp(c)
	if c.UseGeoHash {
		prefixLen := geo.GeoHashPrefixLength(c.Distance)
		prefix := geohash.Encode(c.Lat, c.Lon)[:prefixLen]
		return scope.Combine(op, tx.FindByPropertyPrefix(typ, geoHashProperty(c.Name), prefix)), nil
	}

	tx.DisableCache()
	defer tx.EnableCache()
	match := tx.FindWithProperty(typ, c.Name).Filter(func(id domain.ID) bool {
		v, ok := tx.Property(id, c.Name)
		if !ok {
			return false
		}
		p, isPoint := v.(domain.GeoPoint)
		if !isPoint {
			return false
		}
		return geo.Distance(c.Lon, c.Lat, p.Lon, p.Lat)/1000 <= c.Distance
	})
	return scope.Combine(op, match), nil
}

// narrowConditions applies every condition of a query in list order.
func narrowConditions(tx *engine.Txn, typ string, scope *engine.Scope, conds []domain.Condition) (*engine.Scope, error) {
	var err error
	for _, cond := range conds {
		scope, err = narrowScope(tx, typ, scope, cond)
		if err != nil {
			return nil, err
		}
	}
	return scope, nil
}

// checkConditions runs every condition of a save request as a per-entity
// precondition. All of them must hold before any action executes; the first
// failure aborts the save with a typed unsatisfied-condition error.
func checkConditions(tx *engine.Txn, scope *engine.Scope, conds []domain.Condition, ec *entityCtx) error {
	for _, cond := range conds {
		if err := checkCondition(tx, scope, cond, ec); err != nil {
			return err
		}
	}
	return nil
}

func checkCondition(tx *engine.Txn, scope *engine.Scope, cond domain.Condition, ec *entityCtx) error {
	switch c := cond.(type) {
	case domain.PropertyEqual:
		v, ok := ec.Property(c.Name)
		if !ok {
			return domain.Unsatisfied(c, "property %q absent", c.Name)
		}
		if !domain.ValuesEqual(v, c.Value) {
			return domain.Unsatisfied(c, "property %q = %v, want %v", c.Name, v, c.Value)
		}
		return nil
	case domain.PropertyMinMax:
		v, ok := ec.Property(c.Name)
		if !ok {
			return domain.Unsatisfied(c, "property %q absent", c.Name)
		}
		lo, err := domain.CompareValues(v, c.Min)
		if err != nil {
			return domain.Unsatisfied(c, "property %q not comparable: %v", c.Name, err)
		}
		hi, err := domain.CompareValues(v, c.Max)
		if err != nil {
			return domain.Unsatisfied(c, "property %q not comparable: %v", c.Name, err)
		}
		if lo < 0 || hi > 0 {
			return domain.Unsatisfied(c, "property %q = %v outside [%v, %v]", c.Name, v, c.Min, c.Max)
		}
		return nil
	case domain.PropertyStartsWith:
		v, ok := ec.Property(c.Name)
		if !ok {
			return domain.Unsatisfied(c, "property %q absent", c.Name)
		}
		s, isString := v.(string)
		if !isString {
			// Type mismatch is itself a failed condition, not a request error.
			return domain.Unsatisfied(c, "property %q is %T, not a string", c.Name, v)
		}
		if !strings.HasPrefix(s, c.Prefix) {
			return domain.Unsatisfied(c, "property %q = %q lacks prefix %q", c.Name, s, c.Prefix)
		}
		return nil
	case domain.PropertyContains:
		v, ok := ec.Property(c.Name)
		if !ok {
			return domain.Unsatisfied(c, "property %q absent", c.Name)
		}
		s, isString := v.(string)
		if !isString {
			return domain.Unsatisfied(c, "property %q is %T, not a string", c.Name, v)
		}
		if !strings.Contains(s, c.Substring) {
			return domain.Unsatisfied(c, "property %q = %q does not contain %q", c.Name, s, c.Substring)
		}
		return nil
	case domain.PropertyNearby:
		v, ok := ec.Property(c.Name)
		if !ok {
			return domain.Unsatisfied(c, "property %q absent", c.Name)
		}
		p, isPoint := v.(domain.GeoPoint)
		if !isPoint {
			return domain.Unsatisfied(c, "property %q is %T, not a geo point", c.Name, v)
		}
		if geo.Distance(c.Lon, c.Lat, p.Lon, p.Lat)/1000 > c.Distance {
			return domain.Unsatisfied(c, "property %q outside %v km radius", c.Name, c.Distance)
		}
		return nil
	case domain.BlobExists:
		if !ec.HasBlob(c.Name) {
			return domain.Unsatisfied(c, "blob %q absent", c.Name)
		}
		return nil
	case domain.LinkCondition:
		return checkLink(tx, c, ec)
	case domain.OppositeLinkCondition:
		return checkOppositeLink(tx, c, ec)
	case domain.PropertyUnique:
		// Asserts the value is NOT already present: any scope member with an
		// exact match fails the condition.
		if !scope.Intersect(tx.FindByProperty(ec.Type(), c.Name, c.Value)).Empty() {
			return domain.Unsatisfied(c, "property %q value %v already present", c.Name, c.Value)
		}
		return nil
	case domain.LocalTimeRangeCondition:
		return checkLocalTimeRange(c, ec)
	case domain.CustomCondition:
		if c.Check == nil {
			return fmt.Errorf("%w: custom condition %q has no check", domain.ErrInvalidCondition, c.Name)
		}
		if err := c.Check(ec); err != nil {
			if _, typed := err.(*domain.UnsatisfiedConditionError); typed {
				return err
			}
			return domain.Unsatisfied(c, "%v", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown condition %T", domain.ErrInvalidCondition, cond)
	}
}

func checkLink(tx *engine.Txn, c domain.LinkCondition, ec *entityCtx) error {
	targets := ec.Links(c.Name)
	if len(targets) == 0 {
		return domain.Unsatisfied(c, "link %q absent", c.Name)
	}
	if c.IsSet {
		if len(targets) != 1 {
			return domain.Unsatisfied(c, "link %q holds %d targets, want exactly one", c.Name, len(targets))
		}
		if !linkMatches(tx, targets[0], c.Other) {
			return domain.Unsatisfied(c, "link %q does not point at %v", c.Name, c.Other)
		}
		return nil
	}
	if c.Other == (domain.Ref{}) {
		return nil
	}
	for _, target := range targets {
		if linkMatches(tx, target, c.Other) {
			return nil
		}
	}
	return domain.Unsatisfied(c, "link %q has no target matching %v", c.Name, c.Other)
}

// linkMatches reports whether a link target satisfies a reference: by ID when
// given, otherwise by entity type.
func linkMatches(tx *engine.Txn, target domain.ID, ref domain.Ref) bool {
	if ref.ID != "" {
		return target == ref.ID
	}
	if ref.Type != "" {
		typ, ok := tx.TypeOf(target)
		return ok && typ == ref.Type
	}
	return true
}

func checkOppositeLink(tx *engine.Txn, c domain.OppositeLinkCondition, ec *entityCtx) error {
	targets := ec.Links(c.Name)
	if len(targets) == 0 {
		return domain.Unsatisfied(c, "link %q absent", c.Name)
	}
	reciprocal := 0
	for _, target := range targets {
		if c.Other != (domain.Ref{}) && !linkMatches(tx, target, c.Other) {
			continue
		}
		back := tx.Links(target, c.OppositeName)
		if c.IsSet && len(back) != 1 {
			return domain.Unsatisfied(c, "opposite link %q on %s holds %d targets, want exactly one", c.OppositeName, target, len(back))
		}
		for _, b := range back {
			if b == ec.ID() {
				reciprocal++
				break
			}
		}
	}
	if reciprocal == 0 {
		return domain.Unsatisfied(c, "no reciprocal %q/%q link pair", c.Name, c.OppositeName)
	}
	return nil
}

func checkLocalTimeRange(c domain.LocalTimeRangeCondition, ec *entityCtx) error {
	v, ok := ec.Property(c.Name)
	if !ok {
		return domain.Unsatisfied(c, "property %q absent", c.Name)
	}
	bounds := domain.LocalTimeRange{Lower: c.Lower, Upper: c.Upper}
	switch t := v.(type) {
	case domain.LocalTime:
		if !bounds.Contains(t) {
			return domain.Unsatisfied(c, "property %q = %v outside [%v, %v]", c.Name, t, c.Lower, c.Upper)
		}
		return nil
	case domain.LocalTimeRange:
		if !bounds.Contains(t.Lower) || !bounds.Contains(t.Upper) {
			return domain.Unsatisfied(c, "property %q = %v outside [%v, %v]", c.Name, t, c.Lower, c.Upper)
		}
		return nil
	default:
		return domain.Unsatisfied(c, "property %q is %T, not a local time", c.Name, v)
	}
}
