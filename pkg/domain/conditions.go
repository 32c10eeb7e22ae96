package domain

// BinaryOp selects how a scope-narrowing condition combines its match set
// with the current scope. Precondition-style conditions ignore it.
type BinaryOp string

// Scope combination operators. Intersect is the default when unset.
const (
	OpIntersect BinaryOp = "intersect"
	OpUnion     BinaryOp = "union"
	OpMinus     BinaryOp = "minus"
)

// Condition is a read-only predicate. During a query it narrows the candidate
// scope; during a save it must hold for the entity in context before any
// action runs. The set of concrete condition types is closed: the evaluator
// matches exhaustively and rejects anything else as an invalid condition.
type Condition interface {
	condition()
}

// PropertyEqual requires an exact property value match.
type PropertyEqual struct {
	Name  string
	Value any
	Op    BinaryOp
}

// PropertyMinMax requires the property value to fall inside a closed range,
// both ends inclusive.
type PropertyMinMax struct {
	Name string
	Min  any
	Max  any
	Op   BinaryOp
}

// PropertyStartsWith requires a string-typed property with the given prefix.
// A non-string value fails the condition outright.
type PropertyStartsWith struct {
	Name   string
	Prefix string
	Op     BinaryOp
}

// PropertyContains requires a string-typed property containing the substring.
type PropertyContains struct {
	Name      string
	Substring string
	Op        BinaryOp
}

// PropertyNearby matches entities whose geo point property lies within
// Distance of the query point. With UseGeoHash set the match is a geohash
// prefix filter at a precision derived from Distance; otherwise every
// candidate is measured with exact ellipsoidal distance, which forces a full
// scan of all entities carrying the property.
type PropertyNearby struct {
	Name       string
	Lon        float64
	Lat        float64
	Distance   float64
	UseGeoHash bool
	Op         BinaryOp
}

// BlobExists requires the named blob to be present.
type BlobExists struct {
	Name string
	Op   BinaryOp
}

// LinkCondition requires the entity in context to carry the named link. With
// IsSet the link must point at exactly the named other entity and nothing
// else.
type LinkCondition struct {
	Name  string
	Other Ref
	IsSet bool
}

// OppositeLinkCondition requires a reciprocal link pair: the entity holds
// Name, and the other side holds OppositeName back. With IsSet the opposite
// side must hold exactly one link under OppositeName.
type OppositeLinkCondition struct {
	Name         string
	OppositeName string
	Other        Ref
	IsSet        bool
}

// PropertyUnique asserts the value is NOT already present on any entity in
// scope; it fails when an exact-match lookup yields any result.
type PropertyUnique struct {
	Name  string
	Value any
}

// LocalTimeRangeCondition requires a local-time property to fall inside the
// closed [Lower, Upper] range.
type LocalTimeRangeCondition struct {
	Name  string
	Lower LocalTime
	Upper LocalTime
}

// CustomCondition is the open extension point. Check runs in precondition
// mode against the live entity; Narrow runs in query mode and transforms the
// candidate ID set. A custom condition missing the function for the active
// mode is an invalid condition.
type CustomCondition struct {
	Name   string
	Check  func(e EntityHandle) error
	Narrow func(ids []ID) []ID
}

func (PropertyEqual) condition()           {}
func (PropertyMinMax) condition()          {}
func (PropertyStartsWith) condition()      {}
func (PropertyContains) condition()        {}
func (PropertyNearby) condition()          {}
func (BlobExists) condition()              {}
func (LinkCondition) condition()           {}
func (OppositeLinkCondition) condition()   {}
func (PropertyUnique) condition()          {}
func (LocalTimeRangeCondition) condition() {}
func (CustomCondition) condition()         {}

// ScopeOp returns the binary operator for narrowing conditions, defaulting to
// intersect.
func ScopeOp(c Condition) BinaryOp {
	var op BinaryOp
	switch t := c.(type) {
	case PropertyEqual:
		op = t.Op
	case PropertyMinMax:
		op = t.Op
	case PropertyStartsWith:
		op = t.Op
	case PropertyContains:
		op = t.Op
	case PropertyNearby:
		op = t.Op
	case BlobExists:
		op = t.Op
	}
	if op == "" {
		op = OpIntersect
	}
	return op
}
