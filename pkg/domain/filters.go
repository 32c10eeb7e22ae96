package domain

// FilterOp enumerates the narrowing operators of the deprecated filter list.
// Filters predate conditions and remain supported for existing callers.
type FilterOp string

// Filter operators. InRange and Contains are reserved: requests carrying them
// fail with ErrNotImplemented rather than being silently skipped.
const (
	FilterEqual         FilterOp = "EQUAL"
	FilterNotEqual      FilterOp = "NOT_EQUAL"
	FilterStartsWith    FilterOp = "STARTS_WITH"
	FilterNotStartsWith FilterOp = "NOT_STARTS_WITH"
	FilterInRange       FilterOp = "IN_RANGE"
	FilterContains      FilterOp = "CONTAINS"
)

// Filter narrows the candidate scope by one property predicate. Filters apply
// sequentially in list order; each narrows what the previous one produced.
type Filter struct {
	Op    FilterOp `json:"op"`
	Name  string   `json:"name"`
	Value any      `json:"value"`
}
