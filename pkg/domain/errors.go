package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for invalid request shapes. These fail the single request
// and are never retried.
var (
	// ErrInvalidRequest marks a request missing a required identifying field.
	ErrInvalidRequest = errors.New("entitycore: invalid request")
	// ErrInvalidCondition marks a condition kind the evaluator does not know,
	// or one used in the wrong evaluation mode.
	ErrInvalidCondition = errors.New("entitycore: invalid condition")
	// ErrInvalidAction marks an action kind the processor does not know.
	ErrInvalidAction = errors.New("entitycore: invalid action")
	// ErrNotImplemented marks a reserved filter operator.
	ErrNotImplemented = errors.New("entitycore: not implemented")
)

// UnsatisfiedConditionError reports a precondition that did not hold. It is a
// user-triggerable outcome, distinguishable from invalid-request errors, and
// carries the offending condition.
type UnsatisfiedConditionError struct {
	Condition Condition
	Reason    string
}

func (e *UnsatisfiedConditionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unsatisfied condition %T: %s", e.Condition, e.Reason)
	}
	return fmt.Sprintf("unsatisfied condition %T", e.Condition)
}

// Unsatisfied wraps a condition failure.
func Unsatisfied(c Condition, format string, args ...any) error {
	return &UnsatisfiedConditionError{Condition: c, Reason: fmt.Sprintf(format, args...)}
}

// UniqueConstraintError reports a property-index action that found the value
// already present on another entity of the type.
type UniqueConstraintError struct {
	Property string
	Value    any
}

func (e *UniqueConstraintError) Error() string {
	return fmt.Sprintf("property %q value %v already indexed", e.Property, e.Value)
}

// ErrNotFound is returned when an entity reference cannot be resolved.
type ErrNotFound struct {
	Type string
	ID   ID
}

func (e ErrNotFound) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("entity %s %s not found", e.Type, e.ID)
	}
	return fmt.Sprintf("entity type %s not found", e.Type)
}
