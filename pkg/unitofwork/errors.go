package unitofwork

import (
	"fmt"

	"github.com/surrealdb/surrealodm/pkg/constants"
)

// UnresolvedReferenceError is returned by Flush when a reference cannot be
// written because its target has no id: the target is neither managed nor
// reachable through a persist cascade, or store-assigned ids form a cycle.
type UnresolvedReferenceError struct {
	Table  string
	Field  string
	Target string
	Reason string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("%s: %s.%s -> %s: %s", constants.ErrUnresolvedReference, e.Table, e.Field, e.Target, e.Reason)
}

func (e *UnresolvedReferenceError) Unwrap() error {
	return constants.ErrUnresolvedReference
}
