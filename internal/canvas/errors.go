package canvas

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownNode     = errors.New("unknown node")
	ErrUnknownField    = errors.New("unknown field")
	ErrNoTarget        = errors.New("canvas has no target node")
	ErrTargetNode      = errors.New("operation not allowed on the target node")
	ErrNotSource       = errors.New("field does not belong to a source node")
	ErrNotTarget       = errors.New("field does not belong to the target node")
	ErrAlreadyMapped   = errors.New("target field already mapped")
	ErrAlreadyPlaced   = errors.New("table already placed on the canvas")
	ErrDeleteCancelled = errors.New("delete cancelled")
	ErrInvalidOrder    = errors.New("order is not a permutation of the current items")
	ErrMergeRule       = errors.New("merge rule not allowed for this table kind")
	ErrNotMapped       = errors.New("target field has no sources")
	ErrNoLoader        = errors.New("no table loader configured")
	ErrNoPersister     = errors.New("no persister configured")
)

// DuplicateFieldsError rejects a quote of source fields that are already used
// by the target table.
type DuplicateFieldsError struct {
	Names []string
}

func (e *DuplicateFieldsError) Error() string {
	return fmt.Sprintf("fields already quoted: %s", strings.Join(e.Names, ", "))
}

// LoadError wraps a failure to fetch a table from the loader. The node is not
// created.
type LoadError struct {
	TableID string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load table %s: %v", e.TableID, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
