package workflow

import (
	"errors"
	"fmt"
)

// SelectionMismatchError marks a variant selection whose record reference
// does not match the claimed molecule or property. Selections are validated
// at write time; a mismatch never reaches the store.
type SelectionMismatchError struct {
	RecordID string
	Reason   string
}

func (e *SelectionMismatchError) Error() string {
	return fmt.Sprintf("INVALID_SELECTION: record %s: %s", e.RecordID, e.Reason)
}

func IsSelectionMismatch(err error) bool {
	var e *SelectionMismatchError
	return errors.As(err, &e)
}
