package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports an unknown transaction id.
	ErrNotFound = errors.New("transaction not found")
	// ErrDuplicateID reports a create with an id already present.
	ErrDuplicateID = errors.New("transaction id already exists")
)

// InvalidStateError reports a transition that is illegal from the current status.
type InvalidStateError struct {
	ID      string
	Current Status
	Target  Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot move transaction %s to %s from status: %s", e.ID, e.Target, e.Current)
}
