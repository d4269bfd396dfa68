package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrNoTransaction = errors.New("write requires an active transaction")
	ErrConflict      = errors.New("already exists")
)

// Error reports a failed persistence operation.
type Error struct {
	Op     string
	Entity string
	ID     any
	Err    error
}

func (e *Error) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("store: %s %s %v: %v", e.Op, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
