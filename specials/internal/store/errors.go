package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by single-row lookups with no match.
var ErrNotFound = errors.New("store: not found")

// PersistenceError wraps a storage write failure with the operation that
// failed. The caller aborts the current batch; the next scheduled run
// re-derives the state.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsPersistence reports whether err is (or wraps) a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
