package store

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means the store could not be initialized; callers run degraded.
	ErrUnavailable = errors.New("store unavailable")
	// ErrWrite matches every WriteError.
	ErrWrite    = errors.New("store write failed")
	ErrNotFound = errors.New("record not found")
)

// WriteError reports a create, delete or upsert rejected by the store.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Is(target error) bool { return target == ErrWrite }

// NewWriteError wraps err unless it already is a WriteError.
func NewWriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	var we *WriteError
	if errors.As(err, &we) {
		return err
	}
	return &WriteError{Op: op, Err: err}
}
