package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a lookup does not create and nothing matches
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed input, before anything is written
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoProgress is returned when compaction revisits a bucket it already rewrote
	ErrNoProgress = errors.New("compaction made no progress")
)

// StorageError wraps a failure of the underlying engine (connection, constraint, I/O).
// The transaction that hit it has been rolled back.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Wrap returns nil for a nil err, the err unchanged when it already carries the
// taxonomy, and a *StorageError otherwise.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorage reports whether err is (or wraps) a *StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
