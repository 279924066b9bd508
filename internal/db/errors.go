package db

import (
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidPosition = errors.New("task position out of range")
)

// StorageError reports that the backing store could not complete an operation.
// The operation must be treated as not having happened.
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

// wrapErr maps a raw queue error to the package taxonomy.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserNotFound
	}
	if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrInvalidPosition) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// isPermanent reports errors that retrying cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrInvalidPosition)
}
