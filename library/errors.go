package library

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("invalid input")

	// ErrNotFound is returned when a referenced book or member does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyBorrowed is returned when borrowing a book that is on loan.
	ErrAlreadyBorrowed = errors.New("book is already borrowed")

	// ErrNotBorrowed is returned when returning a book that has no open borrow record.
	ErrNotBorrowed = errors.New("book is not borrowed")

	// ErrStorage wraps failures of the underlying database.
	ErrStorage = errors.New("storage failure")

	// ErrClosed is returned by storage calls made after Close.
	ErrClosed = fmt.Errorf("%w: database is closed", ErrStorage)

	// ErrSinkWrite is returned when a snapshot cannot be written to its destination.
	ErrSinkWrite = errors.New("snapshot write failed")

	// ErrAutoSaverStarted is returned by Start on an autosaver that already left the idle state.
	ErrAutoSaverStarted = errors.New("autosaver already started or stopped")
)

// ValidationError names the input field that was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func notFound(kind string, id int64) error {
	return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
