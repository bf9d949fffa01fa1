// ABOUTME: Error taxonomy for the conversation store
// ABOUTME: Sentinel kinds matchable with errors.Is, plus contextual wrapping helpers

package store

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Callers match these with errors.Is; the concrete error carries
// operation and entity context on top of the kind.
var (
	// ErrConnectionFailed indicates a connection could not be opened or
	// initialized, including a rejected encryption key.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrPoolExhausted indicates no connection became available within the
	// configured wait bound.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrValidation indicates caller-supplied data was rejected before any
	// statement executed.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates a lookup by id matched nothing. List operations
	// never return it; they return empty collections.
	ErrNotFound = errors.New("not found")

	// ErrConstraint indicates a storage-level integrity rule was broken,
	// e.g. a message referencing a nonexistent conversation.
	ErrConstraint = errors.New("constraint violation")

	// ErrIO indicates a file-system level failure, e.g. an invalid backup
	// destination or a full disk.
	ErrIO = errors.New("io failure")
)

// wrapErr attaches an operation description to an error kind, preserving the
// underlying cause for internal logs while keeping the kind matchable.
func wrapErr(kind error, op string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", op, kind)
	}
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}

// validationErr builds an ErrValidation with a human-readable reason.
func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// isConstraintViolation reports whether err is a SQLite integrity failure
// (UNIQUE, CHECK, FOREIGN KEY, NOT NULL).
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}
