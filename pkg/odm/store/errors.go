package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedOperator is returned when a filter or update uses an operator the engine cannot evaluate
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrInvalidFilter is returned when a filter is structurally malformed
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrInvalidUpdate is returned when an update document is malformed
	ErrInvalidUpdate = errors.New("invalid update")

	// ErrClosed is returned when a closed database or cursor is used
	ErrClosed = errors.New("store is closed")
)

// DuplicateKeyError is raised by engines without a native error of their own when a
// write would violate a unique index.
type DuplicateKeyError struct {
	Collection string
	Index      string
	Key        Document
}

// Error implements the error interface
func (e *DuplicateKeyError) Error() string {
	parts := make([]string, 0, len(e.Key))
	for k, v := range e.Key {
		parts = append(parts, fmt.Sprintf("%s: %v", k, v))
	}
	return fmt.Sprintf("E11000 duplicate key error collection: %s index: %s dup key: { %s }",
		e.Collection, e.Index, strings.Join(parts, ", "))
}

// IsDuplicateKey reports whether err is a DuplicateKeyError raised by a shared-helper engine.
func IsDuplicateKey(err error) bool {
	var dup *DuplicateKeyError
	return errors.As(err, &dup)
}
