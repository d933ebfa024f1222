package repository

import "errors"

var (
	// ErrNilEntity is returned when a nil entity is passed to a write operation
	ErrNilEntity = errors.New("entity is nil")

	// ErrIdentityUnset is returned when an operation keyed by identity is given an entity without one
	ErrIdentityUnset = errors.New("entity identity is not set")
)
