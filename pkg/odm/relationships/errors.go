package relationships

import "errors"

var (
	// ErrUnknownReference is returned when an entity type declares no reference with the given name
	ErrUnknownReference = errors.New("unknown reference")

	// ErrIncompatibleSource is returned when a reference targets a type the source does not load
	ErrIncompatibleSource = errors.New("reference target does not match source type")

	// ErrInvalidEntity is returned when populate is given something other than a pointer to a struct
	ErrInvalidEntity = errors.New("populate requires a non-nil pointer to a struct")

	// ErrInvalidEntities is returned when populateMany is given something other than a slice of entities
	ErrInvalidEntities = errors.New("populate many requires a slice of entity pointers")
)
