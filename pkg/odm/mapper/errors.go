package mapper

import "errors"

var (
	// ErrMaxDepthExceeded is returned when nested documents are deeper than MaxDepth,
	// which usually means the entity graph contains a cycle
	ErrMaxDepthExceeded = errors.New("maximum nesting depth exceeded")

	// ErrNotEntity is returned when a value that is not a struct (or pointer to one) is mapped
	ErrNotEntity = errors.New("value is not an entity")

	// ErrShadowType is returned when a reference's shadow field cannot hold the referenced identities
	ErrShadowType = errors.New("shadow field cannot hold reference identities")

	// ErrIdentityNotGenerated is returned when a new entity has no identity and
	// its identity type is not one the engine can assign
	ErrIdentityNotGenerated = errors.New("identity must be supplied for this identity type")
)
