package schema

import "errors"

// Configuration errors. They are raised while a type's schema is being declared
// and indicate a programming mistake.
var (
	// ErrMissingIdentity is returned when an entity type has no identity field
	ErrMissingIdentity = errors.New("entity has no identity field")

	// ErrUnknownField is returned when a declaration names a field the struct does not have
	ErrUnknownField = errors.New("unknown field")

	// ErrPrimitiveRole is returned when a nested or reference role is declared on a primitive or identity-typed field
	ErrPrimitiveRole = errors.New("primitive field cannot be nested or referenced")

	// ErrInvalidObjectID is returned when the objectid role is declared on a field that is not an ObjectID or []ObjectID
	ErrInvalidObjectID = errors.New("objectid role requires an ObjectID or []ObjectID field")

	// ErrValueReference is returned when a reference is declared on a struct value field, which cannot be left unset
	ErrValueReference = errors.New("reference field must be a pointer or a slice")

	// ErrMissingShadowField is returned when a reference has no shadow identity field on the struct
	ErrMissingShadowField = errors.New("reference shadow field not found")

	// ErrNestedTypeUnresolved is returned when a nested field's element type cannot be determined
	ErrNestedTypeUnresolved = errors.New("nested field type cannot be resolved")

	// ErrIndexWithoutField is returned when an index is declared without a field
	ErrIndexWithoutField = errors.New("index declared without a field")

	// ErrNotStruct is returned when a schema is declared for a non-struct type
	ErrNotStruct = errors.New("entity type must be a struct")

	// ErrInvalidTag is returned when an odm struct tag cannot be parsed
	ErrInvalidTag = errors.New("invalid odm tag")
)
