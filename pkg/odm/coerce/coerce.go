// Package coerce holds the per-type conversion rules applied when values cross
// between entity fields and stored documents.
package coerce

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Rule converts one Go type to and from its stored representation.
type Rule struct {
	// Dehydrate returns the stored representation of v, or nil when v counts as absent.
	Dehydrate func(v reflect.Value) any

	// Hydrate converts a stored value into a value of the rule's type.
	Hydrate func(src any) (any, error)
}

var (
	rulesMu sync.RWMutex
	rules   = map[reflect.Type]Rule{}
)

var (
	// ObjectIDType is the engine-native identity value type.
	ObjectIDType = reflect.TypeOf(primitive.ObjectID{})
	timeType     = reflect.TypeOf(time.Time{})
	uuidType     = reflect.TypeOf(uuid.UUID{})
)

func init() {
	Register(ObjectIDType, Rule{Dehydrate: dehydrateObjectID, Hydrate: hydrateObjectID})
	Register(timeType, Rule{Dehydrate: dehydrateTime, Hydrate: hydrateTime})
	Register(uuidType, Rule{Dehydrate: dehydrateUUID, Hydrate: hydrateUUID})
}

// Register installs or replaces the rule for t.
func Register(t reflect.Type, rule Rule) {
	rulesMu.Lock()
	defer rulesMu.Unlock()
	rules[t] = rule
}

// Lookup returns the rule registered for t.
func Lookup(t reflect.Type) (Rule, bool) {
	rulesMu.RLock()
	defer rulesMu.RUnlock()
	r, ok := rules[t]
	return r, ok
}

// IsPrimitive reports whether t (after dereferencing pointers) is a scalar or a
// type with a coercion rule. Such fields cannot be nested documents or references.
func IsPrimitive(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if _, ok := Lookup(t); ok {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// IsObjectID reports whether t is ObjectID, *ObjectID or a slice of either.
func IsObjectID(t reflect.Type) bool {
	if t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t == ObjectIDType
}

func dehydrateObjectID(v reflect.Value) any {
	id := v.Interface().(primitive.ObjectID)
	if id.IsZero() {
		return nil
	}
	return id
}

func hydrateObjectID(src any) (any, error) {
	switch v := src.(type) {
	case primitive.ObjectID:
		return v, nil
	case *primitive.ObjectID:
		if v == nil {
			return primitive.NilObjectID, nil
		}
		return *v, nil
	case string:
		id, err := primitive.ObjectIDFromHex(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an ObjectID: %v", ErrConversion, v, err)
		}
		return id, nil
	case [12]byte:
		return primitive.ObjectID(v), nil
	case []byte:
		if len(v) != 12 {
			return nil, fmt.Errorf("%w: %d bytes is not an ObjectID", ErrConversion, len(v))
		}
		var id primitive.ObjectID
		copy(id[:], v)
		return id, nil
	}
	return nil, fmt.Errorf("%w: cannot convert %T to ObjectID", ErrConversion, src)
}

func dehydrateTime(v reflect.Value) any {
	return v.Interface().(time.Time)
}

func hydrateTime(src any) (any, error) {
	switch v := src.(type) {
	case time.Time:
		return v, nil
	case primitive.DateTime:
		return v.Time(), nil
	case primitive.Timestamp:
		return time.Unix(int64(v.T), 0), nil
	case int64:
		return time.UnixMilli(v), nil
	}
	t, err := cast.ToTimeE(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversion, err)
	}
	return t, nil
}

func dehydrateUUID(v reflect.Value) any {
	id := v.Interface().(uuid.UUID)
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}

func hydrateUUID(src any) (any, error) {
	switch v := src.(type) {
	case uuid.UUID:
		return v, nil
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConversion, err)
		}
		return id, nil
	case []byte:
		id, err := uuid.FromBytes(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConversion, err)
		}
		return id, nil
	case primitive.Binary:
		id, err := uuid.FromBytes(v.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConversion, err)
		}
		return id, nil
	}
	return nil, fmt.Errorf("%w: cannot convert %T to UUID", ErrConversion, src)
}
