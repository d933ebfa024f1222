package mapper

import (
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/conduit-lang/docmap/pkg/odm/coerce"
	"github.com/conduit-lang/docmap/pkg/odm/schema"
)

// IdentityOf returns the identity field value of entity. set is false when the
// entity is nil or its identity holds the zero value of its type.
func (m *Mapper) IdentityOf(entity any) (id any, set bool, err error) {
	rv, ok := entityValue(entity)
	if !ok {
		return nil, false, nil
	}
	fv, err := m.identityValue(rv)
	if err != nil {
		return nil, false, err
	}
	return fv.Interface(), !fv.IsZero(), nil
}

// SetIdentity stores id, as returned by a storage engine, in the identity field
// of entity. entity must be a non-nil pointer.
func (m *Mapper) SetIdentity(entity any, id any) error {
	rv := reflect.ValueOf(entity)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: identity can only be set through a non-nil pointer, got %T", ErrNotEntity, entity)
	}
	ev := indirectValue(rv)
	if ev.Kind() != reflect.Struct {
		return fmt.Errorf("%w: %T", ErrNotEntity, entity)
	}
	f, ok := m.reg.IDField(ev.Type())
	if !ok {
		return fmt.Errorf("%w: %s", schema.ErrMissingIdentity, ev.Type())
	}
	return m.hydrateValue(ev.FieldByIndex(f.Index), id, 0)
}

// StoredIdentity converts id to the value stored under store.IDKey for entities
// of type target, e.g. a hex string to an ObjectID when the identity field is one.
func (m *Mapper) StoredIdentity(target reflect.Type, id any) (any, error) {
	target = schema.Indirect(target)
	f, ok := m.reg.IDField(target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrMissingIdentity, target)
	}
	v := reflect.New(f.Type).Elem()
	if err := m.hydrateValue(v, id, 0); err != nil {
		return nil, err
	}
	return m.plain(v, 0)
}

// NewIdentity returns the identity to store for a new entity of type target
// whose identity is unset. It is nil for ObjectID and interface identities,
// which the engine assigns, and the hex form of a fresh ObjectID for string
// identities. Other identity types must be supplied by the caller.
func (m *Mapper) NewIdentity(target reflect.Type) (any, error) {
	target = schema.Indirect(target)
	f, ok := m.reg.IDField(target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrMissingIdentity, target)
	}
	switch t := schema.Indirect(f.Type); {
	case t == coerce.ObjectIDType, t.Kind() == reflect.Interface:
		return nil, nil
	case t.Kind() == reflect.String:
		return primitive.NewObjectID().Hex(), nil
	}
	return nil, fmt.Errorf("%w: %s.%s is %s", ErrIdentityNotGenerated, target.Name(), f.Name, f.Type)
}
