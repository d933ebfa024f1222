package schema

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/conduit-lang/docmap/pkg/odm/coerce"
	"github.com/conduit-lang/docmap/pkg/odm/store"
)

type definition struct {
	kind  Kind
	value any
}

// Builder collects the declarations of one entity type and writes them to a
// registry in a single Register call. Declaration errors are accumulated and
// returned by Register; nothing is written when any declaration is invalid.
type Builder struct {
	reg  *Registry
	typ  reflect.Type
	defs []definition
	errs []error
}

// For starts a declaration for entity type T
func For[T any](reg *Registry) *Builder {
	return ForType(reg, reflect.TypeOf((*T)(nil)).Elem())
}

// ForType starts a declaration for the struct type t
func ForType(reg *Registry, t reflect.Type) *Builder {
	if reg == nil {
		reg = Default
	}
	b := &Builder{reg: reg, typ: Indirect(t)}
	if b.typ.Kind() != reflect.Struct {
		b.errs = append(b.errs, fmt.Errorf("%w: %s", ErrNotStruct, t))
	}
	return b
}

// TypeOf returns a type function resolving to T, for use with Nested
func TypeOf[T any]() func() reflect.Type {
	return func() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }
}

func (b *Builder) field(name string) (Field, bool) {
	if b.typ.Kind() != reflect.Struct {
		return Field{}, false
	}
	f, ok := findField(FieldsOf(b.typ), name)
	if !ok {
		b.fail(fmt.Errorf("%w: %s.%s", ErrUnknownField, b.typ.Name(), name))
	}
	return f, ok
}

func (b *Builder) fail(err error) {
	b.errs = append(b.errs, err)
}

func (b *Builder) add(kind Kind, value any) {
	b.defs = append(b.defs, definition{kind: kind, value: value})
}

// ID declares the identity field
func (b *Builder) ID(field string) *Builder {
	if f, ok := b.field(field); ok {
		b.add(KindID, f.Name)
	}
	return b
}

// ObjectID declares a field holding an engine-native identity value or a slice of them
func (b *Builder) ObjectID(field string) *Builder {
	f, ok := b.field(field)
	if !ok {
		return b
	}
	if !coerce.IsObjectID(f.Type) {
		b.fail(fmt.Errorf("%w: %s.%s is %s", ErrInvalidObjectID, b.typ.Name(), f.Name, f.Type))
		return b
	}
	b.add(KindObjectID, f.Name)
	return b
}

// Nested declares an embedded sub-document field. typeFn resolves the element
// type and may be nil when the field's static type already names a struct.
func (b *Builder) Nested(field string, typeFn func() reflect.Type) *Builder {
	f, ok := b.field(field)
	if !ok {
		return b
	}
	ft := Indirect(f.Type)
	array := ft.Kind() == reflect.Slice || ft.Kind() == reflect.Array
	elem := ft
	if array {
		elem = Indirect(ft.Elem())
	}
	if coerce.IsPrimitive(elem) {
		b.fail(fmt.Errorf("%w: %s.%s is %s", ErrPrimitiveRole, b.typ.Name(), f.Name, f.Type))
		return b
	}
	if typeFn == nil {
		if elem.Kind() != reflect.Struct {
			b.fail(fmt.Errorf("%w: %s.%s is %s", ErrNestedTypeUnresolved, b.typ.Name(), f.Name, f.Type))
			return b
		}
		typeFn = func() reflect.Type { return elem }
	}
	b.add(KindNested, Nested{Name: f.Name, Key: f.Key, Array: array, TypeFunc: typeFn})
	return b
}

// Ref declares a reference to another entity. The referenced identity is
// persisted in the shadow field, which defaults to the field name suffixed with
// ID (or IDs for slices). The field must be a pointer or a slice so an
// unpopulated reference stays distinguishable from a referenced entity.
func (b *Builder) Ref(field, shadow string) *Builder {
	f, ok := b.field(field)
	if !ok {
		return b
	}
	ft := Indirect(f.Type)
	array := ft.Kind() == reflect.Slice
	target := ft
	if array {
		target = Indirect(ft.Elem())
	}
	if coerce.IsPrimitive(target) {
		b.fail(fmt.Errorf("%w: %s.%s is %s", ErrPrimitiveRole, b.typ.Name(), f.Name, f.Type))
		return b
	}
	if target.Kind() != reflect.Struct {
		b.fail(fmt.Errorf("%w: reference %s.%s targets %s", ErrNotStruct, b.typ.Name(), f.Name, target))
		return b
	}
	if f.Type.Kind() == reflect.Struct {
		b.fail(fmt.Errorf("%w: %s.%s is %s", ErrValueReference, b.typ.Name(), f.Name, f.Type))
		return b
	}

	if shadow == "" {
		shadow = f.Name + "ID"
		if array {
			shadow += "s"
		}
	}
	sf, ok := findField(FieldsOf(b.typ), shadow)
	if !ok {
		b.fail(fmt.Errorf("%w: %s.%s for reference %s", ErrMissingShadowField, b.typ.Name(), shadow, f.Name))
		return b
	}

	b.add(KindRefs, Ref{
		Name:      f.Name,
		Key:       f.Key,
		Shadow:    sf.Name,
		ShadowKey: sf.Key,
		Array:     array,
		Target:    target,
	})
	return b
}

// Ignore declares a memory-only field
func (b *Builder) Ignore(field string) *Builder {
	if f, ok := b.field(field); ok {
		b.add(KindIgnore, f.Name)
	}
	return b
}

// Index declares a single-field index named after the field's key. value is the
// direction or index type and defaults to 1.
func (b *Builder) Index(field string, value any, opts store.IndexOptions) *Builder {
	if field == "" {
		b.fail(fmt.Errorf("%w: %s", ErrIndexWithoutField, b.typ.Name()))
		return b
	}
	f, ok := b.field(field)
	if !ok {
		return b
	}
	if value == nil {
		value = 1
	}
	b.add(KindIndexes, store.IndexSpec{
		Name:    f.Key,
		Keys:    []store.IndexKey{{Field: f.Key, Value: value}},
		Options: opts,
	})
	return b
}

// Indexes declares class-level index specifications, stored as given
func (b *Builder) Indexes(specs ...store.IndexSpec) *Builder {
	for _, s := range specs {
		if len(s.Keys) == 0 {
			b.fail(fmt.Errorf("%w: %s index %q has no keys", ErrIndexWithoutField, b.typ.Name(), s.Name))
			continue
		}
		b.add(KindIndexes, s)
	}
	return b
}

// Register writes the collected declarations to the registry
func (b *Builder) Register() error {
	if len(b.errs) > 0 {
		return errors.Join(b.errs...)
	}
	for _, d := range b.defs {
		if err := b.reg.Define(d.kind, b.typ, d.value); err != nil {
			return err
		}
	}
	if len(b.defs) == 0 {
		b.reg.touch(b.typ)
	}
	return nil
}

// MustRegister is like Register but panics on a declaration error
func (b *Builder) MustRegister() {
	if err := b.Register(); err != nil {
		panic(err)
	}
}
