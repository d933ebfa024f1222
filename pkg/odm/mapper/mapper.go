// Package mapper converts entities to stored documents (dehydration) and back
// (hydration) following the roles registered in a schema.Registry.
package mapper

import (
	"fmt"
	"reflect"

	"github.com/conduit-lang/docmap/pkg/odm/coerce"
	"github.com/conduit-lang/docmap/pkg/odm/schema"
	"github.com/conduit-lang/docmap/pkg/odm/store"
)

// MaxDepth bounds how deep nested documents are followed in either direction.
const MaxDepth = 32

// Defaulter is implemented by entities that initialise fields before a stored
// document is applied to them. Keys missing from the document keep those values.
type Defaulter interface {
	SetDefaults()
}

// Mapper performs dehydration and hydration against one registry
type Mapper struct {
	reg *schema.Registry
}

// New creates a Mapper. A nil registry means schema.Default.
func New(reg *schema.Registry) *Mapper {
	if reg == nil {
		reg = schema.Default
	}
	return &Mapper{reg: reg}
}

// Registry returns the registry the mapper reads from
func (m *Mapper) Registry() *schema.Registry {
	return m.reg
}

// Dehydrate converts entity into a storage document.
//
// Before copying, the shadow field of every populated reference is set to the
// identity of the referenced entity (or entities). This write happens on entity
// itself when it is addressable, so callers see the shadow values afterwards;
// use DehydratePure to leave the entity untouched.
//
// An identity holding the zero value of its type is left out of the document.
// When idKey names the identity field and differs from store.IDKey, its value is
// stored under store.IDKey instead. A nil entity yields a nil document.
func (m *Mapper) Dehydrate(entity any, idKey string) (store.Document, error) {
	return m.dehydrate(entity, idKey, false)
}

// DehydratePure returns the same document as Dehydrate without mutating entity
func (m *Mapper) DehydratePure(entity any, idKey string) (store.Document, error) {
	return m.dehydrate(entity, idKey, true)
}

func (m *Mapper) dehydrate(entity any, idKey string, pure bool) (store.Document, error) {
	rv, ok := entityValue(entity)
	if !ok {
		return nil, nil
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %T", ErrNotEntity, entity)
	}

	doc, err := m.dehydrateStruct(rv, 0, pure)
	if err != nil {
		return nil, err
	}
	if f, ok := m.reg.IDField(rv.Type()); ok && rv.FieldByIndex(f.Index).IsZero() {
		delete(doc, f.Key)
	}
	if idKey != "" && idKey != store.IDKey {
		if v, ok := doc[idKey]; ok {
			doc[store.IDKey] = v
			delete(doc, idKey)
		}
	}
	return doc, nil
}

func (m *Mapper) dehydrateStruct(rv reflect.Value, depth int, pure bool) (store.Document, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("%w: %s", ErrMaxDepthExceeded, rv.Type())
	}
	s := m.reg.Schema(rv.Type())

	shadows := make(map[string]reflect.Value, len(s.Refs))
	for _, ref := range s.Refs {
		shadow, ok, err := m.shadowOf(rv, ref)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		shadows[ref.Shadow] = shadow
		if !pure {
			if dst := rv.FieldByName(ref.Shadow); dst.CanSet() {
				dst.Set(shadow)
			}
		}
	}

	doc := make(store.Document, len(s.Fields))
	for _, f := range s.Fields {
		if f.Skip || s.Ignored[f.Name] {
			continue
		}
		if _, isRef := s.Refs[f.Name]; isRef {
			continue
		}

		fv, ok := shadows[f.Name]
		if !ok {
			fv = rv.FieldByIndex(f.Index)
		}

		var (
			value any
			err   error
		)
		if n, nested := s.Nested[f.Name]; nested {
			value, err = m.dehydrateNested(fv, n, depth, pure)
		} else {
			value, err = m.plain(fv, depth+1)
		}
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", rv.Type().Name(), f.Name, err)
		}
		if value != nil {
			doc[f.Key] = value
		}
	}
	return doc, nil
}

// shadowOf computes the shadow value for ref. ok is false when the logical
// reference field is unset.
func (m *Mapper) shadowOf(rv reflect.Value, ref schema.Ref) (reflect.Value, bool, error) {
	logical := rv.FieldByName(ref.Name)
	if isAbsent(logical) {
		return reflect.Value{}, false, nil
	}
	dst := rv.FieldByName(ref.Shadow)
	if !dst.IsValid() {
		return reflect.Value{}, false, fmt.Errorf("%w: %s.%s", schema.ErrMissingShadowField, rv.Type().Name(), ref.Shadow)
	}

	if !ref.Array {
		id, err := m.identityValue(logical)
		if err != nil {
			return reflect.Value{}, false, err
		}
		out := reflect.New(dst.Type()).Elem()
		if err := m.assignIdentity(out, id); err != nil {
			return reflect.Value{}, false, err
		}
		return out, true, nil
	}

	lv := reflect.Indirect(logical)
	st := dst.Type()
	if st.Kind() != reflect.Slice {
		return reflect.Value{}, false, fmt.Errorf("%w: %s.%s is %s", ErrShadowType, rv.Type().Name(), ref.Shadow, st)
	}
	out := reflect.MakeSlice(st, lv.Len(), lv.Len())
	for i := 0; i < lv.Len(); i++ {
		elem := lv.Index(i)
		if isAbsent(elem) {
			continue
		}
		id, err := m.identityValue(elem)
		if err != nil {
			return reflect.Value{}, false, err
		}
		if err := m.assignIdentity(out.Index(i), id); err != nil {
			return reflect.Value{}, false, err
		}
	}
	return out, true, nil
}

func (m *Mapper) identityValue(entity reflect.Value) (reflect.Value, error) {
	ev := indirectValue(entity)
	if ev.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%w: %s", ErrNotEntity, entity.Type())
	}
	f, ok := m.reg.IDField(ev.Type())
	if !ok {
		return reflect.Value{}, fmt.Errorf("%w: %s", schema.ErrMissingIdentity, ev.Type())
	}
	return ev.FieldByIndex(f.Index), nil
}

func (m *Mapper) assignIdentity(dst, id reflect.Value) error {
	if id.Type().AssignableTo(dst.Type()) {
		dst.Set(id)
		return nil
	}
	stored, err := m.plain(id, 0)
	if err != nil {
		return err
	}
	return m.hydrateValue(dst, stored, 0)
}

func (m *Mapper) dehydrateNested(fv reflect.Value, n schema.Nested, depth int, pure bool) (any, error) {
	if isAbsent(fv) {
		return nil, nil
	}
	if !n.Array {
		return m.dehydrateElem(fv, depth, pure)
	}

	lv := indirectValue(fv)
	out := make([]any, lv.Len())
	for i := range out {
		elem := lv.Index(i)
		if isAbsent(elem) {
			continue
		}
		v, err := m.dehydrateElem(elem, depth, pure)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *Mapper) dehydrateElem(v reflect.Value, depth int, pure bool) (any, error) {
	ev := indirectValue(v)
	if ev.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: nested %s", ErrNotEntity, v.Type())
	}
	doc, err := m.dehydrateStruct(ev, depth+1, pure)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// plain converts a value without schema roles. Coercion rules apply, structs
// become documents and slices become []any; nil pointers, slices, maps and
// interfaces are absent.
func (m *Mapper) plain(v reflect.Value, depth int) (any, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("%w: %s", ErrMaxDepthExceeded, v.Type())
	}
	if rule, ok := coerce.Lookup(v.Type()); ok {
		return rule.Dehydrate(v), nil
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return m.plain(v.Elem(), depth)
	case reflect.Struct:
		fields := schema.FieldsOf(v.Type())
		doc := make(store.Document, len(fields))
		for _, f := range fields {
			if f.Skip {
				continue
			}
			fv, err := m.plain(v.FieldByIndex(f.Index), depth+1)
			if err != nil {
				return nil, err
			}
			if fv != nil {
				doc[f.Key] = fv
			}
		}
		return doc, nil
	case reflect.Slice:
		if v.IsNil() {
			return nil, nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return append([]byte(nil), v.Bytes()...), nil
		}
		fallthrough
	case reflect.Array:
		out := make([]any, v.Len())
		for i := range out {
			elem, err := m.plain(v.Index(i), depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = elem
		}
		return out, nil
	case reflect.Map:
		if v.IsNil() {
			return nil, nil
		}
		doc := make(store.Document, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key, err := mapKey(iter.Key())
			if err != nil {
				return nil, err
			}
			val, err := m.plain(iter.Value(), depth+1)
			if err != nil {
				return nil, err
			}
			doc[key] = val
		}
		return doc, nil
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.String:
		return v.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if v.Type().PkgPath() != "" {
			return v.Convert(basicType(v.Kind())).Interface(), nil
		}
		return v.Interface(), nil
	}
	if !v.CanInterface() {
		return nil, nil
	}
	return v.Interface(), nil
}

func mapKey(k reflect.Value) (string, error) {
	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fmt.Sprint(k.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fmt.Sprint(k.Uint()), nil
	}
	if s, ok := k.Interface().(fmt.Stringer); ok {
		return s.String(), nil
	}
	return "", fmt.Errorf("%w: map key %s", coerce.ErrConversion, k.Type())
}

var basicTypes = map[reflect.Kind]reflect.Type{
	reflect.Int:     reflect.TypeOf(int(0)),
	reflect.Int8:    reflect.TypeOf(int8(0)),
	reflect.Int16:   reflect.TypeOf(int16(0)),
	reflect.Int32:   reflect.TypeOf(int32(0)),
	reflect.Int64:   reflect.TypeOf(int64(0)),
	reflect.Uint:    reflect.TypeOf(uint(0)),
	reflect.Uint8:   reflect.TypeOf(uint8(0)),
	reflect.Uint16:  reflect.TypeOf(uint16(0)),
	reflect.Uint32:  reflect.TypeOf(uint32(0)),
	reflect.Uint64:  reflect.TypeOf(uint64(0)),
	reflect.Float32: reflect.TypeOf(float32(0)),
	reflect.Float64: reflect.TypeOf(float64(0)),
}

func basicType(k reflect.Kind) reflect.Type {
	return basicTypes[k]
}

func entityValue(entity any) (reflect.Value, bool) {
	if entity == nil {
		return reflect.Value{}, false
	}
	rv := reflect.ValueOf(entity)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}, false
		}
		rv = rv.Elem()
	}
	return rv, true
}

func indirectValue(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return v
		}
		v = v.Elem()
	}
	return v
}

// isAbsent reports whether v holds no value: a nil pointer, slice, map or
// interface, or a zero value of a type with a coercion rule that treats zero as absent.
func isAbsent(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map:
		return v.IsNil()
	}
	if rule, ok := coerce.Lookup(v.Type()); ok {
		return rule.Dehydrate(v) == nil
	}
	return false
}
