package mapper

import (
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/conduit-lang/docmap/pkg/odm/coerce"
	"github.com/conduit-lang/docmap/pkg/odm/schema"
	"github.com/conduit-lang/docmap/pkg/odm/store"
)

// Hydrate builds a new *target from doc. A nil document yields nil.
//
// When idKey names the identity field and differs from store.IDKey, the value
// stored under store.IDKey is applied to that field. References are never
// resolved; only their shadow fields are filled.
func (m *Mapper) Hydrate(doc store.Document, target reflect.Type, idKey string) (any, error) {
	ptr, err := m.hydrate(doc, target, idKey)
	if err != nil || !ptr.IsValid() {
		return nil, err
	}
	return ptr.Interface(), nil
}

// HydrateAs is the typed form of Hydrate
func HydrateAs[T any](m *Mapper, doc store.Document, idKey string) (*T, error) {
	ptr, err := m.hydrate(doc, reflect.TypeOf((*T)(nil)).Elem(), idKey)
	if err != nil || !ptr.IsValid() {
		return nil, err
	}
	return ptr.Interface().(*T), nil
}

func (m *Mapper) hydrate(doc store.Document, target reflect.Type, idKey string) (reflect.Value, error) {
	if doc == nil {
		return reflect.Value{}, nil
	}
	target = schema.Indirect(target)
	if target.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%w: %s", ErrNotEntity, target)
	}

	if idKey != "" && idKey != store.IDKey {
		if v, ok := doc[store.IDKey]; ok {
			aliased := make(store.Document, len(doc))
			for k, val := range doc {
				aliased[k] = val
			}
			delete(aliased, store.IDKey)
			aliased[idKey] = v
			doc = aliased
		}
	}
	return m.hydrateEntity(target, doc, 0)
}

func (m *Mapper) hydrateEntity(t reflect.Type, src any, depth int) (reflect.Value, error) {
	if depth > MaxDepth {
		return reflect.Value{}, fmt.Errorf("%w: %s", ErrMaxDepthExceeded, t)
	}
	doc, ok := store.AsMap(src)
	if !ok {
		return reflect.Value{}, fmt.Errorf("%w: %T into %s", coerce.ErrConversion, src, t)
	}

	ptr := reflect.New(t)
	if d, ok := ptr.Interface().(Defaulter); ok {
		d.SetDefaults()
	}
	rv := ptr.Elem()
	s := m.reg.Schema(t)

	for _, f := range s.Fields {
		if f.Skip || s.Ignored[f.Name] {
			continue
		}
		if _, isRef := s.Refs[f.Name]; isRef {
			continue
		}
		raw, ok := doc[f.Key]
		if !ok {
			continue
		}

		dst := rv.FieldByIndex(f.Index)
		var err error
		if n, nested := s.Nested[f.Name]; nested {
			err = m.hydrateNested(dst, raw, n, depth)
		} else {
			err = m.hydrateValue(dst, raw, depth+1)
		}
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%s.%s: %w", t.Name(), f.Name, err)
		}
	}
	return ptr, nil
}

func (m *Mapper) hydrateNested(dst reflect.Value, raw any, n schema.Nested, depth int) error {
	if raw == nil {
		dst.SetZero()
		return nil
	}
	elemType := schema.Indirect(n.ElemType())

	if !n.Array {
		ptr, err := m.hydrateEntity(elemType, raw, depth+1)
		if err != nil {
			return err
		}
		return assignEntity(dst, ptr)
	}

	items, ok := store.AsSlice(raw)
	if !ok {
		return fmt.Errorf("%w: %T into %s", coerce.ErrConversion, raw, dst.Type())
	}
	container := dst
	if dst.Kind() == reflect.Pointer {
		container = reflect.New(dst.Type().Elem()).Elem()
	}

	var out reflect.Value
	switch container.Kind() {
	case reflect.Slice:
		out = reflect.MakeSlice(container.Type(), len(items), len(items))
	case reflect.Array:
		out = reflect.New(container.Type()).Elem()
		if len(items) > out.Len() {
			return fmt.Errorf("%w: %d elements into %s", coerce.ErrConversion, len(items), container.Type())
		}
	default:
		return fmt.Errorf("%w: %T into %s", coerce.ErrConversion, raw, dst.Type())
	}

	for i, item := range items {
		if item == nil {
			continue
		}
		ptr, err := m.hydrateEntity(elemType, item, depth+1)
		if err != nil {
			return fmt.Errorf("[%d]: %w", i, err)
		}
		if err := assignEntity(out.Index(i), ptr); err != nil {
			return err
		}
	}

	if dst.Kind() == reflect.Pointer {
		p := reflect.New(out.Type())
		p.Elem().Set(out)
		dst.Set(p)
		return nil
	}
	dst.Set(out)
	return nil
}

// assignEntity stores the freshly built *E into slot, which may be *E, E or an interface.
func assignEntity(slot, ptr reflect.Value) error {
	switch {
	case ptr.Type().AssignableTo(slot.Type()):
		slot.Set(ptr)
	case ptr.Elem().Type().AssignableTo(slot.Type()):
		slot.Set(ptr.Elem())
	default:
		return fmt.Errorf("%w: %s into %s", coerce.ErrConversion, ptr.Type(), slot.Type())
	}
	return nil
}

// hydrateValue converts a stored value into dst without schema roles
func (m *Mapper) hydrateValue(dst reflect.Value, src any, depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("%w: %s", ErrMaxDepthExceeded, dst.Type())
	}
	if src == nil {
		dst.SetZero()
		return nil
	}
	if handled, err := coerce.ApplyRule(dst, src); handled {
		return err
	}

	switch dst.Kind() {
	case reflect.Pointer:
		elem := reflect.New(dst.Type().Elem())
		if err := m.hydrateValue(elem.Elem(), src, depth); err != nil {
			return err
		}
		dst.Set(elem)
		return nil

	case reflect.Struct:
		doc, ok := store.AsMap(src)
		if !ok {
			return mismatch(dst, src)
		}
		for _, f := range schema.FieldsOf(dst.Type()) {
			if f.Skip {
				continue
			}
			raw, ok := doc[f.Key]
			if !ok {
				continue
			}
			if err := m.hydrateValue(dst.FieldByIndex(f.Index), raw, depth+1); err != nil {
				return fmt.Errorf("%s.%s: %w", dst.Type().Name(), f.Name, err)
			}
		}
		return nil

	case reflect.Slice:
		if dst.Type().Elem().Kind() == reflect.Uint8 {
			switch b := src.(type) {
			case []byte:
				dst.SetBytes(append([]byte(nil), b...))
				return nil
			case primitive.Binary:
				dst.SetBytes(append([]byte(nil), b.Data...))
				return nil
			}
		}
		items, ok := store.AsSlice(src)
		if !ok {
			return mismatch(dst, src)
		}
		out := reflect.MakeSlice(dst.Type(), len(items), len(items))
		for i, item := range items {
			if err := m.hydrateValue(out.Index(i), item, depth+1); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		dst.Set(out)
		return nil

	case reflect.Array:
		items, ok := store.AsSlice(src)
		if !ok || len(items) > dst.Len() {
			return mismatch(dst, src)
		}
		for i, item := range items {
			if err := m.hydrateValue(dst.Index(i), item, depth+1); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		return nil

	case reflect.Map:
		doc, ok := store.AsMap(src)
		if !ok {
			return mismatch(dst, src)
		}
		out := reflect.MakeMapWithSize(dst.Type(), len(doc))
		for k, raw := range doc {
			key := reflect.New(dst.Type().Key()).Elem()
			if err := coerce.AssignScalar(key, k); err != nil {
				return err
			}
			val := reflect.New(dst.Type().Elem()).Elem()
			if err := m.hydrateValue(val, raw, depth+1); err != nil {
				return fmt.Errorf("[%s]: %w", k, err)
			}
			out.SetMapIndex(key, val)
		}
		dst.Set(out)
		return nil

	case reflect.Interface:
		if dst.NumMethod() == 0 {
			dst.Set(reflect.ValueOf(normalize(src)))
			return nil
		}
	}
	return coerce.AssignScalar(dst, src)
}

// normalize rewrites driver container types into Document and []any
func normalize(v any) any {
	if doc, ok := store.AsMap(v); ok {
		return store.Clone(store.Document(doc))
	}
	if items, ok := store.AsSlice(v); ok {
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = normalize(item)
		}
		return out
	}
	return v
}

func mismatch(dst reflect.Value, src any) error {
	return fmt.Errorf("%w: %T into %s", coerce.ErrConversion, src, dst.Type())
}
