// Package relationships resolves declared references after hydration, either
// for one entity or batched across many.
package relationships

import (
	"context"
	"fmt"
	"reflect"

	"github.com/conduit-lang/docmap/pkg/odm/mapper"
	"github.com/conduit-lang/docmap/pkg/odm/schema"
	"github.com/conduit-lang/docmap/pkg/odm/store"
)

// Source loads referenced entities of type T by identity
type Source[T any] interface {
	FindByID(ctx context.Context, id any) (*T, error)
	FindManyByID(ctx context.Context, ids []any) ([]*T, error)
}

// Resolver fills reference fields whose target type is T
type Resolver[T any] struct {
	src    Source[T]
	mapper *mapper.Mapper
	target reflect.Type
}

// NewResolver creates a resolver loading targets from src
func NewResolver[T any](src Source[T], m *mapper.Mapper) *Resolver[T] {
	if m == nil {
		m = mapper.New(nil)
	}
	return &Resolver[T]{
		src:    src,
		mapper: m,
		target: reflect.TypeOf((*T)(nil)).Elem(),
	}
}

func (r *Resolver[T]) reference(owner reflect.Type, refName string) (schema.Ref, error) {
	ref, ok := r.mapper.Registry().Ref(owner, refName)
	if !ok {
		return schema.Ref{}, fmt.Errorf("%w: %s.%s", ErrUnknownReference, owner.Name(), refName)
	}
	if ref.Target != r.target {
		return schema.Ref{}, fmt.Errorf("%w: %s.%s targets %s, source loads %s",
			ErrIncompatibleSource, owner.Name(), ref.Name, ref.Target, r.target)
	}
	return ref, nil
}

// Populate loads the entity (or entities) referenced by refName and assigns
// them to the reference field. An unset shadow field leaves the reference unset
// without a fetch. For array references the result follows the order of the
// shadow identities, leaving out those that no longer exist.
func (r *Resolver[T]) Populate(ctx context.Context, entity any, refName string) error {
	ev, err := structPointer(entity)
	if err != nil {
		return err
	}
	ref, err := r.reference(ev.Type(), refName)
	if err != nil {
		return err
	}

	ids := shadowIDs(ev.FieldByName(ref.Shadow))
	if len(ids) == 0 {
		return nil
	}

	var found []*T
	if !ref.Array {
		one, err := r.src.FindByID(ctx, ids[0])
		if err != nil {
			return fmt.Errorf("failed to populate %s: %w", ref.Name, err)
		}
		if one != nil {
			found = append(found, one)
		}
	} else {
		found, err = r.src.FindManyByID(ctx, dedupe(ids))
		if err != nil {
			return fmt.Errorf("failed to populate %s: %w", ref.Name, err)
		}
	}

	byID, err := r.index(found)
	if err != nil {
		return err
	}
	return assign(ev.FieldByName(ref.Name), ref, ids, byID)
}

// PopulateMany resolves refName for every entity in entities (a slice of
// pointers to structs) with a single FindManyByID over the union of their shadow
// identities. Entities whose references cannot be resolved are left unset.
func (r *Resolver[T]) PopulateMany(ctx context.Context, entities any, refName string) error {
	list := reflect.ValueOf(entities)
	if list.Kind() != reflect.Slice && list.Kind() != reflect.Array {
		return fmt.Errorf("%w: got %T", ErrInvalidEntities, entities)
	}
	if list.Len() == 0 {
		return nil
	}
	elem := schema.Indirect(list.Type().Elem())
	if list.Type().Elem().Kind() != reflect.Pointer || elem.Kind() != reflect.Struct {
		return fmt.Errorf("%w: got %T", ErrInvalidEntities, entities)
	}
	ref, err := r.reference(elem, refName)
	if err != nil {
		return err
	}

	perEntity := make([][]any, list.Len())
	var union []any
	for i := 0; i < list.Len(); i++ {
		item := list.Index(i)
		if item.IsNil() {
			continue
		}
		perEntity[i] = shadowIDs(item.Elem().FieldByName(ref.Shadow))
		union = append(union, perEntity[i]...)
	}
	if len(union) == 0 {
		return nil
	}

	found, err := r.src.FindManyByID(ctx, dedupe(union))
	if err != nil {
		return fmt.Errorf("failed to populate %s: %w", ref.Name, err)
	}
	byID, err := r.index(found)
	if err != nil {
		return err
	}

	for i := 0; i < list.Len(); i++ {
		if len(perEntity[i]) == 0 {
			continue
		}
		field := list.Index(i).Elem().FieldByName(ref.Name)
		if err := assign(field, ref, perEntity[i], byID); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver[T]) index(found []*T) (map[string]reflect.Value, error) {
	byID := make(map[string]reflect.Value, len(found))
	for _, f := range found {
		if f == nil {
			continue
		}
		id, _, err := r.mapper.IdentityOf(f)
		if err != nil {
			return nil, err
		}
		byID[store.KeyOf(id)] = reflect.ValueOf(f)
	}
	return byID, nil
}

// assign stores the resolved targets for ids in the logical reference field.
// Nothing is written when none of the ids resolved.
func assign(field reflect.Value, ref schema.Ref, ids []any, byID map[string]reflect.Value) error {
	if !ref.Array {
		target, ok := byID[store.KeyOf(ids[0])]
		if !ok {
			return nil
		}
		return setEntity(field, target)
	}

	slice := field
	if field.Kind() == reflect.Pointer {
		slice = reflect.New(field.Type().Elem()).Elem()
	}
	out := reflect.MakeSlice(slice.Type(), 0, len(ids))
	for _, id := range ids {
		target, ok := byID[store.KeyOf(id)]
		if !ok {
			continue
		}
		slot := reflect.New(slice.Type().Elem()).Elem()
		if err := setEntity(slot, target); err != nil {
			return err
		}
		out = reflect.Append(out, slot)
	}
	if out.Len() == 0 {
		return nil
	}
	if field.Kind() == reflect.Pointer {
		p := reflect.New(out.Type())
		p.Elem().Set(out)
		field.Set(p)
		return nil
	}
	field.Set(out)
	return nil
}

func setEntity(slot, ptr reflect.Value) error {
	switch {
	case ptr.Type().AssignableTo(slot.Type()):
		slot.Set(ptr)
	case ptr.Elem().Type().AssignableTo(slot.Type()):
		slot.Set(ptr.Elem())
	default:
		return fmt.Errorf("%w: cannot assign %s to %s", ErrIncompatibleSource, ptr.Type(), slot.Type())
	}
	return nil
}

// shadowIDs lists the identities held by a shadow field, skipping unset ones
func shadowIDs(shadow reflect.Value) []any {
	for shadow.Kind() == reflect.Pointer || shadow.Kind() == reflect.Interface {
		if shadow.IsNil() {
			return nil
		}
		shadow = shadow.Elem()
	}
	if !shadow.IsValid() {
		return nil
	}
	if shadow.Kind() != reflect.Slice {
		if shadow.IsZero() {
			return nil
		}
		return []any{shadow.Interface()}
	}

	ids := make([]any, 0, shadow.Len())
	for i := 0; i < shadow.Len(); i++ {
		ids = append(ids, shadowIDs(shadow.Index(i))...)
	}
	return ids
}

func dedupe(ids []any) []any {
	seen := make(map[string]bool, len(ids))
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		key := store.KeyOf(id)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, id)
	}
	return out
}

func structPointer(entity any) (reflect.Value, error) {
	rv := reflect.ValueOf(entity)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%w: got %T", ErrInvalidEntity, entity)
	}
	return rv.Elem(), nil
}
