package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/conduit-lang/docmap/pkg/odm/store"
)

// Declare registers the roles written in the odm struct tags of T:
//
//	type User struct {
//		ID        primitive.ObjectID   `odm:"_id,id"`
//		Name      string               `odm:"name,index,unique"`
//		Address   *Address             `odm:"address,nested"`
//		Friends   []*User              `odm:"friends,ref"`
//		FriendIDs []primitive.ObjectID `odm:"friendIDs,objectid"`
//		Session   string               `odm:"-"`
//	}
//
// A field stored under "_id" is the identity when no field carries the id
// option. Nested and referenced struct types are declared from their tags too
// unless they were declared already.
func Declare[T any](reg *Registry) error {
	return DeclareType(reg, reflect.TypeOf((*T)(nil)).Elem())
}

// MustDeclare is like Declare but panics on error
func MustDeclare[T any](reg *Registry) {
	if err := Declare[T](reg); err != nil {
		panic(err)
	}
}

// DeclareType registers the tag-declared roles of struct type t
func DeclareType(reg *Registry, t reflect.Type) error {
	if reg == nil {
		reg = Default
	}
	return declare(reg, Indirect(t), make(map[reflect.Type]bool))
}

func declare(reg *Registry, t reflect.Type, seen map[reflect.Type]bool) error {
	if seen[t] {
		return nil
	}
	seen[t] = true

	b := ForType(reg, t)
	if t.Kind() != reflect.Struct {
		return b.Register()
	}

	var (
		hasID   bool
		related []reflect.Type
	)
	for _, f := range FieldsOf(t) {
		if f.Skip {
			b.Ignore(f.Name)
			continue
		}
		var (
			index    bool
			indexVal any
			opts     store.IndexOptions
		)
		for _, opt := range f.Tag {
			name, arg, _ := strings.Cut(opt, "=")
			switch name {
			case "id":
				b.ID(f.Name)
				hasID = true
			case "objectid":
				b.ObjectID(f.Name)
			case "nested":
				b.Nested(f.Name, nil)
				related = append(related, elemType(f.Type))
			case "ref":
				b.Ref(f.Name, arg)
				related = append(related, elemType(f.Type))
			case "ignore":
				b.Ignore(f.Name)
			case "index":
				index = true
				if arg != "" {
					indexVal = indexValue(arg)
				}
			case "unique":
				index, opts.Unique = true, true
			case "sparse":
				index, opts.Sparse = true, true
			case "background":
				opts.Background = true
			case "ttl":
				secs, err := strconv.ParseInt(arg, 10, 32)
				if err != nil {
					b.fail(fmt.Errorf("%w: %s.%s ttl %q", ErrInvalidTag, t.Name(), f.Name, arg))
					continue
				}
				ttl := int32(secs)
				index, opts.ExpireAfterSeconds = true, &ttl
			default:
				b.fail(fmt.Errorf("%w: %s.%s option %q", ErrInvalidTag, t.Name(), f.Name, opt))
			}
		}
		if index {
			b.Index(f.Name, indexVal, opts)
		}
	}
	if !hasID {
		if f, ok := findField(FieldsOf(t), store.IDKey); ok && f.Key == store.IDKey {
			b.ID(f.Name)
		}
	}
	if err := b.Register(); err != nil {
		return err
	}

	var errs []error
	for _, rt := range related {
		if rt.Kind() != reflect.Struct || reg.Declared(rt) {
			continue
		}
		errs = append(errs, declare(reg, rt, seen))
	}
	return errors.Join(errs...)
}

func elemType(t reflect.Type) reflect.Type {
	t = Indirect(t)
	if t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		return Indirect(t.Elem())
	}
	return t
}

// indexValue turns a tag argument into an index direction or type: "1" and
// "-1" are numeric, anything else ("text", "2dsphere", "hashed") is kept.
func indexValue(arg string) any {
	if n, err := strconv.Atoi(arg); err == nil {
		return n
	}
	return arg
}
