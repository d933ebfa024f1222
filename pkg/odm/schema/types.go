// Package schema holds the metadata that tells the mapper how an entity type is
// stored: its identity field, references, nested documents, ignored fields and
// indexes. Metadata is attached to the type, never to instances.
package schema

import (
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/conduit-lang/docmap/pkg/odm/store"
)

// Kind identifies a category of metadata held by the registry
type Kind string

const (
	// KindID holds the Go name of the identity field (scalar, overwritten)
	KindID Kind = "odm:id"
	// KindObjectID holds the set of fields declared as ObjectID (merged). It
	// only validates declarations; coercion is chosen by Go type in coerce.Lookup.
	KindObjectID Kind = "odm:objectid"
	// KindRefs holds reference descriptors keyed by field name (merged)
	KindRefs Kind = "odm:refs"
	// KindNested holds nested field descriptors (appended)
	KindNested Kind = "odm:nested"
	// KindIgnore holds the set of memory-only fields (merged)
	KindIgnore Kind = "odm:ignore"
	// KindIndexes holds index specifications (appended)
	KindIndexes Kind = "odm:indexes"
)

// Field describes one persisted struct field
type Field struct {
	// Name is the Go field name
	Name string
	// Key is the document key the field is stored under
	Key string
	// Index is the reflect index path, including promoted fields
	Index []int
	// Type is the Go type of the field
	Type reflect.Type
	// Skip is set by an `odm:"-"` or `bson:"-"` tag
	Skip bool
	// Tag holds the raw options of the odm tag
	Tag []string
}

// Ref describes a reference to another entity stored through a shadow identity field
type Ref struct {
	Name      string
	Key       string
	Shadow    string
	ShadowKey string
	Array     bool
	// Target is the referenced struct type
	Target reflect.Type
}

// Nested describes an embedded sub-document (or array of them)
type Nested struct {
	Name  string
	Key   string
	Array bool
	// TypeFunc resolves the element type lazily so self and forward references work
	TypeFunc func() reflect.Type
}

// ElemType returns the struct type of the nested element
func (n Nested) ElemType() reflect.Type {
	return n.TypeFunc()
}

// EntitySchema is a read-only snapshot of everything registered for one type
type EntitySchema struct {
	Type    reflect.Type
	Fields  []Field
	ID      *Field
	Refs    map[string]Ref
	Nested  map[string]Nested
	Ignored map[string]bool
	Indexes []store.IndexSpec
}

// Field returns the field with the given Go name or document key
func (s *EntitySchema) Field(name string) (Field, bool) {
	return findField(s.Fields, name)
}

func findField(fields []Field, name string) (Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	for _, f := range fields {
		if f.Key == name {
			return f, true
		}
	}
	return Field{}, false
}

var fieldCache sync.Map // reflect.Type -> []Field

// FieldsOf lists the exported fields of struct type t with their document keys.
// Fields promoted from embedded structs are flattened; those reached through an
// embedded pointer are not persisted.
func FieldsOf(t reflect.Type) []Field {
	t = Indirect(t)
	if cached, ok := fieldCache.Load(t); ok {
		return cached.([]Field)
	}
	if t.Kind() != reflect.Struct {
		return nil
	}

	var fields []Field
	for _, sf := range reflect.VisibleFields(t) {
		if !sf.IsExported() || (sf.Anonymous && Indirect(sf.Type).Kind() == reflect.Struct) {
			continue
		}
		if throughPointer(t, sf.Index) {
			continue
		}
		name, opts := parseTag(sf.Tag.Get("odm"))
		f := Field{Name: sf.Name, Index: sf.Index, Type: sf.Type, Tag: opts}
		switch {
		case name == "-" && len(opts) == 0:
			f.Skip = true
			f.Key = defaultKey(sf.Name)
		case name != "":
			f.Key = name
		default:
			bsonName, _ := parseTag(sf.Tag.Get("bson"))
			switch bsonName {
			case "-":
				f.Skip = true
				f.Key = defaultKey(sf.Name)
			case "":
				f.Key = defaultKey(sf.Name)
			default:
				f.Key = bsonName
			}
		}
		fields = append(fields, f)
	}

	actual, _ := fieldCache.LoadOrStore(t, fields)
	return actual.([]Field)
}

func throughPointer(t reflect.Type, index []int) bool {
	for _, i := range index[:len(index)-1] {
		ft := t.Field(i).Type
		if ft.Kind() == reflect.Pointer {
			return true
		}
		t = ft
	}
	return false
}

func parseTag(tag string) (string, []string) {
	if tag == "" {
		return "", nil
	}
	parts := strings.Split(tag, ",")
	var opts []string
	for _, p := range parts[1:] {
		if p = strings.TrimSpace(p); p != "" {
			opts = append(opts, p)
		}
	}
	return strings.TrimSpace(parts[0]), opts
}

// defaultKey lowers the leading upper-case run of a Go name: Name -> name,
// ID -> id, AuthorID -> authorID, URLPath -> urlPath.
func defaultKey(name string) string {
	runes := []rune(name)
	n := 0
	for n < len(runes) && unicode.IsUpper(runes[n]) {
		n++
	}
	switch {
	case n == 0:
		return name
	case n == len(runes):
		return strings.ToLower(name)
	case n > 1:
		n--
	}
	for i := 0; i < n; i++ {
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}

// Indirect strips pointer indirections from t
func Indirect(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
