package schema

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/conduit-lang/docmap/pkg/odm/store"
)

// Default is the process-wide registry used when no registry is supplied.
var Default = NewRegistry()

// Registry stores metadata keyed by (entity type, kind). It is written while
// types are declared and read by the mapper and repositories afterwards.
type Registry struct {
	entries   map[reflect.Type]map[Kind]any
	snapshots map[reflect.Type]*EntitySchema
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entries:   make(map[reflect.Type]map[Kind]any),
		snapshots: make(map[reflect.Type]*EntitySchema),
	}
}

// Define stores value under (target, kind): list kinds append, map and set kinds
// merge by key, and the identity kind overwrites.
func (r *Registry) Define(kind Kind, target reflect.Type, value any) error {
	target = Indirect(target)

	r.mu.Lock()
	defer r.mu.Unlock()

	kinds, ok := r.entries[target]
	if !ok {
		kinds = make(map[Kind]any)
		r.entries[target] = kinds
	}

	switch kind {
	case KindID:
		name, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s expects a field name, got %T", kind, value)
		}
		kinds[kind] = name
	case KindObjectID, KindIgnore:
		set, _ := kinds[kind].(map[string]bool)
		merged := make(map[string]bool, len(set)+1)
		for k := range set {
			merged[k] = true
		}
		switch v := value.(type) {
		case string:
			merged[v] = true
		case map[string]bool:
			for k, on := range v {
				if on {
					merged[k] = true
				}
			}
		default:
			return fmt.Errorf("%s expects a field name or set, got %T", kind, value)
		}
		kinds[kind] = merged
	case KindRefs:
		refs, _ := kinds[kind].(map[string]Ref)
		merged := make(map[string]Ref, len(refs)+1)
		for k, v := range refs {
			merged[k] = v
		}
		switch v := value.(type) {
		case Ref:
			merged[v.Name] = v
		case map[string]Ref:
			for k, ref := range v {
				merged[k] = ref
			}
		default:
			return fmt.Errorf("%s expects a Ref, got %T", kind, value)
		}
		kinds[kind] = merged
	case KindNested:
		list, _ := kinds[kind].([]Nested)
		switch v := value.(type) {
		case Nested:
			list = append(append([]Nested(nil), list...), v)
		case []Nested:
			list = append(append([]Nested(nil), list...), v...)
		default:
			return fmt.Errorf("%s expects a Nested, got %T", kind, value)
		}
		kinds[kind] = list
	case KindIndexes:
		list, _ := kinds[kind].([]store.IndexSpec)
		switch v := value.(type) {
		case store.IndexSpec:
			list = append(append([]store.IndexSpec(nil), list...), v)
		case []store.IndexSpec:
			list = append(append([]store.IndexSpec(nil), list...), v...)
		default:
			return fmt.Errorf("%s expects an IndexSpec, got %T", kind, value)
		}
		kinds[kind] = list
	default:
		return fmt.Errorf("unknown metadata kind %q", kind)
	}

	delete(r.snapshots, target)
	return nil
}

// Get returns the value stored under (target, kind), or the empty default of
// that kind. It never fails.
func (r *Registry) Get(kind Kind, target reflect.Type) any {
	target = Indirect(target)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if v, ok := r.entries[target][kind]; ok {
		return v
	}
	switch kind {
	case KindID:
		return ""
	case KindObjectID, KindIgnore:
		return map[string]bool{}
	case KindRefs:
		return map[string]Ref{}
	case KindNested:
		return []Nested{}
	case KindIndexes:
		return []store.IndexSpec{}
	}
	return nil
}

// Declared reports whether any metadata has been registered for target
func (r *Registry) Declared(target reflect.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.entries[Indirect(target)]
	return ok
}

func (r *Registry) touch(target reflect.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[target]; !ok {
		r.entries[target] = make(map[Kind]any)
	}
}

// Schema returns the assembled metadata of target. Types without any
// declaration get a schema with fields only.
func (r *Registry) Schema(target reflect.Type) *EntitySchema {
	target = Indirect(target)

	r.mu.RLock()
	snap, ok := r.snapshots[target]
	r.mu.RUnlock()
	if ok {
		return snap
	}

	snap = r.assemble(target)

	r.mu.Lock()
	r.snapshots[target] = snap
	r.mu.Unlock()
	return snap
}

func (r *Registry) assemble(target reflect.Type) *EntitySchema {
	fields := FieldsOf(target)
	s := &EntitySchema{
		Type:    target,
		Fields:  fields,
		Refs:    make(map[string]Ref),
		Nested:  make(map[string]Nested),
		Ignored: make(map[string]bool),
	}

	if name := r.Get(KindID, target).(string); name != "" {
		if f, ok := findField(fields, name); ok {
			s.ID = &f
		}
	}
	for name, ref := range r.Get(KindRefs, target).(map[string]Ref) {
		s.Refs[name] = ref
	}
	for _, n := range r.Get(KindNested, target).([]Nested) {
		s.Nested[n.Name] = n
	}
	for name := range r.Get(KindIgnore, target).(map[string]bool) {
		s.Ignored[name] = true
	}
	for _, f := range fields {
		if f.Skip {
			s.Ignored[f.Name] = true
		}
	}
	s.Indexes = compileIndexes(r.Get(KindIndexes, target).([]store.IndexSpec), s.ID)
	return s
}

// IDField returns the identity field of target
func (r *Registry) IDField(target reflect.Type) (Field, bool) {
	s := r.Schema(target)
	if s.ID == nil {
		return Field{}, false
	}
	return *s.ID, true
}

// Ref returns the reference descriptor named by Go field name or document key
func (r *Registry) Ref(target reflect.Type, name string) (Ref, bool) {
	s := r.Schema(target)
	if ref, ok := s.Refs[name]; ok {
		return ref, true
	}
	for _, ref := range s.Refs {
		if ref.Key == name {
			return ref, true
		}
	}
	return Ref{}, false
}

// Indexes returns a copy of the compiled index specifications of target. Keys
// naming the identity field are rewritten to the storage identity key.
func (r *Registry) Indexes(target reflect.Type) []store.IndexSpec {
	return cloneIndexes(r.Schema(target).Indexes)
}

func compileIndexes(specs []store.IndexSpec, id *Field) []store.IndexSpec {
	out := cloneIndexes(specs)
	for i := range out {
		for j, k := range out[i].Keys {
			if id != nil && (k.Field == id.Key || k.Field == id.Name) {
				out[i].Keys[j].Field = store.IDKey
			}
		}
		if out[i].Name == "" {
			out[i].Name = store.DefaultIndexName(out[i].Keys)
		}
	}
	return out
}

func cloneIndexes(specs []store.IndexSpec) []store.IndexSpec {
	out := make([]store.IndexSpec, len(specs))
	for i, s := range specs {
		out[i] = s
		out[i].Keys = append([]store.IndexKey(nil), s.Keys...)
	}
	return out
}
