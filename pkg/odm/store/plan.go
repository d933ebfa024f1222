package store

import "fmt"

// Write is a single-document change computed against a snapshot of a
// collection. Engines that evaluate filters in Go plan a write under their own
// lock or transaction and then persist it.
type Write struct {
	// Before is the stored document prior to the change, nil for inserts
	Before Document
	// After is the document to store, nil for deletes
	After Document
}

// Inserted reports whether the write creates a new document
func (w *Write) Inserted() bool {
	return w.Before == nil && w.After != nil
}

// ID returns the identity of the written document
func (w *Write) ID() any {
	if w.After != nil {
		return w.After[IDKey]
	}
	return w.Before[IDKey]
}

// Modified reports whether the write changes stored content
func (w *Write) Modified() bool {
	return w.Before == nil || w.After == nil || !Equal(map[string]any(w.Before), map[string]any(w.After))
}

// UpdateResult reports the write the way ReplaceOne and UpdateOne do. A nil
// write means nothing matched.
func (w *Write) UpdateResult() *UpdateResult {
	res := &UpdateResult{}
	switch {
	case w == nil:
	case w.Inserted():
		res.UpsertedID = w.ID()
	default:
		res.MatchedCount = 1
		if w.Modified() {
			res.ModifiedCount = 1
		}
	}
	return res
}

// PlanInsert prepares doc for insertion: it is copied, given an ObjectID when
// it has no identity, and checked against the _id and unique indexes.
func PlanInsert(collection string, docs []Document, specs []IndexSpec, doc Document) (*Write, error) {
	after := Clone(doc)
	if after == nil {
		after = Document{}
	}
	id := EnsureID(after)

	key := KeyOf(id)
	for _, d := range docs {
		if KeyOf(d[IDKey]) == key {
			return nil, &DuplicateKeyError{Collection: collection, Index: "_id_", Key: Document{IDKey: id}}
		}
	}
	if err := CheckUnique(collection, specs, docs, after); err != nil {
		return nil, err
	}
	return &Write{After: after}, nil
}

// PlanReplace replaces the first document matching filter. Without a match it
// returns nil, or plans an insert when upsert is set.
func PlanReplace(collection string, docs []Document, specs []IndexSpec, filter, replacement Document, upsert bool) (*Write, error) {
	for k := range replacement {
		if len(k) > 0 && k[0] == '$' {
			return nil, fmt.Errorf("%w: replacement document cannot contain %s", ErrInvalidUpdate, k)
		}
	}

	target, err := First(docs, filter, nil)
	if err != nil {
		return nil, err
	}
	if target == nil {
		if !upsert {
			return nil, nil
		}
		seed := Clone(replacement)
		if seed == nil {
			seed = Document{}
		}
		if _, ok := seed[IDKey]; !ok {
			if id, ok := IDFromFilter(filter); ok {
				seed[IDKey] = id
			}
		}
		return PlanInsert(collection, docs, specs, seed)
	}

	after := Clone(replacement)
	if after == nil {
		after = Document{}
	}
	if id, ok := after[IDKey]; ok && KeyOf(id) != KeyOf(target[IDKey]) {
		return nil, fmt.Errorf("%w: _id is immutable", ErrInvalidUpdate)
	}
	after[IDKey] = target[IDKey]
	if err := CheckUnique(collection, specs, docs, after); err != nil {
		return nil, err
	}
	return &Write{Before: Clone(target), After: after}, nil
}

// PlanUpdate applies update to the first document matching filter under the
// given sort order. Without a match it returns nil, or plans the upserted
// document when upsert is set.
func PlanUpdate(collection string, docs []Document, specs []IndexSpec, filter, update Document, upsert bool, sort []SortField) (*Write, error) {
	target, err := First(docs, filter, sort)
	if err != nil {
		return nil, err
	}
	if target == nil {
		if !upsert {
			return nil, nil
		}
		seed, err := UpsertSeed(filter, update)
		if err != nil {
			return nil, err
		}
		return PlanInsert(collection, docs, specs, seed)
	}

	after, err := ApplyUpdate(target, update, false)
	if err != nil {
		return nil, err
	}
	if KeyOf(after[IDKey]) != KeyOf(target[IDKey]) {
		return nil, fmt.Errorf("%w: _id is immutable", ErrInvalidUpdate)
	}
	if err := CheckUnique(collection, specs, docs, after); err != nil {
		return nil, err
	}
	return &Write{Before: Clone(target), After: after}, nil
}

// PlanDelete removes the first document matching filter under the given sort
// order, or returns nil when nothing matches.
func PlanDelete(docs []Document, filter Document, sort []SortField) (*Write, error) {
	target, err := First(docs, filter, sort)
	if err != nil || target == nil {
		return nil, err
	}
	return &Write{Before: Clone(target)}, nil
}

// CheckIndexable reports a DuplicateKeyError when existing documents already
// violate one of the unique specs, as engines do when building such an index.
func CheckIndexable(collection string, specs []IndexSpec, docs []Document) error {
	for i, d := range docs {
		if err := CheckUnique(collection, specs, docs[:i], d); err != nil {
			return err
		}
	}
	return nil
}

// MergeIndexes adds specs to existing, replacing same-named entries, and
// returns the merged list with the names of specs in order.
func MergeIndexes(existing, specs []IndexSpec) ([]IndexSpec, []string) {
	merged := append([]IndexSpec(nil), existing...)
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		if s.Name == "" {
			s.Name = DefaultIndexName(s.Keys)
		}
		names = append(names, s.Name)
		replaced := false
		for i := range merged {
			if merged[i].Name == s.Name {
				merged[i] = s
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, s)
		}
	}
	return merged, names
}

// DefaultIndexName builds the conventional name field_dir joined by underscores
func DefaultIndexName(keys []IndexKey) string {
	name := ""
	for i, k := range keys {
		if i > 0 {
			name += "_"
		}
		name += fmt.Sprintf("%s_%v", k.Field, k.Value)
	}
	return name
}
