package store

import (
	"context"
	"sort"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EnsureID assigns a fresh ObjectID to doc when it has no identity and returns the identity.
func EnsureID(doc Document) any {
	if id, ok := doc[IDKey]; ok && id != nil {
		return id
	}
	id := primitive.NewObjectID()
	doc[IDKey] = id
	return id
}

// SortDocuments orders docs in place by the given sort keys. Missing values sort first.
func SortDocuments(docs []Document, keys []SortField) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			a, _ := Lookup(docs[i], k.Key)
			b, _ := Lookup(docs[j], k.Key)
			c, ok := Compare(a, b)
			if !ok {
				c = compareMissing(a, b)
			}
			if c == 0 {
				continue
			}
			if k.Direction < 0 {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compareMissing(a, b any) int {
	switch {
	case a == nil && b != nil:
		return -1
	case a != nil && b == nil:
		return 1
	}
	return 0
}

// Window applies skip and limit to docs.
func Window(docs []Document, skip, limit int64) []Document {
	if skip > 0 {
		if skip >= int64(len(docs)) {
			return nil
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < int64(len(docs)) {
		docs = docs[:limit]
	}
	return docs
}

// Select filters, sorts and windows a full scan of a collection.
func Select(docs []Document, filter Document, opts *FindOptions) ([]Document, error) {
	var out []Document
	for _, d := range docs {
		ok, err := Match(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	if opts == nil {
		return out, nil
	}
	SortDocuments(out, opts.Sort)
	return Window(out, opts.Skip, opts.Limit), nil
}

// First returns the first document of a scan matching filter under the sort order, or nil.
func First(docs []Document, filter Document, sortKeys []SortField) (Document, error) {
	matched, err := Select(docs, filter, &FindOptions{Sort: sortKeys, Limit: 1})
	if err != nil || len(matched) == 0 {
		return nil, err
	}
	return matched[0], nil
}

// CheckUnique verifies that candidate does not collide with any of existing on a
// unique index. Documents sharing candidate's _id are ignored so replacements pass.
func CheckUnique(collection string, specs []IndexSpec, existing []Document, candidate Document) error {
	candidateKey := KeyOf(candidate[IDKey])
	for _, spec := range specs {
		if !spec.Options.Unique {
			continue
		}
		key, complete := indexKey(candidate, spec)
		if spec.Options.Sparse && !complete {
			continue
		}
		if spec.Options.PartialFilter != nil {
			if ok, _ := Match(candidate, spec.Options.PartialFilter); !ok {
				continue
			}
		}
		for _, other := range existing {
			if KeyOf(other[IDKey]) == candidateKey {
				continue
			}
			otherKey, otherComplete := indexKey(other, spec)
			if spec.Options.Sparse && !otherComplete {
				continue
			}
			if Equal(key, otherKey) {
				return &DuplicateKeyError{Collection: collection, Index: spec.Name, Key: Document(key)}
			}
		}
	}
	return nil
}

func indexKey(doc Document, spec IndexSpec) (map[string]any, bool) {
	key := make(map[string]any, len(spec.Keys))
	complete := true
	for _, k := range spec.Keys {
		v, found := Lookup(doc, k.Field)
		if !found {
			complete = false
		}
		key[k.Field] = v
	}
	return key, complete
}

// SliceCursor is a Cursor over documents already held in memory.
type SliceCursor struct {
	docs   []Document
	pos    int
	closed bool
	err    error
}

// NewSliceCursor returns a cursor over docs.
func NewSliceCursor(docs []Document) *SliceCursor {
	return &SliceCursor{docs: docs, pos: -1}
}

// Next advances to the next document.
func (c *SliceCursor) Next(ctx context.Context) bool {
	if c.closed {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos+1 >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

// Decode returns a copy of the current document.
func (c *SliceCursor) Decode() (Document, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if c.pos < 0 || c.pos >= len(c.docs) {
		return nil, nil
	}
	return Clone(c.docs[c.pos]), nil
}

// Err returns the context error that stopped iteration, if any.
func (c *SliceCursor) Err() error {
	return c.err
}

// Close releases the documents.
func (c *SliceCursor) Close(ctx context.Context) error {
	c.closed = true
	c.docs = nil
	return nil
}
