// Package memory is an in-process document engine. Collections keep documents
// in insertion order and evaluate filters with the shared store helpers.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/conduit-lang/docmap/pkg/odm/store"
)

// Database holds named in-memory collections
type Database struct {
	collections map[string]*Collection
	closed      atomic.Bool
	mu          sync.Mutex
}

// New creates an empty database
func New() *Database {
	return &Database{collections: make(map[string]*Collection)}
}

// Collection returns the named collection, creating it on first use
func (d *Database) Collection(name string) store.Collection {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.collections[name]
	if !ok {
		c = &Collection{name: name, db: d}
		d.collections[name] = c
	}
	return c
}

// Close marks the database closed; later operations fail with store.ErrClosed
func (d *Database) Close(ctx context.Context) error {
	d.closed.Store(true)
	return nil
}

// Collection is a goroutine-safe in-memory collection
type Collection struct {
	name    string
	db      *Database
	docs    []store.Document
	indexes []store.IndexSpec
	mu      sync.RWMutex
}

// Name returns the collection name
func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) check(ctx context.Context) error {
	if c.db.closed.Load() {
		return store.ErrClosed
	}
	return ctx.Err()
}

// apply persists a planned write; the caller holds the write lock
func (c *Collection) apply(w *store.Write) {
	if w.Inserted() {
		c.docs = append(c.docs, w.After)
		return
	}
	key := store.KeyOf(w.Before[store.IDKey])
	for i, d := range c.docs {
		if store.KeyOf(d[store.IDKey]) != key {
			continue
		}
		if w.After == nil {
			c.docs = append(c.docs[:i:i], c.docs[i+1:]...)
		} else {
			c.docs[i] = w.After
		}
		return
	}
}

// InsertOne stores a copy of doc
func (c *Collection) InsertOne(ctx context.Context, doc store.Document) (any, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	w, err := store.PlanInsert(c.name, c.docs, c.indexes, doc)
	if err != nil {
		return nil, err
	}
	c.apply(w)
	return w.ID(), nil
}

// ReplaceOne replaces the first match of filter
func (c *Collection) ReplaceOne(ctx context.Context, filter, doc store.Document, opts *store.ReplaceOptions) (*store.UpdateResult, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	w, err := store.PlanReplace(c.name, c.docs, c.indexes, filter, doc, opts != nil && opts.Upsert)
	if err != nil {
		return nil, err
	}
	if w != nil {
		c.apply(w)
	}
	return w.UpdateResult(), nil
}

// UpdateOne applies update to the first match of filter
func (c *Collection) UpdateOne(ctx context.Context, filter, update store.Document, opts *store.UpdateOptions) (*store.UpdateResult, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	w, err := store.PlanUpdate(c.name, c.docs, c.indexes, filter, update, opts != nil && opts.Upsert, nil)
	if err != nil {
		return nil, err
	}
	if w != nil {
		c.apply(w)
	}
	return w.UpdateResult(), nil
}

// DeleteOne removes the first match of filter
func (c *Collection) DeleteOne(ctx context.Context, filter store.Document) (*store.DeleteResult, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	w, err := store.PlanDelete(c.docs, filter, nil)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return &store.DeleteResult{}, nil
	}
	c.apply(w)
	return &store.DeleteResult{DeletedCount: 1}, nil
}

// FindOne returns a copy of the first match of filter, or nil
func (c *Collection) FindOne(ctx context.Context, filter store.Document) (store.Document, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	doc, err := store.First(c.docs, filter, nil)
	if err != nil {
		return nil, err
	}
	return store.Clone(doc), nil
}

// Find returns a cursor over the matches of filter as of the call
func (c *Collection) Find(ctx context.Context, filter store.Document, opts *store.FindOptions) (store.Cursor, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	docs, err := store.Select(c.docs, filter, opts)
	if err != nil {
		return nil, err
	}
	return store.NewSliceCursor(append([]store.Document(nil), docs...)), nil
}

// FindOneAndUpdate updates the first match under opts.Sort and returns the
// pre- or post-image
func (c *Collection) FindOneAndUpdate(ctx context.Context, filter, update store.Document, opts *store.FindOneAndUpdateOptions) (store.Document, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &store.FindOneAndUpdateOptions{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	w, err := store.PlanUpdate(c.name, c.docs, c.indexes, filter, update, opts.Upsert, opts.Sort)
	if err != nil || w == nil {
		return nil, err
	}
	c.apply(w)
	if opts.ReturnDocument == store.After {
		return store.Clone(w.After), nil
	}
	return w.Before, nil
}

// FindOneAndDelete removes the first match under opts.Sort and returns it
func (c *Collection) FindOneAndDelete(ctx context.Context, filter store.Document, opts *store.FindOneAndDeleteOptions) (store.Document, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	var sort []store.SortField
	if opts != nil {
		sort = opts.Sort
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	w, err := store.PlanDelete(c.docs, filter, sort)
	if err != nil || w == nil {
		return nil, err
	}
	c.apply(w)
	return w.Before, nil
}

// CountDocuments counts the matches of filter
func (c *Collection) CountDocuments(ctx context.Context, filter store.Document) (int64, error) {
	if err := c.check(ctx); err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	docs, err := store.Select(c.docs, filter, nil)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

// CreateIndexes records the specs; unique specs are enforced on later writes.
// Building a unique index over existing duplicates fails.
func (c *Collection) CreateIndexes(ctx context.Context, specs []store.IndexSpec) ([]string, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	merged, names := store.MergeIndexes(c.indexes, specs)
	if err := store.CheckIndexable(c.name, merged, c.docs); err != nil {
		return nil, err
	}
	c.indexes = merged
	return names, nil
}

// Indexes returns the specs recorded by CreateIndexes
func (c *Collection) Indexes() []store.IndexSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]store.IndexSpec(nil), c.indexes...)
}
