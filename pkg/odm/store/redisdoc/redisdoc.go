// Package redisdoc keeps each collection in a Redis hash of id to Extended
// JSON document, with a list preserving insertion order and a hash of index
// specs. Writes are optimistic WATCH/MULTI transactions over all three keys.
package redisdoc

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/conduit-lang/docmap/pkg/odm/store"
)

// MaxRetries bounds how often a write is replayed after a concurrent change
const MaxRetries = 16

// ErrConflict is returned when a write keeps losing to concurrent writers
var ErrConflict = errors.New("write conflict: too many concurrent modifications")

// Database maps collections onto keys under a common prefix
type Database struct {
	client redis.UniversalClient
	prefix string
}

// New wraps client; every key is namespaced under prefix
func New(client redis.UniversalClient, prefix string) *Database {
	return &Database{client: client, prefix: prefix}
}

// Collection returns the named collection
func (d *Database) Collection(name string) store.Collection {
	base := d.prefix + ":" + name
	return &Collection{
		name:     name,
		client:   d.client,
		docsKey:  base,
		orderKey: base + ":order",
		indexKey: base + ":indexes",
	}
}

// Close closes the client
func (d *Database) Close(ctx context.Context) error {
	return d.client.Close()
}

// Collection is a document hash
type Collection struct {
	name     string
	client   redis.UniversalClient
	docsKey  string
	orderKey string
	indexKey string
}

// Name returns the collection name
func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) load(ctx context.Context, cmd redis.Cmdable) ([]store.Document, error) {
	keys, err := cmd.LRange(ctx, c.orderKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return c.fetch(ctx, cmd, keys)
}

// fetch returns the documents stored under keys in the given order, skipping missing ones
func (c *Collection) fetch(ctx context.Context, cmd redis.Cmdable, keys []string) ([]store.Document, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := cmd.HMGet(ctx, c.docsKey, keys...).Result()
	if err != nil {
		return nil, err
	}
	docs := make([]store.Document, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		doc, err := store.DecodeDocument([]byte(s))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (c *Collection) candidates(ctx context.Context, filter store.Document) ([]store.Document, error) {
	if id, ok := store.IDFromFilter(filter); ok {
		return c.fetch(ctx, c.client, []string{store.KeyOf(id)})
	}
	if ids, ok := store.IDsFromFilter(filter); ok {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = store.KeyOf(id)
		}
		return c.fetch(ctx, c.client, keys)
	}
	return c.load(ctx, c.client)
}

func (c *Collection) indexes(ctx context.Context, cmd redis.Cmdable) ([]store.IndexSpec, error) {
	raw, err := cmd.HGetAll(ctx, c.indexKey).Result()
	if err != nil {
		return nil, err
	}
	specs := make([]store.IndexSpec, 0, len(raw))
	for _, data := range raw {
		var spec store.IndexSpec
		if err := bson.UnmarshalExtJSON([]byte(data), false, &spec); err != nil {
			return nil, fmt.Errorf("failed to decode index spec: %w", err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// watch runs fn under WATCH on the collection keys, replaying it when another
// client modified them before EXEC
func (c *Collection) watch(ctx context.Context, fn func(tx *redis.Tx) error) error {
	for i := 0; i < MaxRetries; i++ {
		err := c.client.Watch(ctx, fn, c.docsKey, c.orderKey, c.indexKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

// write plans a change against a watched snapshot and commits it atomically
func (c *Collection) write(ctx context.Context, plan func(docs []store.Document, specs []store.IndexSpec) (*store.Write, error)) (*store.Write, error) {
	var w *store.Write
	err := c.watch(ctx, func(tx *redis.Tx) error {
		docs, err := c.load(ctx, tx)
		if err != nil {
			return err
		}
		specs, err := c.indexes(ctx, tx)
		if err != nil {
			return err
		}
		if w, err = plan(docs, specs); err != nil || w == nil {
			return err
		}

		key := store.KeyOf(w.ID())
		var data []byte
		if w.After != nil {
			if data, err = store.EncodeDocument(w.After); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			switch {
			case w.After == nil:
				pipe.HDel(ctx, c.docsKey, key)
				pipe.LRem(ctx, c.orderKey, 1, key)
			case w.Inserted():
				pipe.HSet(ctx, c.docsKey, key, data)
				pipe.RPush(ctx, c.orderKey, key)
			default:
				pipe.HSet(ctx, c.docsKey, key, data)
			}
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// InsertOne stores doc
func (c *Collection) InsertOne(ctx context.Context, doc store.Document) (any, error) {
	w, err := c.write(ctx, func(docs []store.Document, specs []store.IndexSpec) (*store.Write, error) {
		return store.PlanInsert(c.name, docs, specs, doc)
	})
	if err != nil {
		return nil, err
	}
	return w.ID(), nil
}

// ReplaceOne replaces the first match of filter
func (c *Collection) ReplaceOne(ctx context.Context, filter, doc store.Document, opts *store.ReplaceOptions) (*store.UpdateResult, error) {
	w, err := c.write(ctx, func(docs []store.Document, specs []store.IndexSpec) (*store.Write, error) {
		return store.PlanReplace(c.name, docs, specs, filter, doc, opts != nil && opts.Upsert)
	})
	if err != nil {
		return nil, err
	}
	return w.UpdateResult(), nil
}

// UpdateOne applies update to the first match of filter
func (c *Collection) UpdateOne(ctx context.Context, filter, update store.Document, opts *store.UpdateOptions) (*store.UpdateResult, error) {
	w, err := c.write(ctx, func(docs []store.Document, specs []store.IndexSpec) (*store.Write, error) {
		return store.PlanUpdate(c.name, docs, specs, filter, update, opts != nil && opts.Upsert, nil)
	})
	if err != nil {
		return nil, err
	}
	return w.UpdateResult(), nil
}

// DeleteOne removes the first match of filter
func (c *Collection) DeleteOne(ctx context.Context, filter store.Document) (*store.DeleteResult, error) {
	w, err := c.write(ctx, func(docs []store.Document, _ []store.IndexSpec) (*store.Write, error) {
		return store.PlanDelete(docs, filter, nil)
	})
	if err != nil {
		return nil, err
	}
	if w == nil {
		return &store.DeleteResult{}, nil
	}
	return &store.DeleteResult{DeletedCount: 1}, nil
}

// FindOne returns the first match of filter, or nil
func (c *Collection) FindOne(ctx context.Context, filter store.Document) (store.Document, error) {
	docs, err := c.candidates(ctx, filter)
	if err != nil {
		return nil, err
	}
	return store.First(docs, filter, nil)
}

// Find returns a cursor over the matches of filter
func (c *Collection) Find(ctx context.Context, filter store.Document, opts *store.FindOptions) (store.Cursor, error) {
	docs, err := c.candidates(ctx, filter)
	if err != nil {
		return nil, err
	}
	selected, err := store.Select(docs, filter, opts)
	if err != nil {
		return nil, err
	}
	return store.NewSliceCursor(selected), nil
}

// FindOneAndUpdate updates the first match under opts.Sort and returns the
// pre- or post-image
func (c *Collection) FindOneAndUpdate(ctx context.Context, filter, update store.Document, opts *store.FindOneAndUpdateOptions) (store.Document, error) {
	if opts == nil {
		opts = &store.FindOneAndUpdateOptions{}
	}
	w, err := c.write(ctx, func(docs []store.Document, specs []store.IndexSpec) (*store.Write, error) {
		return store.PlanUpdate(c.name, docs, specs, filter, update, opts.Upsert, opts.Sort)
	})
	if err != nil || w == nil {
		return nil, err
	}
	if opts.ReturnDocument == store.After {
		return w.After, nil
	}
	return w.Before, nil
}

// FindOneAndDelete removes the first match under opts.Sort and returns it
func (c *Collection) FindOneAndDelete(ctx context.Context, filter store.Document, opts *store.FindOneAndDeleteOptions) (store.Document, error) {
	var sort []store.SortField
	if opts != nil {
		sort = opts.Sort
	}
	w, err := c.write(ctx, func(docs []store.Document, _ []store.IndexSpec) (*store.Write, error) {
		return store.PlanDelete(docs, filter, sort)
	})
	if err != nil || w == nil {
		return nil, err
	}
	return w.Before, nil
}

// CountDocuments counts the matches of filter; a nil filter reads the hash length
func (c *Collection) CountDocuments(ctx context.Context, filter store.Document) (int64, error) {
	if len(filter) == 0 {
		return c.client.HLen(ctx, c.docsKey).Result()
	}
	docs, err := c.candidates(ctx, filter)
	if err != nil {
		return 0, err
	}
	selected, err := store.Select(docs, filter, nil)
	if err != nil {
		return 0, err
	}
	return int64(len(selected)), nil
}

// CreateIndexes records the specs. Building a unique index over existing
// duplicates fails and records nothing.
func (c *Collection) CreateIndexes(ctx context.Context, specs []store.IndexSpec) ([]string, error) {
	var names []string
	err := c.watch(ctx, func(tx *redis.Tx) error {
		docs, err := c.load(ctx, tx)
		if err != nil {
			return err
		}
		existing, err := c.indexes(ctx, tx)
		if err != nil {
			return err
		}
		var merged []store.IndexSpec
		merged, names = store.MergeIndexes(existing, specs)
		if err := store.CheckIndexable(c.name, merged, docs); err != nil {
			return err
		}

		wanted := make(map[string]bool, len(names))
		for _, n := range names {
			wanted[n] = true
		}
		fields := make(map[string]any, len(names))
		for _, spec := range merged {
			if !wanted[spec.Name] {
				continue
			}
			data, err := bson.MarshalExtJSON(spec, false, false)
			if err != nil {
				return fmt.Errorf("failed to encode index spec: %w", err)
			}
			fields[spec.Name] = string(data)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, c.indexKey, fields)
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Indexes returns the recorded specs of the collection
func (c *Collection) Indexes(ctx context.Context) ([]store.IndexSpec, error) {
	return c.indexes(ctx, c.client)
}
