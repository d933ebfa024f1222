// Package sqldoc keeps collections in SQL tables of (id, doc) rows, the
// document serialised as Extended JSON. Filters, updates and unique indexes
// are evaluated with the shared store helpers inside one transaction per write.
package sqldoc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/conduit-lang/docmap/pkg/odm/store"
)

// IndexTable records the index specs of every collection
const IndexTable = "docmap_indexes"

// ErrUnknownDialect is returned by DialectFor for an unsupported engine name
var ErrUnknownDialect = errors.New("unknown sql dialect")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Database maps collections onto tables of db
type Database struct {
	db      *sql.DB
	dialect Dialect
	ready   map[string]bool
	mu      sync.Mutex
}

// New wraps an open connection pool
func New(db *sql.DB, dialect Dialect) *Database {
	return &Database{db: db, dialect: dialect, ready: make(map[string]bool)}
}

// DB returns the underlying pool
func (d *Database) DB() *sql.DB {
	return d.db
}

// Collection returns the named collection; its table is created on first use
func (d *Database) Collection(name string) store.Collection {
	return &Collection{name: name, table: d.dialect.Quote(name), db: d}
}

// Close closes the pool
func (d *Database) Close(ctx context.Context) error {
	return d.db.Close()
}

// ensure creates the index table and the table of collection once
func (d *Database) ensure(ctx context.Context, collection string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.ready[IndexTable] {
		ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (collection TEXT NOT NULL, name TEXT NOT NULL, spec TEXT NOT NULL, PRIMARY KEY (collection, name))",
			d.dialect.Quote(IndexTable))
		if _, err := d.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create index table: %w", err)
		}
		d.ready[IndexTable] = true
	}
	if !d.ready[collection] {
		if _, err := d.db.ExecContext(ctx, d.dialect.CreateTable(collection)); err != nil {
			return fmt.Errorf("failed to create table for %s: %w", collection, err)
		}
		d.ready[collection] = true
	}
	return nil
}

// Collection is a document table
type Collection struct {
	name  string
	table string
	db    *Database
}

// Name returns the collection name
func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) load(ctx context.Context, q querier, keys []string, byKeys bool) ([]store.Document, error) {
	d := c.db.dialect
	query := fmt.Sprintf("SELECT doc FROM %s", c.table)
	var args []any
	if byKeys {
		if len(keys) == 0 {
			return nil, nil
		}
		var where string
		where, args = d.InIDs(keys)
		query += " WHERE " + where
	}
	query += " ORDER BY " + d.Order()

	rows, err := q.QueryContext(ctx, d.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		doc, err := store.DecodeDocument(data)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// candidates loads the rows a filter can match, narrowing by id when the
// filter addresses documents by identity
func (c *Collection) candidates(ctx context.Context, filter store.Document) ([]store.Document, error) {
	if err := c.db.ensure(ctx, c.name); err != nil {
		return nil, err
	}
	if id, ok := store.IDFromFilter(filter); ok {
		return c.load(ctx, c.db.db, []string{store.KeyOf(id)}, true)
	}
	if ids, ok := store.IDsFromFilter(filter); ok {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = store.KeyOf(id)
		}
		return c.load(ctx, c.db.db, keys, true)
	}
	return c.load(ctx, c.db.db, nil, false)
}

func (c *Collection) indexes(ctx context.Context, q querier) ([]store.IndexSpec, error) {
	d := c.db.dialect
	query := d.Rebind(fmt.Sprintf("SELECT spec FROM %s WHERE collection = ? ORDER BY name", d.Quote(IndexTable)))
	rows, err := q.QueryContext(ctx, query, c.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var specs []store.IndexSpec
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var spec store.IndexSpec
		if err := bson.UnmarshalExtJSON(data, false, &spec); err != nil {
			return nil, fmt.Errorf("failed to decode index spec: %w", err)
		}
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}

// tx runs fn in a transaction holding the write lock of the table, giving it
// a snapshot of the documents and index specs
func (c *Collection) tx(ctx context.Context, fn func(tx *sql.Tx, docs []store.Document, specs []store.IndexSpec) error) error {
	if err := c.db.ensure(ctx, c.name); err != nil {
		return err
	}
	tx, err := c.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if lock := c.db.dialect.LockTable(c.name); lock != "" {
		if _, err := tx.ExecContext(ctx, lock); err != nil {
			return err
		}
	}
	docs, err := c.load(ctx, tx, nil, false)
	if err != nil {
		return err
	}
	specs, err := c.indexes(ctx, tx)
	if err != nil {
		return err
	}
	if err := fn(tx, docs, specs); err != nil {
		return err
	}
	return tx.Commit()
}

// write plans a change under the table lock and persists it
func (c *Collection) write(ctx context.Context, plan func(docs []store.Document, specs []store.IndexSpec) (*store.Write, error)) (*store.Write, error) {
	var w *store.Write
	err := c.tx(ctx, func(tx *sql.Tx, docs []store.Document, specs []store.IndexSpec) error {
		var err error
		if w, err = plan(docs, specs); err != nil || w == nil {
			return err
		}
		return c.persist(ctx, tx, w)
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (c *Collection) persist(ctx context.Context, tx *sql.Tx, w *store.Write) error {
	d := c.db.dialect
	key := store.KeyOf(w.ID())
	if w.After == nil {
		_, err := tx.ExecContext(ctx, d.Rebind(fmt.Sprintf("DELETE FROM %s WHERE id = ?", c.table)), key)
		return err
	}
	data, err := store.EncodeDocument(w.After)
	if err != nil {
		return err
	}
	if w.Inserted() {
		_, err = tx.ExecContext(ctx, d.Rebind(fmt.Sprintf("INSERT INTO %s (id, doc) VALUES (?, ?)", c.table)), key, string(data))
		return err
	}
	_, err = tx.ExecContext(ctx, d.Rebind(fmt.Sprintf("UPDATE %s SET doc = ? WHERE id = ?", c.table)), string(data), key)
	return err
}

// InsertOne stores doc in a new row
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

// CountDocuments counts the matches of filter
func (c *Collection) CountDocuments(ctx context.Context, filter store.Document) (int64, error) {
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

// CreateIndexes records the specs in the index table. Building a unique index
// over existing duplicates fails and records nothing.
func (c *Collection) CreateIndexes(ctx context.Context, specs []store.IndexSpec) ([]string, error) {
	var names []string
	err := c.tx(ctx, func(tx *sql.Tx, docs []store.Document, existing []store.IndexSpec) error {
		var merged []store.IndexSpec
		merged, names = store.MergeIndexes(existing, specs)
		if err := store.CheckIndexable(c.name, merged, docs); err != nil {
			return err
		}

		wanted := make(map[string]bool, len(names))
		for _, n := range names {
			wanted[n] = true
		}
		d := c.db.dialect
		upsert := d.Rebind(fmt.Sprintf(
			"INSERT INTO %s (collection, name, spec) VALUES (?, ?, ?) ON CONFLICT (collection, name) DO UPDATE SET spec = excluded.spec",
			d.Quote(IndexTable)))
		for _, spec := range merged {
			if !wanted[spec.Name] {
				continue
			}
			data, err := bson.MarshalExtJSON(spec, false, false)
			if err != nil {
				return fmt.Errorf("failed to encode index spec: %w", err)
			}
			if _, err := tx.ExecContext(ctx, upsert, c.name, spec.Name, string(data)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Indexes returns the recorded specs of the collection
func (c *Collection) Indexes(ctx context.Context) ([]store.IndexSpec, error) {
	if err := c.db.ensure(ctx, c.name); err != nil {
		return nil, err
	}
	return c.indexes(ctx, c.db.db)
}
