// Package mongodb adapts the official MongoDB driver to the store contract.
// Filters and updates are passed to the server unchanged.
package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/conduit-lang/docmap/pkg/odm/store"
)

// ErrNoDatabase is returned by Connect when neither the caller nor the URI names a database
var ErrNoDatabase = errors.New("no database name given")

// Database is a MongoDB database
type Database struct {
	client *mongo.Client
	db     *mongo.Database
	owned  bool
}

// Connect dials uri and selects database, falling back to the database path
// of the URI when database is empty
func Connect(ctx context.Context, uri, database string) (*Database, error) {
	if database == "" {
		cs, err := connstring.ParseAndValidate(uri)
		if err != nil {
			return nil, fmt.Errorf("invalid mongodb uri: %w", err)
		}
		database = cs.Database
	}
	if database == "" {
		return nil, ErrNoDatabase
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return &Database{client: client, db: client.Database(database), owned: true}, nil
}

// New wraps a database handle whose client the caller manages
func New(db *mongo.Database) *Database {
	return &Database{client: db.Client(), db: db}
}

// Collection returns the named collection
func (d *Database) Collection(name string) store.Collection {
	return &Collection{coll: d.db.Collection(name)}
}

// Close disconnects the client when Connect created it
func (d *Database) Close(ctx context.Context) error {
	if !d.owned {
		return nil
	}
	return d.client.Disconnect(ctx)
}

// Collection is a MongoDB collection
type Collection struct {
	coll *mongo.Collection
}

// Name returns the collection name
func (c *Collection) Name() string {
	return c.coll.Name()
}

// InsertOne inserts doc; the driver assigns an ObjectID when doc has no _id
func (c *Collection) InsertOne(ctx context.Context, doc store.Document) (any, error) {
	res, err := c.coll.InsertOne(ctx, toBSON(doc))
	if err != nil {
		return nil, err
	}
	return res.InsertedID, nil
}

// ReplaceOne replaces the first match of filter
func (c *Collection) ReplaceOne(ctx context.Context, filter, doc store.Document, opts *store.ReplaceOptions) (*store.UpdateResult, error) {
	o := options.Replace()
	if opts != nil {
		o.SetUpsert(opts.Upsert)
	}
	res, err := c.coll.ReplaceOne(ctx, toFilter(filter), toBSON(doc), o)
	if err != nil {
		return nil, err
	}
	return updateResult(res), nil
}

// UpdateOne applies update to the first match of filter
func (c *Collection) UpdateOne(ctx context.Context, filter, update store.Document, opts *store.UpdateOptions) (*store.UpdateResult, error) {
	o := options.Update()
	if opts != nil {
		o.SetUpsert(opts.Upsert)
	}
	res, err := c.coll.UpdateOne(ctx, toFilter(filter), toBSON(update), o)
	if err != nil {
		return nil, err
	}
	return updateResult(res), nil
}

// DeleteOne removes the first match of filter
func (c *Collection) DeleteOne(ctx context.Context, filter store.Document) (*store.DeleteResult, error) {
	res, err := c.coll.DeleteOne(ctx, toFilter(filter))
	if err != nil {
		return nil, err
	}
	return &store.DeleteResult{DeletedCount: res.DeletedCount}, nil
}

// FindOne returns the first match of filter, or nil
func (c *Collection) FindOne(ctx context.Context, filter store.Document) (store.Document, error) {
	return decodeSingle(c.coll.FindOne(ctx, toFilter(filter)))
}

// Find returns a server cursor over the matches of filter
func (c *Collection) Find(ctx context.Context, filter store.Document, opts *store.FindOptions) (store.Cursor, error) {
	o := options.Find()
	if opts != nil {
		if len(opts.Sort) > 0 {
			o.SetSort(sortDoc(opts.Sort))
		}
		if opts.Skip > 0 {
			o.SetSkip(opts.Skip)
		}
		if opts.Limit > 0 {
			o.SetLimit(opts.Limit)
		}
	}
	cur, err := c.coll.Find(ctx, toFilter(filter), o)
	if err != nil {
		return nil, err
	}
	return &cursor{cur: cur}, nil
}

// FindOneAndUpdate updates the first match and returns the image chosen by opts
func (c *Collection) FindOneAndUpdate(ctx context.Context, filter, update store.Document, opts *store.FindOneAndUpdateOptions) (store.Document, error) {
	return decodeSingle(c.coll.FindOneAndUpdate(ctx, toFilter(filter), toBSON(update), findOneAndUpdateOptions(opts)))
}

// FindOneAndDelete removes the first match and returns it
func (c *Collection) FindOneAndDelete(ctx context.Context, filter store.Document, opts *store.FindOneAndDeleteOptions) (store.Document, error) {
	o := options.FindOneAndDelete()
	if opts != nil && len(opts.Sort) > 0 {
		o.SetSort(sortDoc(opts.Sort))
	}
	return decodeSingle(c.coll.FindOneAndDelete(ctx, toFilter(filter), o))
}

// CountDocuments counts the matches of filter
func (c *Collection) CountDocuments(ctx context.Context, filter store.Document) (int64, error) {
	return c.coll.CountDocuments(ctx, toFilter(filter))
}

// CreateIndexes builds the specs on the server
func (c *Collection) CreateIndexes(ctx context.Context, specs []store.IndexSpec) ([]string, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	models := make([]mongo.IndexModel, len(specs))
	for i, spec := range specs {
		m, err := indexModel(spec)
		if err != nil {
			return nil, err
		}
		models[i] = m
	}
	return c.coll.Indexes().CreateMany(ctx, models)
}

func decodeSingle(res *mongo.SingleResult) (store.Document, error) {
	var m bson.M
	if err := res.Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return fromBSON(m), nil
}

func updateResult(res *mongo.UpdateResult) *store.UpdateResult {
	return &store.UpdateResult{
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		UpsertedID:    res.UpsertedID,
	}
}

func findOneAndUpdateOptions(opts *store.FindOneAndUpdateOptions) *options.FindOneAndUpdateOptions {
	o := options.FindOneAndUpdate().SetReturnDocument(options.Before)
	if opts == nil {
		return o
	}
	if opts.ReturnDocument == store.After {
		o.SetReturnDocument(options.After)
	}
	if opts.Upsert {
		o.SetUpsert(true)
	}
	if len(opts.Sort) > 0 {
		o.SetSort(sortDoc(opts.Sort))
	}
	return o
}

type cursor struct {
	cur *mongo.Cursor
}

func (c *cursor) Next(ctx context.Context) bool {
	return c.cur.Next(ctx)
}

func (c *cursor) Decode() (store.Document, error) {
	var m bson.M
	if err := c.cur.Decode(&m); err != nil {
		return nil, err
	}
	return fromBSON(m), nil
}

func (c *cursor) Err() error {
	return c.cur.Err()
}

func (c *cursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}
