// Package store defines the contract between the docmap repository layer and a
// document database, plus the shared evaluation helpers used by the engines that
// do not understand MongoDB filters natively.
package store

import (
	"context"
)

// IDKey is the fixed key under which every engine stores a document's identity.
const IDKey = "_id"

// Document is a flat or recursively nested associative structure as stored by an engine.
type Document map[string]any

// UpdateResult reports the outcome of ReplaceOne and UpdateOne.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
	UpsertedID    any
}

// DeleteResult reports the outcome of DeleteOne.
type DeleteResult struct {
	DeletedCount int64
}

// Cursor iterates lazily over the documents of a Find call.
type Cursor interface {
	// Next advances the cursor, fetching a new batch from the engine when needed.
	Next(ctx context.Context) bool

	// Decode returns the document the cursor currently points to.
	Decode() (Document, error)

	// Err returns the last error seen by the cursor.
	Err() error

	// Close releases the resources held by the cursor.
	Close(ctx context.Context) error
}

// Collection is the storage collaborator used by repositories. Every method
// addresses documents through filter predicates and the opaque _id value.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// InsertOne stores doc and returns its identity value, assigning one when doc has none.
	InsertOne(ctx context.Context, doc Document) (any, error)

	// ReplaceOne replaces the first document matching filter with doc.
	ReplaceOne(ctx context.Context, filter, doc Document, opts *ReplaceOptions) (*UpdateResult, error)

	// UpdateOne applies the update operators to the first document matching filter.
	UpdateOne(ctx context.Context, filter, update Document, opts *UpdateOptions) (*UpdateResult, error)

	// DeleteOne removes the first document matching filter.
	DeleteOne(ctx context.Context, filter Document) (*DeleteResult, error)

	// FindOne returns the first document matching filter, or nil when none does.
	FindOne(ctx context.Context, filter Document) (Document, error)

	// Find returns a cursor over the documents matching filter.
	Find(ctx context.Context, filter Document, opts *FindOptions) (Cursor, error)

	// FindOneAndUpdate atomically updates the first match and returns its pre- or post-image.
	FindOneAndUpdate(ctx context.Context, filter, update Document, opts *FindOneAndUpdateOptions) (Document, error)

	// FindOneAndDelete atomically removes the first match and returns it.
	FindOneAndDelete(ctx context.Context, filter Document, opts *FindOneAndDeleteOptions) (Document, error)

	// CountDocuments counts the documents matching filter; a nil filter counts the collection.
	CountDocuments(ctx context.Context, filter Document) (int64, error)

	// CreateIndexes builds the given indexes and returns their names.
	CreateIndexes(ctx context.Context, specs []IndexSpec) ([]string, error)
}

// Database hands out collections of a single logical database.
type Database interface {
	// Collection returns the named collection, creating it lazily if the engine needs to.
	Collection(name string) Collection

	// Close releases the connection to the engine.
	Close(ctx context.Context) error
}
