// Package repository binds an entity type to a storage collection. Every
// operation dehydrates entities on the way in and hydrates documents on the
// way out; storage errors are returned unchanged.
package repository

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/conduit-lang/docmap/pkg/odm/mapper"
	"github.com/conduit-lang/docmap/pkg/odm/relationships"
	"github.com/conduit-lang/docmap/pkg/odm/schema"
	"github.com/conduit-lang/docmap/pkg/odm/store"
)

// Repository persists entities of type T in one collection
type Repository[T any] struct {
	coll     store.Collection
	reg      *schema.Registry
	mapper   *mapper.Mapper
	resolver *relationships.Resolver[T]
	log      *zap.Logger
	typ      reflect.Type
	idKey    string
}

// New creates a repository for T over coll. It fails with
// schema.ErrMissingIdentity when T declares no identity field.
func New[T any](ctx context.Context, coll store.Collection, opts ...Option) (*Repository[T], error) {
	o := buildOptions(opts)
	typ := reflect.TypeOf((*T)(nil)).Elem()

	id, ok := o.registry.IDField(typ)
	if !ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrMissingIdentity, typ)
	}

	m := mapper.New(o.registry)
	r := &Repository[T]{
		coll:   coll,
		reg:    o.registry,
		mapper: m,
		log:    o.logger.With(zap.String("collection", coll.Name()), zap.String("entity", typ.Name())),
		typ:    typ,
		idKey:  id.Key,
	}
	r.resolver = relationships.NewResolver[T](r, m)

	if o.autoIndex {
		if _, err := r.CreateIndexes(ctx, true); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Collection returns the underlying storage collection
func (r *Repository[T]) Collection() store.Collection {
	return r.coll
}

// Dehydrate converts entity into its stored document, writing reference shadow
// fields back onto entity
func (r *Repository[T]) Dehydrate(entity *T) (store.Document, error) {
	return r.mapper.Dehydrate(entity, r.idKey)
}

// Hydrate converts a stored document into an entity; nil yields nil
func (r *Repository[T]) Hydrate(doc store.Document) (*T, error) {
	return mapper.HydrateAs[T](r.mapper, doc, r.idKey)
}

// Insert stores entity and writes the identity assigned on insert back onto it.
// An unset string identity is filled with the hex form of a new ObjectID.
func (r *Repository[T]) Insert(ctx context.Context, entity *T) error {
	if entity == nil {
		return ErrNilEntity
	}
	doc, err := r.Dehydrate(entity)
	if err != nil {
		return err
	}
	if _, ok := doc[store.IDKey]; !ok {
		generated, err := r.mapper.NewIdentity(r.typ)
		if err != nil {
			return err
		}
		if generated != nil {
			doc[store.IDKey] = generated
		}
	}
	id, err := r.coll.InsertOne(ctx, doc)
	if err != nil {
		r.log.Debug("insert failed", zap.Error(err))
		return err
	}
	if err := r.mapper.SetIdentity(entity, id); err != nil {
		return err
	}
	r.log.Debug("inserted", zap.Any("id", id))
	return nil
}

// Update replaces the stored document of entity, keyed by its current identity.
// Nothing happens when no document has that identity, unless opts requests an upsert.
func (r *Repository[T]) Update(ctx context.Context, entity *T, opts *store.ReplaceOptions) (*store.UpdateResult, error) {
	if entity == nil {
		return nil, ErrNilEntity
	}
	doc, err := r.Dehydrate(entity)
	if err != nil {
		return nil, err
	}
	id, ok := doc[store.IDKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIdentityUnset, r.typ.Name())
	}

	res, err := r.coll.ReplaceOne(ctx, store.Document{store.IDKey: id}, doc, opts)
	if err != nil {
		r.log.Debug("update failed", zap.Any("id", id), zap.Error(err))
		return nil, err
	}
	r.log.Debug("updated", zap.Any("id", id), zap.Int64("matched", res.MatchedCount))
	return res, nil
}

// Save inserts entity when its identity is unset and updates it otherwise
func (r *Repository[T]) Save(ctx context.Context, entity *T) error {
	if entity == nil {
		return ErrNilEntity
	}
	_, set, err := r.mapper.IdentityOf(entity)
	if err != nil {
		return err
	}
	if !set {
		return r.Insert(ctx, entity)
	}
	_, err = r.Update(ctx, entity, nil)
	return err
}

// Remove deletes the stored document of entity
func (r *Repository[T]) Remove(ctx context.Context, entity *T) (*store.DeleteResult, error) {
	if entity == nil {
		return nil, ErrNilEntity
	}
	id, set, err := r.mapper.IdentityOf(entity)
	if err != nil {
		return nil, err
	}
	if !set {
		return nil, fmt.Errorf("%w: %s", ErrIdentityUnset, r.typ.Name())
	}
	stored, err := r.mapper.StoredIdentity(r.typ, id)
	if err != nil {
		return nil, err
	}
	res, err := r.coll.DeleteOne(ctx, store.Document{store.IDKey: stored})
	if err != nil {
		return nil, err
	}
	r.log.Debug("removed", zap.Any("id", stored), zap.Int64("deleted", res.DeletedCount))
	return res, nil
}

// FindOne returns the first entity matching filter, or nil
func (r *Repository[T]) FindOne(ctx context.Context, filter store.Document) (*T, error) {
	doc, err := r.coll.FindOne(ctx, rewriteFilter(filter, r.idKey))
	if err != nil {
		return nil, err
	}
	return r.Hydrate(doc)
}

// FindByID returns the entity with identity id, or nil
func (r *Repository[T]) FindByID(ctx context.Context, id any) (*T, error) {
	stored, err := r.mapper.StoredIdentity(r.typ, id)
	if err != nil {
		return nil, err
	}
	doc, err := r.coll.FindOne(ctx, store.Document{store.IDKey: stored})
	if err != nil {
		return nil, err
	}
	return r.Hydrate(doc)
}

// FindManyByID returns the entities whose identity is in ids, in engine order.
// Unknown identities are skipped.
func (r *Repository[T]) FindManyByID(ctx context.Context, ids []any) ([]*T, error) {
	if len(ids) == 0 {
		return []*T{}, nil
	}
	stored := make([]any, len(ids))
	for i, id := range ids {
		v, err := r.mapper.StoredIdentity(r.typ, id)
		if err != nil {
			return nil, err
		}
		stored[i] = v
	}
	cur, err := r.coll.Find(ctx, store.Document{store.IDKey: store.Document{"$in": stored}}, nil)
	if err != nil {
		return nil, err
	}
	return r.cursor(cur).All(ctx)
}

// Find returns a lazy cursor over the entities matching filter
func (r *Repository[T]) Find(ctx context.Context, filter store.Document, opts *store.FindOptions) (*Cursor[T], error) {
	cur, err := r.coll.Find(ctx, rewriteFilter(filter, r.idKey), r.findOptions(opts))
	if err != nil {
		return nil, err
	}
	return r.cursor(cur), nil
}

func (r *Repository[T]) cursor(cur store.Cursor) *Cursor[T] {
	return &Cursor[T]{cur: cur, mapper: r.mapper, idKey: r.idKey}
}

func (r *Repository[T]) findOptions(opts *store.FindOptions) *store.FindOptions {
	if opts == nil {
		return nil
	}
	out := *opts
	out.Sort = r.rewriteSort(opts.Sort)
	return &out
}

func (r *Repository[T]) rewriteSort(keys []store.SortField) []store.SortField {
	if len(keys) == 0 || r.idKey == store.IDKey {
		return keys
	}
	out := make([]store.SortField, len(keys))
	for i, k := range keys {
		if k.Key == r.idKey {
			k.Key = store.IDKey
		}
		out[i] = k
	}
	return out
}

// FindOneAndUpdate atomically applies update to the first match of filter and
// returns the pre- or post-image chosen by opts, or nil when nothing matched
func (r *Repository[T]) FindOneAndUpdate(ctx context.Context, filter, update store.Document, opts *store.FindOneAndUpdateOptions) (*T, error) {
	if opts != nil {
		o := *opts
		o.Sort = r.rewriteSort(opts.Sort)
		opts = &o
	}
	doc, err := r.coll.FindOneAndUpdate(ctx, rewriteFilter(filter, r.idKey), update, opts)
	if err != nil {
		return nil, err
	}
	return r.Hydrate(doc)
}

// FindOneAndDelete atomically removes the first match of filter and returns it,
// or nil when nothing matched
func (r *Repository[T]) FindOneAndDelete(ctx context.Context, filter store.Document, opts *store.FindOneAndDeleteOptions) (*T, error) {
	if opts != nil {
		o := *opts
		o.Sort = r.rewriteSort(opts.Sort)
		opts = &o
	}
	doc, err := r.coll.FindOneAndDelete(ctx, rewriteFilter(filter, r.idKey), opts)
	if err != nil {
		return nil, err
	}
	return r.Hydrate(doc)
}

// Count returns the number of documents matching filter; nil counts them all
func (r *Repository[T]) Count(ctx context.Context, filter store.Document) (int64, error) {
	return r.coll.CountDocuments(ctx, rewriteFilter(filter, r.idKey))
}

// CreateIndexes builds the indexes declared for T and returns their names.
// Without declared indexes it returns nil and does not call the engine. When
// forceBackground is set every index is submitted as a background build; the
// declared metadata is left unchanged.
func (r *Repository[T]) CreateIndexes(ctx context.Context, forceBackground bool) ([]string, error) {
	specs := r.reg.Indexes(r.typ)
	if len(specs) == 0 {
		return nil, nil
	}
	if forceBackground {
		for i := range specs {
			specs[i].Options.Background = true
		}
	}
	names, err := r.coll.CreateIndexes(ctx, specs)
	if err != nil {
		r.log.Warn("create indexes failed", zap.Error(err))
		return nil, err
	}
	r.log.Info("indexes created", zap.Strings("indexes", names))
	return names, nil
}

// Populate loads the T referenced by refName on entity and assigns it
func (r *Repository[T]) Populate(ctx context.Context, entity any, refName string) error {
	return r.resolver.Populate(ctx, entity, refName)
}

// PopulateMany resolves refName on every entity with a single batched fetch
func (r *Repository[T]) PopulateMany(ctx context.Context, entities any, refName string) error {
	return r.resolver.PopulateMany(ctx, entities, refName)
}
