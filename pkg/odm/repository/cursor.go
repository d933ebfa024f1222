package repository

import (
	"context"
	"iter"

	"github.com/conduit-lang/docmap/pkg/odm/mapper"
	"github.com/conduit-lang/docmap/pkg/odm/store"
)

// Cursor hydrates the documents of an engine cursor one at a time as they are consumed
type Cursor[T any] struct {
	cur    store.Cursor
	mapper *mapper.Mapper
	idKey  string
	err    error
}

// Next advances to the next document, fetching from the engine as needed
func (c *Cursor[T]) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	return c.cur.Next(ctx)
}

// Decode hydrates the current document
func (c *Cursor[T]) Decode() (*T, error) {
	doc, err := c.cur.Decode()
	if err != nil {
		return nil, err
	}
	return mapper.HydrateAs[T](c.mapper, doc, c.idKey)
}

// Err returns the error that stopped iteration
func (c *Cursor[T]) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.cur.Err()
}

// Close releases the engine cursor
func (c *Cursor[T]) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}

// All drains the cursor into a slice and closes it
func (c *Cursor[T]) All(ctx context.Context) ([]*T, error) {
	defer c.Close(ctx)

	out := make([]*T, 0)
	for c.Next(ctx) {
		e, err := c.Decode()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Seq iterates over the remaining entities. A decode or engine error is
// yielded once as the last element. The cursor is closed when iteration ends.
func (c *Cursor[T]) Seq(ctx context.Context) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		defer c.Close(ctx)

		for c.Next(ctx) {
			e, err := c.Decode()
			if err != nil {
				c.err = err
				yield(nil, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
		if err := c.cur.Err(); err != nil {
			yield(nil, err)
		}
	}
}
