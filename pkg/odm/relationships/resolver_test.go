package relationships

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/conduit-lang/docmap/pkg/odm/mapper"
	"github.com/conduit-lang/docmap/pkg/odm/schema"
	"github.com/conduit-lang/docmap/pkg/odm/store"
)

type Author struct {
	ID   primitive.ObjectID `odm:"_id,id"`
	Name string             `odm:"name"`
}

type Post struct {
	ID         primitive.ObjectID   `odm:"_id,id"`
	Title      string               `odm:"title"`
	Author     *Author              `odm:"author,ref"`
	AuthorID   primitive.ObjectID   `odm:"authorID"`
	Editors    []*Author            `odm:"editors,ref"`
	EditorsIDs []primitive.ObjectID `odm:"editorsIDs"`
	Related    *Post                `odm:"related,ref"`
	RelatedID  primitive.ObjectID   `odm:"relatedID"`
}

// countingSource serves authors from memory and records every call
type countingSource struct {
	authors  map[string]*Author
	byID     int
	byIDs    int
	lastIDs  []any
	failWith error
}

func newSource(authors ...*Author) *countingSource {
	s := &countingSource{authors: make(map[string]*Author)}
	for _, a := range authors {
		s.authors[store.KeyOf(a.ID)] = a
	}
	return s
}

func (s *countingSource) FindByID(_ context.Context, id any) (*Author, error) {
	s.byID++
	if s.failWith != nil {
		return nil, s.failWith
	}
	return s.authors[store.KeyOf(id)], nil
}

func (s *countingSource) FindManyByID(_ context.Context, ids []any) ([]*Author, error) {
	s.byIDs++
	s.lastIDs = ids
	if s.failWith != nil {
		return nil, s.failWith
	}
	var out []*Author
	// reverse order to make sure assignment does not rely on it
	for i := len(ids) - 1; i >= 0; i-- {
		if a, ok := s.authors[store.KeyOf(ids[i])]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func newResolver(t *testing.T, src Source[Author]) *Resolver[Author] {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, schema.Declare[Post](reg))
	return NewResolver[Author](src, mapper.New(reg))
}

func author(name string) *Author {
	return &Author{ID: primitive.NewObjectID(), Name: name}
}

func TestPopulate_Single(t *testing.T) {
	ann := author("ann")
	src := newSource(ann)
	r := newResolver(t, src)

	p := &Post{AuthorID: ann.ID}
	require.NoError(t, r.Populate(context.Background(), p, "Author"))
	assert.Same(t, ann, p.Author)
	assert.Equal(t, 1, src.byID)
}

func TestPopulate_ByDocumentKey(t *testing.T) {
	ann := author("ann")
	r := newResolver(t, newSource(ann))

	p := &Post{AuthorID: ann.ID}
	require.NoError(t, r.Populate(context.Background(), p, "author"))
	assert.Same(t, ann, p.Author)
}

func TestPopulate_UnsetShadowSkipsFetch(t *testing.T) {
	src := newSource()
	r := newResolver(t, src)

	p := &Post{}
	require.NoError(t, r.Populate(context.Background(), p, "Author"))
	assert.Nil(t, p.Author)
	assert.Zero(t, src.byID)
}

func TestPopulate_NotFoundLeavesUnset(t *testing.T) {
	r := newResolver(t, newSource())

	p := &Post{AuthorID: primitive.NewObjectID()}
	require.NoError(t, r.Populate(context.Background(), p, "Author"))
	assert.Nil(t, p.Author)
}

func TestPopulate_Array(t *testing.T) {
	a, b, c := author("a"), author("b"), author("c")
	src := newSource(a, b, c)
	r := newResolver(t, src)

	missing := primitive.NewObjectID()
	p := &Post{EditorsIDs: []primitive.ObjectID{c.ID, missing, a.ID, c.ID}}
	require.NoError(t, r.Populate(context.Background(), p, "Editors"))

	assert.Equal(t, []*Author{c, a, c}, p.Editors)
	assert.Equal(t, 1, src.byIDs)
	assert.Len(t, src.lastIDs, 3, "identities are deduplicated")
}

func TestPopulate_Errors(t *testing.T) {
	r := newResolver(t, newSource())

	err := r.Populate(context.Background(), &Post{}, "Missing")
	assert.ErrorIs(t, err, ErrUnknownReference)

	err = r.Populate(context.Background(), &Post{RelatedID: primitive.NewObjectID()}, "Related")
	assert.ErrorIs(t, err, ErrIncompatibleSource)

	err = r.Populate(context.Background(), Post{}, "Author")
	assert.ErrorIs(t, err, ErrInvalidEntity)

	boom := errors.New("connection reset")
	src := newSource()
	src.failWith = boom
	r = newResolver(t, src)
	err = r.Populate(context.Background(), &Post{AuthorID: primitive.NewObjectID()}, "Author")
	assert.ErrorIs(t, err, boom)
}

func TestPopulateMany_SingleBatchedFetch(t *testing.T) {
	ann, bob := author("ann"), author("bob")
	src := newSource(ann, bob)
	r := newResolver(t, src)

	posts := []*Post{
		{Title: "one", AuthorID: ann.ID},
		{Title: "two", AuthorID: bob.ID},
		{Title: "three", AuthorID: ann.ID},
	}
	require.NoError(t, r.PopulateMany(context.Background(), posts, "Author"))

	assert.Equal(t, 1, src.byIDs)
	assert.Zero(t, src.byID)
	assert.Len(t, src.lastIDs, 2)
	assert.Same(t, ann, posts[0].Author)
	assert.Same(t, bob, posts[1].Author)
	assert.Same(t, ann, posts[2].Author)
}

func TestPopulateMany_Unresolved(t *testing.T) {
	ann := author("ann")
	src := newSource(ann)
	r := newResolver(t, src)

	posts := []*Post{
		{AuthorID: ann.ID},
		{AuthorID: primitive.NewObjectID()},
		{},
		nil,
	}
	require.NoError(t, r.PopulateMany(context.Background(), posts, "Author"))
	assert.Same(t, ann, posts[0].Author)
	assert.Nil(t, posts[1].Author)
	assert.Nil(t, posts[2].Author)
	assert.Len(t, src.lastIDs, 2)
}

func TestPopulateMany_Arrays(t *testing.T) {
	a, b := author("a"), author("b")
	src := newSource(a, b)
	r := newResolver(t, src)

	posts := []*Post{
		{EditorsIDs: []primitive.ObjectID{a.ID, b.ID}},
		{EditorsIDs: []primitive.ObjectID{b.ID}},
	}
	require.NoError(t, r.PopulateMany(context.Background(), posts, "Editors"))
	assert.Equal(t, 1, src.byIDs)
	assert.Equal(t, []*Author{a, b}, posts[0].Editors)
	assert.Equal(t, []*Author{b}, posts[1].Editors)
}

func TestPopulateMany_EmptyAndInvalid(t *testing.T) {
	src := newSource()
	r := newResolver(t, src)

	require.NoError(t, r.PopulateMany(context.Background(), []*Post{}, "Author"))
	require.NoError(t, r.PopulateMany(context.Background(), []*Post{{}}, "Author"))
	assert.Zero(t, src.byIDs)

	err := r.PopulateMany(context.Background(), &Post{}, "Author")
	assert.ErrorIs(t, err, ErrInvalidEntities)

	err = r.PopulateMany(context.Background(), []Post{{}}, "Author")
	assert.ErrorIs(t, err, ErrInvalidEntities)

	err = r.PopulateMany(context.Background(), []*Post{{}}, "Nope")
	assert.ErrorIs(t, err, ErrUnknownReference)
}
