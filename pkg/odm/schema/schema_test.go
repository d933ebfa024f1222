package schema

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/conduit-lang/docmap/pkg/odm/store"
)

type address struct {
	Street string
	Secret string `odm:"secret,ignore"`
}

type author struct {
	ID   primitive.ObjectID `odm:"_id"`
	Name string             `odm:"name,index,unique"`
}

type post struct {
	ID         primitive.ObjectID   `odm:"_id,id"`
	Title      string               `odm:"title,index=-1"`
	Author     *author              `odm:"author,ref"`
	AuthorID   primitive.ObjectID   `odm:"authorID,objectid"`
	Editors    []*author            `odm:"editors,ref=Reviewers"`
	Reviewers  []primitive.ObjectID `odm:"reviewers,objectid"`
	Address    *address             `odm:"address,nested"`
	History    []*address           `odm:"history,nested"`
	Draft      string               `odm:"-"`
	Expires    int64                `odm:"expires,ttl=3600"`
	unexported string
}

type named struct {
	Name string `odm:"name"`
	Age  int
}

func TestRegistry_DefineAndGet(t *testing.T) {
	reg := NewRegistry()
	typ := reflect.TypeOf(named{})

	assert.Equal(t, "", reg.Get(KindID, typ))
	assert.Empty(t, reg.Get(KindRefs, typ))
	assert.Empty(t, reg.Get(KindNested, typ))
	assert.Empty(t, reg.Get(KindIndexes, typ))
	assert.False(t, reg.Declared(typ))

	require.NoError(t, reg.Define(KindID, typ, "Age"))
	require.NoError(t, reg.Define(KindID, typ, "Name"))
	assert.Equal(t, "Name", reg.Get(KindID, typ))

	require.NoError(t, reg.Define(KindIgnore, typ, "A"))
	require.NoError(t, reg.Define(KindIgnore, typ, "B"))
	assert.Equal(t, map[string]bool{"A": true, "B": true}, reg.Get(KindIgnore, typ))

	require.NoError(t, reg.Define(KindIndexes, typ, store.IndexSpec{Name: "a", Keys: []store.IndexKey{{Field: "a", Value: 1}}}))
	require.NoError(t, reg.Define(KindIndexes, typ, store.IndexSpec{Name: "b", Keys: []store.IndexKey{{Field: "b", Value: 1}}}))
	assert.Len(t, reg.Get(KindIndexes, typ), 2)

	require.NoError(t, reg.Define(KindRefs, typ, Ref{Name: "X", Shadow: "XID"}))
	require.NoError(t, reg.Define(KindRefs, typ, Ref{Name: "X", Shadow: "Other"}))
	require.NoError(t, reg.Define(KindRefs, typ, Ref{Name: "Y", Shadow: "YID"}))
	refs := reg.Get(KindRefs, typ).(map[string]Ref)
	assert.Len(t, refs, 2)
	assert.Equal(t, "Other", refs["X"].Shadow)

	assert.True(t, reg.Declared(reflect.TypeOf(&named{})))

	err := reg.Define(KindID, typ, 42)
	assert.Error(t, err)
	err = reg.Define(Kind("odm:other"), typ, "x")
	assert.Error(t, err)
}

func TestRegistry_SchemaSnapshotInvalidated(t *testing.T) {
	reg := NewRegistry()
	typ := reflect.TypeOf(named{})

	s := reg.Schema(typ)
	assert.Nil(t, s.ID)

	require.NoError(t, reg.Define(KindID, typ, "Name"))
	s = reg.Schema(reflect.PointerTo(typ))
	require.NotNil(t, s.ID)
	assert.Equal(t, "name", s.ID.Key)
}

func TestDeclare_Tags(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, Declare[post](reg))

	s := reg.Schema(reflect.TypeOf(post{}))
	require.NotNil(t, s.ID)
	assert.Equal(t, "ID", s.ID.Name)
	assert.Equal(t, "_id", s.ID.Key)

	ref, ok := reg.Ref(reflect.TypeOf(post{}), "Author")
	require.True(t, ok)
	assert.Equal(t, "AuthorID", ref.Shadow)
	assert.Equal(t, "authorID", ref.ShadowKey)
	assert.False(t, ref.Array)
	assert.Equal(t, reflect.TypeOf(author{}), ref.Target)

	ref, ok = reg.Ref(reflect.TypeOf(post{}), "editors")
	require.True(t, ok)
	assert.Equal(t, "Reviewers", ref.Shadow)
	assert.True(t, ref.Array)

	require.Contains(t, s.Nested, "Address")
	assert.False(t, s.Nested["Address"].Array)
	assert.Equal(t, reflect.TypeOf(address{}), s.Nested["Address"].ElemType())
	assert.True(t, s.Nested["History"].Array)

	assert.True(t, s.Ignored["Draft"])
	_, ok = s.Field("unexported")
	assert.False(t, ok)

	idx := reg.Indexes(reflect.TypeOf(post{}))
	require.Len(t, idx, 2)
	assert.Equal(t, "title", idx[0].Name)
	assert.Equal(t, []store.IndexKey{{Field: "title", Value: -1}}, idx[0].Keys)
	assert.Equal(t, "expires", idx[1].Name)
	require.NotNil(t, idx[1].Options.ExpireAfterSeconds)
	assert.Equal(t, int32(3600), *idx[1].Options.ExpireAfterSeconds)

	// related types are declared from their own tags
	assert.True(t, reg.Schema(reflect.TypeOf(address{})).Ignored["Secret"])
	authorID, ok := reg.IDField(reflect.TypeOf(author{}))
	require.True(t, ok)
	assert.Equal(t, "ID", authorID.Name)
	authorIdx := reg.Indexes(reflect.TypeOf(author{}))
	require.Len(t, authorIdx, 1)
	assert.True(t, authorIdx[0].Options.Unique)
}

func TestDeclare_InvalidTag(t *testing.T) {
	type bad struct {
		Name string `odm:"name,bogus"`
	}
	err := Declare[bad](NewRegistry())
	assert.ErrorIs(t, err, ErrInvalidTag)

	type badTTL struct {
		At int `odm:"at,ttl=soon"`
	}
	err = Declare[badTTL](NewRegistry())
	assert.ErrorIs(t, err, ErrInvalidTag)
}

func TestBuilder_Errors(t *testing.T) {
	type sample struct {
		ID       primitive.ObjectID
		Name     string
		Tags     []string
		Owner    *author
		Editor   author
		EditorID primitive.ObjectID
		Payload  any
		Count    int
	}

	tests := []struct {
		name  string
		build func(b *Builder) *Builder
		want  error
	}{
		{"unknown field", func(b *Builder) *Builder { return b.ID("Missing") }, ErrUnknownField},
		{"nested primitive", func(b *Builder) *Builder { return b.Nested("Name", nil) }, ErrPrimitiveRole},
		{"nested primitive slice", func(b *Builder) *Builder { return b.Nested("Tags", nil) }, ErrPrimitiveRole},
		{"nested identity type", func(b *Builder) *Builder { return b.Nested("ID", nil) }, ErrPrimitiveRole},
		{"nested interface without type", func(b *Builder) *Builder { return b.Nested("Payload", nil) }, ErrNestedTypeUnresolved},
		{"ref primitive", func(b *Builder) *Builder { return b.Ref("Count", "") }, ErrPrimitiveRole},
		{"ref missing shadow", func(b *Builder) *Builder { return b.Ref("Owner", "") }, ErrMissingShadowField},
		{"ref struct value", func(b *Builder) *Builder { return b.Ref("Editor", "") }, ErrValueReference},
		{"objectid on string", func(b *Builder) *Builder { return b.ObjectID("Name") }, ErrInvalidObjectID},
		{"index without field", func(b *Builder) *Builder { return b.Index("", 1, store.IndexOptions{}) }, ErrIndexWithoutField},
		{"class index without keys", func(b *Builder) *Builder { return b.Indexes(store.IndexSpec{Name: "x"}) }, ErrIndexWithoutField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			err := tt.build(For[sample](reg)).Register()
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, reg.Declared(reflect.TypeOf(sample{})))
		})
	}

	err := For[int](NewRegistry()).Register()
	assert.ErrorIs(t, err, ErrNotStruct)
}

func TestDeclare_ValueReference(t *testing.T) {
	type note struct {
		ID       primitive.ObjectID `odm:"_id,id"`
		Author   author             `odm:"author,ref"`
		AuthorID primitive.ObjectID `odm:"authorId"`
	}

	reg := NewRegistry()
	err := Declare[note](reg)
	assert.ErrorIs(t, err, ErrValueReference)
	assert.False(t, reg.Declared(reflect.TypeOf(note{})))
}

func TestBuilder_Register(t *testing.T) {
	type node struct {
		Name     string
		Children []*node
		Payload  any
	}

	reg := NewRegistry()
	err := For[node](reg).
		ID("Name").
		Nested("Children", nil).
		Nested("Payload", TypeOf[address]()).
		Index("Name", nil, store.IndexOptions{Unique: true}).
		Indexes(store.IndexSpec{Keys: []store.IndexKey{{Field: "name", Value: 1}, {Field: "payload.street", Value: -1}}}).
		Register()
	require.NoError(t, err)

	s := reg.Schema(reflect.TypeOf(node{}))
	assert.Equal(t, "Name", s.ID.Name)
	assert.Equal(t, reflect.TypeOf(node{}), s.Nested["Children"].ElemType())
	assert.Equal(t, reflect.TypeOf(address{}), s.Nested["Payload"].ElemType())

	idx := reg.Indexes(reflect.TypeOf(node{}))
	require.Len(t, idx, 2)
	assert.Equal(t, "name", idx[0].Name)
	assert.Equal(t, "_id", idx[0].Keys[0].Field, "identity key is stored under _id")
	assert.Equal(t, 1, idx[0].Keys[0].Value)
	assert.Equal(t, "_id_1_payload.street_-1", idx[1].Name)

	idx[0].Options.Background = true
	idx[0].Keys[0].Field = "changed"
	again := reg.Indexes(reflect.TypeOf(node{}))
	assert.False(t, again[0].Options.Background)
	assert.Equal(t, "_id", again[0].Keys[0].Field)
}

func TestFieldsOf(t *testing.T) {
	type base struct {
		CreatedAt int64
	}
	type withBase struct {
		base
		ID      string `bson:"_id"`
		URLPath string
		Hidden  string `bson:"-"`
	}

	fields := FieldsOf(reflect.TypeOf(withBase{}))
	keys := make(map[string]string)
	for _, f := range fields {
		keys[f.Name] = f.Key
	}
	assert.Equal(t, map[string]string{
		"CreatedAt": "createdAt",
		"ID":        "_id",
		"URLPath":   "urlPath",
		"Hidden":    "hidden",
	}, keys)

	f, ok := findField(fields, "Hidden")
	require.True(t, ok)
	assert.True(t, f.Skip)
}

func TestDefaultKey(t *testing.T) {
	for in, want := range map[string]string{
		"Name":     "name",
		"ID":       "id",
		"AuthorID": "authorID",
		"URLPath":  "urlPath",
		"age":      "age",
	} {
		assert.Equal(t, want, defaultKey(in), in)
	}
}
