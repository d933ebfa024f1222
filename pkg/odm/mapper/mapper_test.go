package mapper

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/conduit-lang/docmap/pkg/odm/schema"
	"github.com/conduit-lang/docmap/pkg/odm/store"
)

type Address struct {
	Street string `odm:"street"`
	City   string `odm:"city"`
	Note   string `odm:"note,ignore"`
}

type User struct {
	ID         primitive.ObjectID   `odm:"_id,id"`
	Name       string               `odm:"name"`
	Age        int                  `odm:"age"`
	Active     bool                 `odm:"active"`
	Tags       []string             `odm:"tags"`
	Address    *Address             `odm:"address,nested"`
	History    []*Address           `odm:"history,nested"`
	Best       *User                `odm:"best,ref"`
	BestID     primitive.ObjectID   `odm:"bestID,objectid"`
	Friends    []*User              `odm:"friends,ref"`
	FriendsIDs []primitive.ObjectID `odm:"friendsIDs,objectid"`
	Session    string               `odm:"session,ignore"`
	CreatedAt  time.Time            `odm:"createdAt"`
	Meta       map[string]any       `odm:"meta"`
}

type Tag struct {
	Name  string `odm:"name,id"`
	Count int    `odm:"count"`
}

type Node struct {
	Name string `odm:"name"`
	Next *Node  `odm:"next,nested"`
}

type Settings struct {
	Theme string `odm:"theme"`
	Limit int    `odm:"limit"`
}

func (s *Settings) SetDefaults() {
	s.Theme = "dark"
	s.Limit = 10
}

func newMapper(t *testing.T) *Mapper {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, schema.Declare[User](reg))
	require.NoError(t, schema.Declare[Tag](reg))
	require.NoError(t, schema.Declare[Node](reg))
	require.NoError(t, schema.Declare[Settings](reg))
	return New(reg)
}

func TestRoundTrip(t *testing.T) {
	m := newMapper(t)

	u := &User{
		ID:        primitive.NewObjectID(),
		Name:      "tom",
		Age:       15,
		Active:    true,
		Tags:      []string{"a", "b"},
		Address:   &Address{Street: "Main", City: "Springfield"},
		CreatedAt: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		Meta:      map[string]any{"plan": "free"},
	}

	doc, err := m.Dehydrate(u, "_id")
	require.NoError(t, err)

	back, err := HydrateAs[User](m, doc, "_id")
	require.NoError(t, err)
	assert.Equal(t, u, back)

	again, err := m.Dehydrate(back, "_id")
	require.NoError(t, err)
	assert.Equal(t, doc, again)
}

func TestDehydrate_ZeroScalarsStored(t *testing.T) {
	m := newMapper(t)

	doc, err := m.Dehydrate(&User{}, "_id")
	require.NoError(t, err)

	assert.Equal(t, 0, doc["age"])
	assert.Equal(t, false, doc["active"])
	assert.Equal(t, "", doc["name"])
	assert.NotContains(t, doc, store.IDKey, "zero identity is left for the engine to assign")
	assert.NotContains(t, doc, "tags")
	assert.NotContains(t, doc, "address")
	assert.NotContains(t, doc, "bestID")
}

func TestDehydrate_ReferenceShadowing(t *testing.T) {
	m := newMapper(t)
	target := &User{ID: primitive.NewObjectID(), Name: "target"}

	e := &User{Name: "e", Best: target}
	doc, err := m.Dehydrate(e, "_id")
	require.NoError(t, err)

	assert.Equal(t, target.ID, doc["bestID"])
	assert.NotContains(t, doc, "best")
	assert.Equal(t, target.ID, e.BestID, "shadow field is written back to the entity")
}

func TestDehydratePure_DoesNotMutate(t *testing.T) {
	m := newMapper(t)
	target := &User{ID: primitive.NewObjectID()}

	e := &User{Best: target, Friends: []*User{target}}
	doc, err := m.DehydratePure(e, "_id")
	require.NoError(t, err)

	assert.Equal(t, target.ID, doc["bestID"])
	assert.Equal(t, []any{target.ID}, doc["friendsIDs"])
	assert.True(t, e.BestID.IsZero())
	assert.Nil(t, e.FriendsIDs)
}

func TestDehydrate_ArrayReferenceShadowing(t *testing.T) {
	m := newMapper(t)
	t1 := &User{ID: primitive.NewObjectID()}
	t2 := &User{ID: primitive.NewObjectID()}

	e := &User{Friends: []*User{t1, t2}}
	doc, err := m.Dehydrate(e, "_id")
	require.NoError(t, err)

	assert.Equal(t, []any{t1.ID, t2.ID}, doc["friendsIDs"])
	assert.NotContains(t, doc, "friends")
	assert.Equal(t, []primitive.ObjectID{t1.ID, t2.ID}, e.FriendsIDs)
}

func TestDehydrate_UnsetReferenceKeepsShadow(t *testing.T) {
	m := newMapper(t)
	existing := primitive.NewObjectID()

	e := &User{BestID: existing}
	doc, err := m.Dehydrate(e, "_id")
	require.NoError(t, err)
	assert.Equal(t, existing, doc["bestID"])
}

func TestIgnore(t *testing.T) {
	m := newMapper(t)

	doc, err := m.Dehydrate(&User{Session: "secret", Address: &Address{Note: "private"}}, "_id")
	require.NoError(t, err)
	assert.NotContains(t, doc, "session")
	assert.NotContains(t, doc["address"], "note")

	u, err := HydrateAs[User](m, store.Document{
		"session": "x",
		"address": store.Document{"note": "y", "street": "Main"},
	}, "_id")
	require.NoError(t, err)
	assert.Empty(t, u.Session)
	assert.Empty(t, u.Address.Note)
	assert.Equal(t, "Main", u.Address.Street)
}

func TestNestedNullSafety(t *testing.T) {
	m := newMapper(t)

	doc, err := m.Dehydrate(&User{History: []*Address{nil, nil}}, "_id")
	require.NoError(t, err)
	assert.Equal(t, []any{nil, nil}, doc["history"])

	u, err := HydrateAs[User](m, doc, "_id")
	require.NoError(t, err)
	assert.Equal(t, []*Address{nil, nil}, u.History)

	doc, err = m.Dehydrate(&User{History: []*Address{{Street: "a"}, nil}}, "_id")
	require.NoError(t, err)
	assert.Equal(t, []any{store.Document{"street": "a", "city": ""}, nil}, doc["history"])
}

func TestDehydrate_ZeroIdentityOmitted(t *testing.T) {
	m := newMapper(t)

	doc, err := m.Dehydrate(&Tag{Count: 2}, "name")
	require.NoError(t, err)
	assert.Equal(t, store.Document{"count": 2}, doc)

	doc, err = m.DehydratePure(&Tag{Count: 2}, "_id")
	require.NoError(t, err)
	assert.NotContains(t, doc, "name")
}

func TestNewIdentity(t *testing.T) {
	type counter struct {
		ID int `odm:"_id,id"`
	}
	m := newMapper(t)
	require.NoError(t, schema.Declare[counter](m.Registry()))

	id, err := m.NewIdentity(reflect.TypeOf(User{}))
	require.NoError(t, err)
	assert.Nil(t, id, "ObjectID identities are assigned by the engine")

	id, err = m.NewIdentity(reflect.TypeOf(&Tag{}))
	require.NoError(t, err)
	hex, ok := id.(string)
	require.True(t, ok)
	assert.True(t, primitive.IsValidObjectID(hex))

	_, err = m.NewIdentity(reflect.TypeOf(counter{}))
	assert.ErrorIs(t, err, ErrIdentityNotGenerated)

	_, err = m.NewIdentity(reflect.TypeOf(Address{}))
	assert.ErrorIs(t, err, schema.ErrMissingIdentity)
}

func TestIdentityAliasing(t *testing.T) {
	m := newMapper(t)

	doc, err := m.Dehydrate(&Tag{Name: "go", Count: 3}, "name")
	require.NoError(t, err)
	assert.Equal(t, store.Document{"_id": "go", "count": 3}, doc)

	tag, err := HydrateAs[Tag](m, doc, "name")
	require.NoError(t, err)
	assert.Equal(t, &Tag{Name: "go", Count: 3}, tag)
	assert.Equal(t, store.Document{"_id": "go", "count": 3}, doc, "input document is not modified")
}

func TestHydrate_Nil(t *testing.T) {
	m := newMapper(t)

	v, err := m.Hydrate(nil, reflect.TypeOf(User{}), "_id")
	require.NoError(t, err)
	assert.Nil(t, v)

	u, err := HydrateAs[User](m, nil, "_id")
	require.NoError(t, err)
	assert.Nil(t, u)

	doc, err := m.Dehydrate(nil, "_id")
	require.NoError(t, err)
	assert.Nil(t, doc)

	var none *User
	doc, err = m.Dehydrate(none, "_id")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestHydrate_DriverTypes(t *testing.T) {
	m := newMapper(t)
	id := primitive.NewObjectID()
	when := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	u, err := HydrateAs[User](m, store.Document{
		"_id":        id.Hex(),
		"age":        int32(15),
		"tags":       primitive.A{"x"},
		"address":    primitive.M{"street": "Elm"},
		"history":    primitive.A{primitive.D{{Key: "city", Value: "Paris"}}},
		"friendsIDs": primitive.A{id},
		"createdAt":  primitive.NewDateTimeFromTime(when),
		"meta":       primitive.M{"nested": primitive.M{"k": 1}},
	}, "_id")
	require.NoError(t, err)

	assert.Equal(t, id, u.ID)
	assert.Equal(t, 15, u.Age)
	assert.Equal(t, []string{"x"}, u.Tags)
	assert.Equal(t, "Elm", u.Address.Street)
	require.Len(t, u.History, 1)
	assert.Equal(t, "Paris", u.History[0].City)
	assert.Equal(t, []primitive.ObjectID{id}, u.FriendsIDs)
	assert.True(t, when.Equal(u.CreatedAt))
	assert.Equal(t, store.Document{"k": 1}, u.Meta["nested"])
	assert.Nil(t, u.Best, "references are never resolved on hydration")
}

func TestHydrate_ConversionError(t *testing.T) {
	m := newMapper(t)

	_, err := HydrateAs[User](m, store.Document{"age": "old"}, "_id")
	assert.Error(t, err)

	_, err = HydrateAs[User](m, store.Document{"address": "nowhere"}, "_id")
	assert.Error(t, err)
}

func TestMaxDepth(t *testing.T) {
	m := newMapper(t)

	n := &Node{Name: "loop"}
	n.Next = n
	_, err := m.Dehydrate(n, "")
	assert.ErrorIs(t, err, ErrMaxDepthExceeded)

	doc := store.Document{"name": "leaf"}
	for i := 0; i < MaxDepth+2; i++ {
		doc = store.Document{"name": "n", "next": doc}
	}
	_, err = HydrateAs[Node](m, doc, "")
	assert.ErrorIs(t, err, ErrMaxDepthExceeded)
}

func TestDefaulter(t *testing.T) {
	m := newMapper(t)

	s, err := HydrateAs[Settings](m, store.Document{"theme": "light"}, "")
	require.NoError(t, err)
	assert.Equal(t, &Settings{Theme: "light", Limit: 10}, s)
}

func TestIdentity(t *testing.T) {
	m := newMapper(t)

	u := &User{}
	_, set, err := m.IdentityOf(u)
	require.NoError(t, err)
	assert.False(t, set)

	id := primitive.NewObjectID()
	require.NoError(t, m.SetIdentity(u, id))
	got, set, err := m.IdentityOf(u)
	require.NoError(t, err)
	assert.True(t, set)
	assert.Equal(t, id, got)

	tag := &Tag{}
	require.NoError(t, m.SetIdentity(tag, "go"))
	assert.Equal(t, "go", tag.Name)

	err = m.SetIdentity(Tag{}, "go")
	assert.ErrorIs(t, err, ErrNotEntity)

	_, _, err = m.IdentityOf(&Settings{})
	assert.ErrorIs(t, err, schema.ErrMissingIdentity)
}
