package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMatch(t *testing.T) {
	id := primitive.NewObjectID()
	doc := Document{
		"_id":      id,
		"name":     "tom",
		"age":      int32(15),
		"tags":     []any{"admin", "ops"},
		"settings": Document{"colorScheme": "dark", "perPage": 10},
		"articles": []any{Document{"title": "a"}, Document{"title": "b"}},
	}

	tests := []struct {
		name   string
		filter Document
		want   bool
	}{
		{"nil filter", nil, true},
		{"equality", Document{"name": "tom"}, true},
		{"equality mismatch", Document{"name": "bob"}, false},
		{"numeric across types", Document{"age": 15}, true},
		{"object id", Document{"_id": id}, true},
		{"object id mismatch", Document{"_id": primitive.NewObjectID()}, false},
		{"array membership", Document{"tags": "ops"}, true},
		{"dotted path", Document{"settings.colorScheme": "dark"}, true},
		{"dotted path into array", Document{"articles.title": "b"}, true},
		{"array index path", Document{"articles.0.title": "a"}, true},
		{"$gt", Document{"age": Document{"$gt": 10}}, true},
		{"$lte", Document{"age": Document{"$lte": 14}}, false},
		{"$in", Document{"_id": Document{"$in": []any{primitive.NewObjectID(), id}}}, true},
		{"$nin", Document{"name": Document{"$nin": []any{"tom"}}}, false},
		{"$ne missing field", Document{"missing": Document{"$ne": 1}}, true},
		{"$exists true", Document{"settings": Document{"$exists": true}}, true},
		{"$exists false", Document{"missing": Document{"$exists": false}}, true},
		{"$and", Document{"$and": []any{Document{"name": "tom"}, Document{"age": 15}}}, true},
		{"$or", Document{"$or": []any{Document{"name": "bob"}, Document{"age": 15}}}, true},
		{"$nor", Document{"$nor": []any{Document{"name": "tom"}}}, false},
		{"$not", Document{"age": Document{"$not": Document{"$gt": 20}}}, true},
		{"embedded document equality", Document{"settings": Document{"colorScheme": "dark", "perPage": 10}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Match(doc, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatch_UnsupportedOperator(t *testing.T) {
	_, err := Match(Document{"a": 1}, Document{"$expr": Document{"$gt": []any{"$a", 0}}})
	assert.ErrorIs(t, err, ErrUnsupportedOperator)

	_, err = Match(Document{"a": 1}, Document{"a": Document{"$regex": "x"}})
	assert.ErrorIs(t, err, ErrUnsupportedOperator)
}

func TestMatch_InvalidFilter(t *testing.T) {
	_, err := Match(Document{"a": 1}, Document{"$and": "nope"})
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, err = Match(Document{"a": 1}, Document{"a": Document{"$in": 3}})
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestIDFromFilter(t *testing.T) {
	id := primitive.NewObjectID()

	got, ok := IDFromFilter(Document{"_id": id})
	assert.True(t, ok)
	assert.Equal(t, id, got)

	got, ok = IDFromFilter(Document{"_id": Document{"$eq": id}})
	assert.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = IDFromFilter(Document{"_id": id, "name": "tom"})
	assert.False(t, ok)

	ids, ok := IDsFromFilter(Document{"_id": Document{"$in": []any{id}}})
	assert.True(t, ok)
	assert.Equal(t, []any{id}, ids)
}
