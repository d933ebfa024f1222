package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyUpdate_Operators(t *testing.T) {
	doc := Document{"_id": "u1", "name": "tom", "age": 15, "tags": []any{"a"}}

	out, err := ApplyUpdate(doc, Document{
		"$set":   Document{"name": "tim", "settings.colorScheme": "dark"},
		"$inc":   Document{"age": 2},
		"$push":  Document{"tags": "b"},
		"$unset": Document{"missing": ""},
	}, false)
	require.NoError(t, err)

	assert.Equal(t, "tim", out["name"])
	assert.Equal(t, int64(17), out["age"])
	assert.Equal(t, []any{"a", "b"}, out["tags"])
	assert.Equal(t, Document{"colorScheme": "dark"}, out["settings"])

	// input untouched
	assert.Equal(t, "tom", doc["name"])
	assert.Equal(t, []any{"a"}, doc["tags"])
}

func TestApplyUpdate_PushEach(t *testing.T) {
	out, err := ApplyUpdate(Document{}, Document{"$push": Document{"tags": Document{"$each": []any{"x", "y"}}}}, false)
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y"}, out["tags"])
}

func TestApplyUpdate_Replacement(t *testing.T) {
	out, err := ApplyUpdate(Document{"_id": "u1", "name": "tom"}, Document{"age": 3}, false)
	require.NoError(t, err)
	assert.Equal(t, Document{"_id": "u1", "age": 3}, out)
}

func TestApplyUpdate_SetOnInsert(t *testing.T) {
	update := Document{"$setOnInsert": Document{"created": true}}

	out, err := ApplyUpdate(Document{}, update, false)
	require.NoError(t, err)
	assert.NotContains(t, out, "created")

	out, err = ApplyUpdate(Document{}, update, true)
	require.NoError(t, err)
	assert.Equal(t, true, out["created"])
}

func TestApplyUpdate_Errors(t *testing.T) {
	_, err := ApplyUpdate(Document{}, Document{"$rename": Document{"a": "b"}}, false)
	assert.ErrorIs(t, err, ErrUnsupportedOperator)

	_, err = ApplyUpdate(Document{"n": "x"}, Document{"$inc": Document{"n": 1}}, false)
	assert.ErrorIs(t, err, ErrInvalidUpdate)

	_, err = ApplyUpdate(Document{}, Document{"$set": Document{"a": 1}, "b": 2}, false)
	assert.ErrorIs(t, err, ErrInvalidUpdate)
}

func TestUpsertSeed(t *testing.T) {
	seed, err := UpsertSeed(
		Document{"name": "tom", "age": Document{"$gt": 3}, "$or": []any{}},
		Document{"$set": Document{"active": true}},
	)
	require.NoError(t, err)
	assert.Equal(t, Document{"name": "tom", "active": true}, seed)
}
