package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite_UpdateResult(t *testing.T) {
	var none *Write
	assert.Equal(t, &UpdateResult{}, none.UpdateResult())

	inserted := &Write{After: Document{IDKey: "a"}}
	assert.Equal(t, &UpdateResult{UpsertedID: "a"}, inserted.UpdateResult())

	same := &Write{Before: Document{IDKey: "a", "n": 1}, After: Document{IDKey: "a", "n": 1}}
	assert.Equal(t, &UpdateResult{MatchedCount: 1}, same.UpdateResult())

	changed := &Write{Before: Document{IDKey: "a", "n": 1}, After: Document{IDKey: "a", "n": 2}}
	assert.Equal(t, &UpdateResult{MatchedCount: 1, ModifiedCount: 1}, changed.UpdateResult())
}

func TestPlanReplace(t *testing.T) {
	docs := []Document{{IDKey: "a", "n": 1}}

	w, err := PlanReplace("c", docs, nil, Document{IDKey: "a"}, Document{"n": 2}, false)
	require.NoError(t, err)
	assert.Equal(t, Document{IDKey: "a", "n": 2}, w.After)

	_, err = PlanReplace("c", docs, nil, Document{IDKey: "a"}, Document{"$set": Document{"n": 2}}, false)
	assert.ErrorIs(t, err, ErrInvalidUpdate)

	_, err = PlanReplace("c", docs, nil, Document{IDKey: "a"}, Document{IDKey: "b"}, false)
	assert.ErrorIs(t, err, ErrInvalidUpdate)

	w, err = PlanReplace("c", docs, nil, Document{IDKey: "z"}, Document{"n": 3}, false)
	require.NoError(t, err)
	assert.Nil(t, w)

	w, err = PlanReplace("c", docs, nil, Document{IDKey: "z"}, Document{"n": 3}, true)
	require.NoError(t, err)
	assert.True(t, w.Inserted())
	assert.Equal(t, "z", w.ID())
}

func TestPlanUpdate_ImmutableID(t *testing.T) {
	docs := []Document{{IDKey: "a"}}
	_, err := PlanUpdate("c", docs, nil, Document{IDKey: "a"}, Document{"$set": Document{IDKey: "b"}}, false, nil)
	assert.ErrorIs(t, err, ErrInvalidUpdate)
}

func TestPlanDelete(t *testing.T) {
	docs := []Document{{IDKey: "a", "n": 1}, {IDKey: "b", "n": 2}}

	w, err := PlanDelete(docs, nil, []SortField{{Key: "n", Direction: -1}})
	require.NoError(t, err)
	assert.Equal(t, "b", w.ID())
	assert.Nil(t, w.After)

	w, err = PlanDelete(docs, Document{"n": 9}, nil)
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestMergeIndexes(t *testing.T) {
	existing := []IndexSpec{{Name: "a_1", Keys: []IndexKey{{Field: "a", Value: 1}}}}
	merged, names := MergeIndexes(existing, []IndexSpec{
		{Keys: []IndexKey{{Field: "a", Value: 1}}, Options: IndexOptions{Unique: true}},
		{Keys: []IndexKey{{Field: "b", Value: -1}, {Field: "c", Value: "text"}}},
	})

	assert.Equal(t, []string{"a_1", "b_-1_c_text"}, names)
	require.Len(t, merged, 2)
	assert.True(t, merged[0].Options.Unique)
	assert.False(t, existing[0].Options.Unique)
}
