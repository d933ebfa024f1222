package sqldoc

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/conduit-lang/docmap/pkg/odm/store"
)

func setupPostgres(t *testing.T) (*Database, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "docmap_indexes"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "users" (seq BIGSERIAL, id TEXT PRIMARY KEY, doc JSONB NOT NULL)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	return New(db, Postgres{}), mock
}

func expectSnapshot(mock sqlmock.Sqlmock, docs *sqlmock.Rows, specs *sqlmock.Rows) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`LOCK TABLE "users" IN SHARE ROW EXCLUSIVE MODE`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc FROM "users" ORDER BY seq`)).WillReturnRows(docs)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT spec FROM "docmap_indexes" WHERE collection = $1 ORDER BY name`)).
		WithArgs("users").
		WillReturnRows(specs)
}

func TestPostgres_InsertOne(t *testing.T) {
	db, mock := setupPostgres(t)
	id := primitive.NewObjectID()

	expectSnapshot(mock, sqlmock.NewRows([]string{"doc"}), sqlmock.NewRows([]string{"spec"}))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "users" (id, doc) VALUES ($1, $2)`)).
		WithArgs(id.Hex(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	got, err := db.Collection("users").InsertOne(context.Background(), store.Document{"_id": id, "name": "tom"})
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DuplicateRollsBack(t *testing.T) {
	db, mock := setupPostgres(t)

	expectSnapshot(mock,
		sqlmock.NewRows([]string{"doc"}).AddRow(`{"_id":"tom","login":"tom"}`),
		sqlmock.NewRows([]string{"spec"}).AddRow(`{"name":"login","keys":[{"field":"login","value":1}],"options":{"unique":true}}`))
	mock.ExpectRollback()

	_, err := db.Collection("users").InsertOne(context.Background(), store.Document{"_id": "ann", "login": "tom"})
	require.Error(t, err)
	assert.True(t, store.IsDuplicateKey(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateOne(t *testing.T) {
	db, mock := setupPostgres(t)

	expectSnapshot(mock,
		sqlmock.NewRows([]string{"doc"}).AddRow(`{"_id":"tom","age":1}`),
		sqlmock.NewRows([]string{"spec"}))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "users" SET doc = $1 WHERE id = $2`)).
		WithArgs(sqlmock.AnyArg(), "tom").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := db.Collection("users").UpdateOne(context.Background(),
		store.Document{"_id": "tom"}, store.Document{"$inc": store.Document{"age": 1}}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.MatchedCount)
	assert.Equal(t, int64(1), res.ModifiedCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FindByIDs(t *testing.T) {
	db, mock := setupPostgres(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc FROM "users" WHERE id = ANY($1) ORDER BY seq`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).
			AddRow(`{"_id":"a","name":"ann"}`).
			AddRow(`{"_id":"b","name":"bob"}`))

	cur, err := db.Collection("users").Find(context.Background(),
		store.Document{"_id": store.Document{"$in": []any{"a", "b"}}}, nil)
	require.NoError(t, err)

	var names []string
	for cur.Next(context.Background()) {
		doc, err := cur.Decode()
		require.NoError(t, err)
		names = append(names, doc["name"].(string))
	}
	assert.Equal(t, []string{"ann", "bob"}, names)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FindOneAndDelete(t *testing.T) {
	db, mock := setupPostgres(t)

	expectSnapshot(mock,
		sqlmock.NewRows([]string{"doc"}).
			AddRow(`{"_id":"a","rank":1}`).
			AddRow(`{"_id":"b","rank":2}`),
		sqlmock.NewRows([]string{"spec"}))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "users" WHERE id = $1`)).
		WithArgs("b").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	doc, err := db.Collection("users").FindOneAndDelete(context.Background(), nil,
		&store.FindOneAndDeleteOptions{Sort: []store.SortField{{Key: "rank", Direction: -1}}})
	require.NoError(t, err)
	assert.Equal(t, "b", doc["_id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
