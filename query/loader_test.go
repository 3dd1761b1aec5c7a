package query

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expandkit/expandkit/schema"
)

func TestLoadBelongsToBatches(t *testing.T) {
	db, mock := setupTestDB(t)
	reg := setupTestRegistry(t)
	loader := NewLoader(db, reg)

	records := []map[string]interface{}{
		{"id": int64(1), "name": "Tyrell", "organization_id": int64(10)},
		{"id": int64(2), "name": "Wallace", "organization_id": int64(10)},
		{"id": int64(3), "name": "Niander", "organization_id": nil},
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "organizations" WHERE "id" = ANY($1)`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(10, "Acme"))

	err := loader.Load(context.Background(), records, "Owner", []Prefetch{{Relation: "organization"}})
	require.NoError(t, err)

	org, ok := records[0]["organization"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Acme", org["name"])
	assert.Equal(t, records[0]["organization"], records[1]["organization"])
	assert.Nil(t, records[2]["organization"])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadHasManyGroups(t *testing.T) {
	db, mock := setupTestDB(t)
	reg := setupTestRegistry(t)
	loader := NewLoader(db, reg)

	records := []map[string]interface{}{
		{"id": int64(1), "name": "Tyrell"},
		{"id": int64(2), "name": "Wallace"},
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "pets" WHERE "owner_id" = ANY($1)`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "owner_id"}).
			AddRow(1, "Rex", 1).
			AddRow(2, "Boo", 1))

	err := loader.Load(context.Background(), records, "Owner", []Prefetch{{Relation: "pets"}})
	require.NoError(t, err)

	pets, ok := records[0]["pets"].([]map[string]interface{})
	require.True(t, ok)
	assert.Len(t, pets, 2)

	// childless parents get an empty list, not nil
	empty, ok := records[1]["pets"].([]map[string]interface{})
	require.True(t, ok)
	assert.Empty(t, empty)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadHasOneKeepsFirst(t *testing.T) {
	db, mock := setupTestDB(t)
	reg := setupTestRegistry(t)
	loader := NewLoader(db, reg)

	records := []map[string]interface{}{
		{"id": int64(1), "name": "Tyrell"},
		{"id": int64(2), "name": "Wallace"},
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "licenses" WHERE "owner_id" = ANY($1)`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "number", "owner_id"}).
			AddRow(1, "L-1", 1).
			AddRow(2, "L-2", 1))

	err := loader.Load(context.Background(), records, "Owner", []Prefetch{{Relation: "license"}})
	require.NoError(t, err)

	license, ok := records[0]["license"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "L-1", license["number"])
	assert.Nil(t, records[1]["license"])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadThroughSingleQuery(t *testing.T) {
	db, mock := setupTestDB(t)
	reg := setupTestRegistry(t)
	loader := NewLoader(db, reg)

	records := []map[string]interface{}{
		{"id": int64(1), "name": "Tyrell"},
		{"id": int64(2), "name": "Wallace"},
	}

	expected := `SELECT t0."id" AS "id", t0."variant" AS "variant", t0."model_id" AS "model_id", ` +
		`jt."owner_id" AS "__parent_id" FROM "skus" t0 ` +
		`JOIN "ownerships" jt ON jt."sku_id" = t0."id" WHERE jt."owner_id" = ANY($1)`
	mock.ExpectQuery(regexp.QuoteMeta(expected)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "variant", "model_id", "__parent_id"}).
			AddRow(101, "red", 50, 1).
			AddRow(102, "blue", 50, 1).
			AddRow(101, "red", 50, 2))

	err := loader.Load(context.Background(), records, "Owner", []Prefetch{{Relation: "cars"}})
	require.NoError(t, err)

	cars, ok := records[0]["cars"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, cars, 2)
	assert.NotContains(t, cars[0], "__parent_id")

	shared, ok := records[1]["cars"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, shared, 1)
	assert.Equal(t, "red", shared[0]["variant"])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadDottedPathWalksNestedRecords(t *testing.T) {
	db, mock := setupTestDB(t)
	reg := setupTestRegistry(t)
	loader := NewLoader(db, reg)

	model := map[string]interface{}{"id": int64(50), "name": "Roadster", "manufacturer_id": int64(5)}
	records := []map[string]interface{}{
		{"id": int64(101), "variant": "red", "model_id": int64(50), "model": model},
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "manufacturers" WHERE "id" = ANY($1)`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(5, "Initech"))

	err := loader.Load(context.Background(), records, "Sku", []Prefetch{{Relation: "model.manufacturer"}})
	require.NoError(t, err)

	maker, ok := model["manufacturer"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Initech", maker["name"])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadWithCustomPrefetchQuery(t *testing.T) {
	db, mock := setupTestDB(t)
	reg := setupTestRegistry(t)
	loader := NewLoader(db, reg)

	records := []map[string]interface{}{{"id": int64(1)}}

	inner, err := loader.Builder("Pet")
	require.NoError(t, err)
	inner.Where("name", OpLike, "R%")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "pets" WHERE "name" LIKE $1 AND "owner_id" = ANY($2)`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "owner_id"}).AddRow(1, "Rex", 1))

	err = loader.Load(context.Background(), records, "Owner", []Prefetch{{Relation: "pets", Query: inner}})
	require.NoError(t, err)

	pets, ok := records[0]["pets"].([]map[string]interface{})
	require.True(t, ok)
	assert.Len(t, pets, 1)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchRelatedBelongsTo(t *testing.T) {
	db, mock := setupTestDB(t)
	reg := setupTestRegistry(t)
	loader := NewLoader(db, reg)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "organizations" WHERE "id" = $1 LIMIT $2`)).
		WithArgs(int64(10), 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(10, "Acme"))

	rec := map[string]interface{}{"id": int64(1), "organization_id": int64(10)}
	value, err := loader.FetchRelated(context.Background(), "Owner", "organization", rec)
	require.NoError(t, err)

	org, ok := value.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Acme", org["name"])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchRelatedNilForeignKey(t *testing.T) {
	db, mock := setupTestDB(t)
	reg := setupTestRegistry(t)
	loader := NewLoader(db, reg)

	rec := map[string]interface{}{"id": int64(1), "organization_id": nil}
	value, err := loader.FetchRelated(context.Background(), "Owner", "organization", rec)
	require.NoError(t, err)
	assert.Nil(t, value)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchRelatedMissingRowIsNil(t *testing.T) {
	db, mock := setupTestDB(t)
	reg := setupTestRegistry(t)
	loader := NewLoader(db, reg)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "organizations" WHERE "id" = $1 LIMIT $2`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	rec := map[string]interface{}{"id": int64(1), "organization_id": int64(99)}
	value, err := loader.FetchRelated(context.Background(), "Owner", "organization", rec)
	require.NoError(t, err)
	assert.Nil(t, value)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchRelatedHasMany(t *testing.T) {
	db, mock := setupTestDB(t)
	reg := setupTestRegistry(t)
	loader := NewLoader(db, reg)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "pets" WHERE "owner_id" = $1`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "owner_id"}).
			AddRow(1, "Rex", 1))

	rec := map[string]interface{}{"id": int64(1)}
	value, err := loader.FetchRelated(context.Background(), "Owner", "pets", rec)
	require.NoError(t, err)

	pets, ok := value.([]map[string]interface{})
	require.True(t, ok)
	assert.Len(t, pets, 1)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchRelatedThrough(t *testing.T) {
	db, mock := setupTestDB(t)
	reg := setupTestRegistry(t)
	loader := NewLoader(db, reg)

	mock.ExpectQuery(`JOIN "ownerships" jt`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "variant", "model_id", "__parent_id"}).
			AddRow(101, "red", 50, 1))

	rec := map[string]interface{}{"id": int64(1)}
	value, err := loader.FetchRelated(context.Background(), "Owner", "cars", rec)
	require.NoError(t, err)

	cars, ok := value.([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, cars, 1)
	assert.NotContains(t, cars[0], "__parent_id")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchRelatedUnknownRelation(t *testing.T) {
	db, _ := setupTestDB(t)
	reg := setupTestRegistry(t)
	loader := NewLoader(db, reg)

	_, err := loader.FetchRelated(context.Background(), "Owner", "ghost", map[string]interface{}{})
	assert.ErrorIs(t, err, ErrUnknownRelation)
}

func TestLoaderRelation(t *testing.T) {
	db, _ := setupTestDB(t)
	reg := setupTestRegistry(t)
	loader := NewLoader(db, reg)

	target, toMany, ok := loader.Relation("Owner", "organization")
	require.True(t, ok)
	assert.Equal(t, "Organization", target)
	assert.False(t, toMany)

	target, toMany, ok = loader.Relation("Owner", "cars")
	require.True(t, ok)
	assert.Equal(t, "Sku", target)
	assert.True(t, toMany)

	_, _, ok = loader.Relation("Owner", "ghost")
	assert.False(t, ok)
}

func TestLoaderPrimaryKey(t *testing.T) {
	db, _ := setupTestDB(t)
	reg := setupTestRegistry(t)
	loader := NewLoader(db, reg)

	badge := schema.NewEntity("Badge").
		AddField(&schema.Field{Name: "code", Type: schema.TypeString, Primary: true})
	require.NoError(t, reg.Register(badge))

	assert.Equal(t, "id", loader.PrimaryKey("Owner"))
	assert.Equal(t, "code", loader.PrimaryKey("Badge"))
	assert.Equal(t, "id", loader.PrimaryKey("Ghost"))
}

func TestFindByID(t *testing.T) {
	db, mock := setupTestDB(t)
	reg := setupTestRegistry(t)
	loader := NewLoader(db, reg)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "owners" WHERE "id" = $1 LIMIT $2`)).
		WithArgs(int64(1), 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "organization_id"}).
			AddRow(1, "Tyrell", 10))

	record, err := loader.FindByID(context.Background(), "Owner", int64(1))
	require.NoError(t, err)
	assert.Equal(t, "Tyrell", record["name"])
	require.NoError(t, mock.ExpectationsWereMet())
}
