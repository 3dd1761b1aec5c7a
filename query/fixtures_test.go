package query

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/expandkit/expandkit/schema"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func setupTestRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()

	organization := schema.NewEntity("Organization").
		AddField(&schema.Field{Name: "id", Type: schema.TypeInt, Primary: true}).
		AddField(&schema.Field{Name: "name", Type: schema.TypeString})

	owner := schema.NewEntity("Owner").
		AddField(&schema.Field{Name: "id", Type: schema.TypeInt, Primary: true}).
		AddField(&schema.Field{Name: "name", Type: schema.TypeString}).
		AddField(&schema.Field{Name: "organization_id", Type: schema.TypeInt, Nullable: true}).
		AddRelationship(&schema.Relationship{
			Kind: schema.BelongsTo, Name: "organization", Target: "Organization",
		}).
		AddRelationship(&schema.Relationship{
			Kind: schema.HasMany, Name: "pets", Target: "Pet",
		}).
		AddRelationship(&schema.Relationship{
			Kind: schema.HasOne, Name: "license", Target: "License",
		}).
		AddRelationship(&schema.Relationship{
			Kind: schema.HasManyThrough, Name: "cars", Target: "Sku",
			JoinTable: "ownerships", ForeignKey: "owner_id", AssociationKey: "sku_id",
		})

	pet := schema.NewEntity("Pet").
		AddField(&schema.Field{Name: "id", Type: schema.TypeInt, Primary: true}).
		AddField(&schema.Field{Name: "name", Type: schema.TypeString}).
		AddField(&schema.Field{Name: "owner_id", Type: schema.TypeInt})

	license := schema.NewEntity("License").
		AddField(&schema.Field{Name: "id", Type: schema.TypeInt, Primary: true}).
		AddField(&schema.Field{Name: "number", Type: schema.TypeString}).
		AddField(&schema.Field{Name: "owner_id", Type: schema.TypeInt})

	manufacturer := schema.NewEntity("Manufacturer").
		AddField(&schema.Field{Name: "id", Type: schema.TypeInt, Primary: true}).
		AddField(&schema.Field{Name: "name", Type: schema.TypeString})

	carModel := schema.NewEntity("CarModel").
		AddField(&schema.Field{Name: "id", Type: schema.TypeInt, Primary: true}).
		AddField(&schema.Field{Name: "name", Type: schema.TypeString}).
		AddField(&schema.Field{Name: "manufacturer_id", Type: schema.TypeInt}).
		AddRelationship(&schema.Relationship{
			Kind: schema.BelongsTo, Name: "manufacturer", Target: "Manufacturer",
		})

	sku := schema.NewEntity("Sku").
		AddField(&schema.Field{Name: "id", Type: schema.TypeInt, Primary: true}).
		AddField(&schema.Field{Name: "variant", Type: schema.TypeString}).
		AddField(&schema.Field{Name: "model_id", Type: schema.TypeInt}).
		AddRelationship(&schema.Relationship{
			Kind: schema.BelongsTo, Name: "model", Target: "CarModel",
			ForeignKey: "model_id",
		}).
		AddRelationship(&schema.Relationship{
			Kind: schema.HasManyThrough, Name: "owners", Target: "Owner",
			JoinTable: "ownerships", ForeignKey: "sku_id", AssociationKey: "owner_id",
		})

	for _, e := range []*schema.Entity{organization, owner, pet, license, manufacturer, carModel, sku} {
		require.NoError(t, reg.Register(e))
	}
	return reg
}
