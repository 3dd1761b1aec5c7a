package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSnakeCase(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Owner", "owner"},
		{"CarModel", "car_model"},
		{"HTTPServer", "http_server"},
		{"already_snake", "already_snake"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ToSnakeCase(tt.input))
	}
}

func TestToTableName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Owner", "owners"},
		{"CarModel", "car_models"},
		{"Company", "companies"},
		{"Bus", "buses"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ToTableName(tt.input))
	}
}

func TestEntityFieldOrder(t *testing.T) {
	e := NewEntity("Owner").
		AddField(&Field{Name: "id", Type: TypeInt, Primary: true}).
		AddField(&Field{Name: "name", Type: TypeString}).
		AddField(&Field{Name: "organization_id", Type: TypeInt})

	assert.Equal(t, []string{"id", "name", "organization_id"}, e.FieldNames())
	assert.True(t, e.HasField("name"))
	assert.False(t, e.HasField("email"))
}

func TestEntityPrimaryKey(t *testing.T) {
	withMarker := NewEntity("Owner").
		AddField(&Field{Name: "owner_key", Type: TypeInt, Primary: true}).
		AddField(&Field{Name: "name", Type: TypeString})
	assert.Equal(t, "owner_key", withMarker.PrimaryKey())

	without := NewEntity("Owner").
		AddField(&Field{Name: "name", Type: TypeString})
	assert.Equal(t, "id", without.PrimaryKey())
}

func TestRelationshipDefaults(t *testing.T) {
	owner := NewEntity("Owner").
		AddField(&Field{Name: "id", Type: TypeInt, Primary: true})

	belongsTo := &Relationship{Kind: BelongsTo, Name: "organization", Target: "Organization"}
	assert.Equal(t, "organization_id", belongsTo.DefaultForeignKey(owner))

	hasMany := &Relationship{Kind: HasMany, Name: "pets", Target: "Pet"}
	assert.Equal(t, "owner_id", hasMany.DefaultForeignKey(owner))

	through := &Relationship{Kind: HasManyThrough, Name: "cars", Target: "Sku"}
	assert.Equal(t, "owner_skus", through.DefaultJoinTable(owner))
	assert.Equal(t, "sku_id", through.DefaultAssociationKey())

	explicit := &Relationship{
		Kind: HasManyThrough, Name: "cars", Target: "Sku",
		JoinTable: "ownerships", ForeignKey: "owner_id", AssociationKey: "sku_id",
	}
	assert.Equal(t, "ownerships", explicit.DefaultJoinTable(owner))
	assert.Equal(t, "owner_id", explicit.DefaultForeignKey(owner))
}

func TestRelationKindToMany(t *testing.T) {
	assert.False(t, BelongsTo.ToMany())
	assert.False(t, HasOne.ToMany())
	assert.True(t, HasMany.ToMany())
	assert.True(t, HasManyThrough.ToMany())
}

func TestEntityValidate(t *testing.T) {
	empty := NewEntity("Owner")
	require.Error(t, empty.Validate())

	noTarget := NewEntity("Owner").
		AddField(&Field{Name: "id", Type: TypeInt, Primary: true}).
		AddRelationship(&Relationship{Kind: BelongsTo, Name: "organization"})
	require.Error(t, noTarget.Validate())

	ok := NewEntity("Owner").
		AddField(&Field{Name: "id", Type: TypeInt, Primary: true}).
		AddRelationship(&Relationship{Kind: BelongsTo, Name: "organization", Target: "Organization"})
	require.NoError(t, ok.Validate())
}
