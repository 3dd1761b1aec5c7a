// Package schema describes the entities a serializer tree is backed by:
// their fields, their relationships to one another, and the table layout
// the query layer generates SQL against. The serializer core only ever
// consumes this metadata through the Registry; it never touches the
// database itself.
package schema

import (
	"fmt"
	"strings"
)

// FieldType represents the primitive type of an entity field.
type FieldType int

const (
	TypeString FieldType = iota
	TypeText
	TypeInt
	TypeBigInt
	TypeFloat
	TypeBool
	TypeTimestamp
	TypeUUID
	TypeEmail
	TypeJSON
)

// String returns the string representation of the field type.
func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeText:
		return "text"
	case TypeInt:
		return "int"
	case TypeBigInt:
		return "bigint"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeUUID:
		return "uuid"
	case TypeEmail:
		return "email"
	case TypeJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Field represents a column-backed field on an entity.
type Field struct {
	Name     string
	Type     FieldType
	Nullable bool
	Primary  bool
}

// RelationKind represents the kind of relationship between two entities.
type RelationKind int

const (
	BelongsTo RelationKind = iota
	HasOne
	HasMany
	HasManyThrough
)

// String returns the string representation of the relation kind.
func (k RelationKind) String() string {
	switch k {
	case BelongsTo:
		return "belongs_to"
	case HasOne:
		return "has_one"
	case HasMany:
		return "has_many"
	case HasManyThrough:
		return "has_many_through"
	default:
		return "unknown"
	}
}

// ToMany reports whether the relation resolves to a collection.
func (k RelationKind) ToMany() bool {
	return k == HasMany || k == HasManyThrough
}

// Relationship represents a named relation edge from one entity to another.
type Relationship struct {
	Kind   RelationKind
	Target string // target entity name
	Name   string // field name the relation is attached under

	// ForeignKey is the referencing column: on this entity for BelongsTo,
	// on the target entity otherwise. Empty derives "<entity>_id".
	ForeignKey string
	Nullable   bool

	// For HasMany
	OrderBy string

	// For HasManyThrough
	JoinTable      string
	AssociationKey string
}

// Entity represents the complete schema of one entity.
type Entity struct {
	Name          string
	TableName     string // empty derives snake_case plural of Name
	Fields        map[string]*Field
	Relationships map[string]*Relationship

	fieldOrder []string
}

// NewEntity creates an empty entity schema with a derived table name.
func NewEntity(name string) *Entity {
	return &Entity{
		Name:          name,
		TableName:     ToTableName(name),
		Fields:        make(map[string]*Field),
		Relationships: make(map[string]*Relationship),
	}
}

// AddField appends a field, preserving declaration order.
func (e *Entity) AddField(f *Field) *Entity {
	if _, exists := e.Fields[f.Name]; !exists {
		e.fieldOrder = append(e.fieldOrder, f.Name)
	}
	e.Fields[f.Name] = f
	return e
}

// AddRelationship attaches a relation edge under its field name.
func (e *Entity) AddRelationship(r *Relationship) *Entity {
	e.Relationships[r.Name] = r
	return e
}

// FieldNames returns the field names in declaration order.
func (e *Entity) FieldNames() []string {
	names := make([]string, len(e.fieldOrder))
	copy(names, e.fieldOrder)
	return names
}

// HasField reports whether the entity declares the named field.
func (e *Entity) HasField(name string) bool {
	_, ok := e.Fields[name]
	return ok
}

// Relationship returns the named relation edge, if declared.
func (e *Entity) Relationship(name string) (*Relationship, bool) {
	rel, ok := e.Relationships[name]
	return rel, ok
}

// PrimaryKey returns the name of the primary key column, defaulting to "id"
// when no field carries the Primary marker.
func (e *Entity) PrimaryKey() string {
	for _, name := range e.fieldOrder {
		if e.Fields[name].Primary {
			return name
		}
	}
	return "id"
}

// DefaultForeignKey returns the referencing column for a relation,
// deriving "<owner>_id" when not configured explicitly.
func (r *Relationship) DefaultForeignKey(owner *Entity) string {
	if r.ForeignKey != "" {
		return r.ForeignKey
	}
	if r.Kind == BelongsTo {
		return ToSnakeCase(r.Target) + "_id"
	}
	return ToSnakeCase(owner.Name) + "_id"
}

// DefaultJoinTable returns the junction table for a HasManyThrough relation.
func (r *Relationship) DefaultJoinTable(owner *Entity) string {
	if r.JoinTable != "" {
		return r.JoinTable
	}
	return ToSnakeCase(owner.Name) + "_" + ToSnakeCase(r.Target) + "s"
}

// DefaultAssociationKey returns the junction column referencing the target.
func (r *Relationship) DefaultAssociationKey() string {
	if r.AssociationKey != "" {
		return r.AssociationKey
	}
	return ToSnakeCase(r.Target) + "_id"
}

// ToTableName converts an entity name to its table name (snake_case plural).
func ToTableName(entityName string) string {
	return pluralize(ToSnakeCase(entityName))
}

// ToSnakeCase converts a string to snake_case.
func ToSnakeCase(s string) string {
	var result []rune
	runes := []rune(s)

	for i, r := range runes {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := runes[i-1]
			if prev >= 'a' && prev <= 'z' {
				result = append(result, '_')
			} else if i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z' {
				result = append(result, '_')
			}
		}
		if r >= 'A' && r <= 'Z' {
			result = append(result, r+('a'-'A'))
		} else {
			result = append(result, r)
		}
	}
	return string(result)
}

// pluralize adds simple pluralization.
func pluralize(s string) string {
	if strings.HasSuffix(s, "s") ||
		strings.HasSuffix(s, "x") ||
		strings.HasSuffix(s, "z") {
		return s + "es"
	}
	if strings.HasSuffix(s, "y") {
		return s[:len(s)-1] + "ies"
	}
	return s + "s"
}

// Validate checks a single entity schema for structural problems.
func (e *Entity) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("entity has no name")
	}
	if len(e.Fields) == 0 {
		return fmt.Errorf("entity %s declares no fields", e.Name)
	}
	for name, rel := range e.Relationships {
		if rel.Name == "" {
			rel.Name = name
		}
		if rel.Name != name {
			return fmt.Errorf(
				"entity %s: relationship registered as %q but named %q",
				e.Name, name, rel.Name,
			)
		}
		if rel.Target == "" {
			return fmt.Errorf("entity %s: relationship %s has no target", e.Name, name)
		}
	}
	return nil
}
