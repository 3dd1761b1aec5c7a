package expand

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// The test domain is a small vehicle registry: owners belong to
// organizations and hold skus through an ownership table; skus reference a
// model, which references a manufacturer.

type fakeRelation struct {
	target string
	many   bool
}

// fakeFetcher serves relation values from in-memory tables, handing out
// fresh copies so record-level caching in one test never leaks into
// another. It counts fetches so tests can assert on lazy-load behavior.
type fakeFetcher struct {
	relations map[string]map[string]fakeRelation
	records   map[string]map[int64]Record
	links     map[string]map[int64][]int64
	pks       map[string]string
	fetches   int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		relations: map[string]map[string]fakeRelation{
			"Owner": {
				"organization": {target: "Organization"},
				"cars":         {target: "Sku", many: true},
			},
			"Sku": {
				"model":  {target: "CarModel"},
				"owners": {target: "Owner", many: true},
			},
			"CarModel": {
				"manufacturer": {target: "Manufacturer"},
			},
		},
		records: map[string]map[int64]Record{
			"Organization": {
				10: {"id": int64(10), "name": "Acme"},
			},
			"Owner": {
				1: {"id": int64(1), "name": "Tyrell", "organization_id": int64(10)},
				2: {"id": int64(2), "name": "Wallace", "organization_id": nil},
			},
			"Manufacturer": {
				5: {"id": int64(5), "name": "Initech"},
			},
			"CarModel": {
				50: {"id": int64(50), "name": "Roadster", "manufacturer_id": int64(5)},
			},
			"Sku": {
				101: {"id": int64(101), "variant": "red", "model_id": int64(50)},
				102: {"id": int64(102), "variant": "blue", "model_id": int64(50)},
			},
		},
		links: map[string]map[int64][]int64{
			"Owner.cars": {1: {101, 102}, 2: {}},
			"Sku.owners": {101: {1}, 102: {1}},
		},
	}
}

func (f *fakeFetcher) PrimaryKey(entity string) string {
	if pk, ok := f.pks[entity]; ok {
		return pk
	}
	return "id"
}

func (f *fakeFetcher) Relation(entity, relation string) (string, bool, bool) {
	rel, ok := f.relations[entity][relation]
	if !ok {
		return "", false, false
	}
	return rel.target, rel.many, true
}

func (f *fakeFetcher) FetchRelated(ctx context.Context, entity, relation string, rec map[string]interface{}) (interface{}, error) {
	rel, ok := f.relations[entity][relation]
	if !ok {
		return nil, fmt.Errorf("no relation %s on %s", relation, entity)
	}
	f.fetches++

	if rel.many {
		ids := f.links[entity+"."+relation][asID(rec["id"])]
		out := make([]Record, 0, len(ids))
		for _, id := range ids {
			out = append(out, copyRecord(f.records[rel.target][id]))
		}
		return out, nil
	}

	fk := rec[relation+"_id"]
	if fk == nil {
		return nil, nil
	}
	related, ok := f.records[rel.target][asID(fk)]
	if !ok {
		return nil, nil
	}
	return copyRecord(related), nil
}

func (f *fakeFetcher) FindByID(ctx context.Context, entity string, id interface{}) (map[string]interface{}, error) {
	rec, ok := f.records[entity][asID(id)]
	if !ok {
		return nil, nil
	}
	return copyRecord(rec), nil
}

func copyRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func asID(v interface{}) int64 {
	switch id := v.(type) {
	case int64:
		return id
	case int:
		return int64(id)
	default:
		return 0
	}
}

// testTypes declares the node types over the vehicle domain.
func testTypes(t *testing.T) *Registry {
	t.Helper()
	types := NewTypeRegistry()

	require.NoError(t, types.Register(&NodeType{
		Name:   "Organization",
		Entity: "Organization",
		Fields: []FieldDef{{Name: "id"}, {Name: "name"}},
	}))
	require.NoError(t, types.Register(&NodeType{
		Name:   "Manufacturer",
		Entity: "Manufacturer",
		Fields: []FieldDef{{Name: "id"}, {Name: "name"}},
	}))
	require.NoError(t, types.Register(&NodeType{
		Name:   "CarModel",
		Entity: "CarModel",
		Fields: []FieldDef{{Name: "id"}, {Name: "name"}},
		Expandable: []ExpandableDef{
			{Name: "manufacturer", TargetRef: "Manufacturer"},
		},
	}))
	require.NoError(t, types.Register(&NodeType{
		Name:   "Sku",
		Entity: "Sku",
		Fields: []FieldDef{{Name: "id"}, {Name: "variant"}},
		Expandable: []ExpandableDef{
			{Name: "model", TargetRef: "CarModel"},
			{Name: "owners", TargetRef: "Owner", Many: true},
		},
	}))
	require.NoError(t, types.Register(&NodeType{
		Name:   "Owner",
		Entity: "Owner",
		Fields: []FieldDef{{Name: "id"}, {Name: "name"}},
		Expandable: []ExpandableDef{
			{Name: "organization", TargetRef: "Organization"},
			{Name: "cars", TargetRef: "Sku", Many: true},
		},
	}))

	return types
}

// newTestSerializer builds a root serializer over the vehicle domain.
func newTestSerializer(t *testing.T, typeName string, fetcher *fakeFetcher, opts ...Option) *Serializer {
	t.Helper()
	types := testTypes(t)
	typ, err := types.Resolve(typeName)
	require.NoError(t, err)

	base := []Option{WithTypes(types), WithFetcher(fetcher)}
	s, err := New(typ, append(base, opts...)...)
	require.NoError(t, err)
	return s
}

// owner returns a fresh root record for the named owner.
func (f *fakeFetcher) owner(id int64) Record {
	return copyRecord(f.records["Owner"][id])
}

func (f *fakeFetcher) sku(id int64) Record {
	return copyRecord(f.records["Sku"][id])
}
