package expand

import (
	"context"
	"fmt"
	"strings"
)

// field is one entry of a node's assembled field list.
type field interface {
	fieldName() string
	represent(ctx context.Context, s *Serializer, rec Record) (interface{}, error)
}

// leafField reads a value straight off the record, honoring a source
// override. Leaf type conversion is the record producer's concern.
type leafField struct {
	name   string
	source string
}

func (f *leafField) fieldName() string { return f.name }

func (f *leafField) represent(ctx context.Context, s *Serializer, rec Record) (interface{}, error) {
	source := f.source
	if source == "" {
		source = f.name
	}
	if source == Wildcard {
		return rec, nil
	}
	return resolvePath(ctx, s, rec, source)
}

// nestedField renders a child serializer, either always-present (declared
// as a plain field) or produced by a full-expansion decision.
type nestedField struct {
	name   string
	source string
	typ    *NodeType
	many   bool
}

func (f *nestedField) fieldName() string { return f.name }

func (f *nestedField) represent(ctx context.Context, s *Serializer, rec Record) (interface{}, error) {
	source := f.source
	if source == "" {
		source = f.name
	}

	var value interface{}
	if source == Wildcard {
		value = rec
	} else {
		resolved, err := resolvePath(ctx, s, rec, source)
		if err != nil {
			return nil, err
		}
		value = resolved
	}

	child := &Serializer{typ: f.typ, fieldName: f.name, parent: s, rt: s.rt}

	if f.many {
		if value == nil {
			return []Record{}, nil
		}
		recs, ok := asRecordSlice(value)
		if !ok {
			return nil, fmt.Errorf("expected a record collection, got %T", value)
		}
		out := make([]Record, 0, len(recs))
		for _, r := range recs {
			represented, err := child.represent(ctx, r)
			if err != nil {
				return nil, err
			}
			out = append(out, represented)
		}
		return out, nil
	}

	if value == nil {
		return nil, nil
	}
	nested, ok := asRecord(value)
	if !ok {
		return nil, fmt.Errorf("expected a record, got %T", value)
	}
	return child.represent(ctx, nested)
}

// idField is the always-present "<field>_id" reference on a to-one
// expandable field.
type idField struct {
	def *ExpandableDef
}

func (f *idField) fieldName() string { return f.def.Name + "_id" }

func (f *idField) represent(ctx context.Context, s *Serializer, rec Record) (interface{}, error) {
	if f.def.IDAccessor != nil {
		return f.def.IDAccessor.FieldID(rec)
	}

	var raw interface{}
	if f.def.IDSource != "" {
		resolved, err := resolvePath(ctx, s, rec, f.def.IDSource)
		if err != nil {
			return nil, err
		}
		raw = resolved
	} else {
		raw = rec[f.def.Name+"_id"]
	}

	if raw == nil {
		return nil, nil
	}
	return s.externalize(f.def.IDEntity, raw)
}

// idListField is the bare-identifier representation of an ID-only expanded
// to-many field.
type idListField struct {
	def *ExpandableDef
}

func (f *idListField) fieldName() string { return f.def.Name }

func (f *idListField) represent(ctx context.Context, s *Serializer, rec Record) (interface{}, error) {
	if f.def.IDListAccessor != nil {
		return f.def.IDListAccessor.FieldIDList(rec)
	}

	source := f.def.Source
	if source == "" {
		source = f.def.Name
	}
	value, err := resolvePath(ctx, s, rec, source)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return []interface{}{}, nil
	}

	recs, ok := asRecordSlice(value)
	if !ok {
		return nil, fmt.Errorf("expected a record collection, got %T", value)
	}

	pk := "id"
	if s.rt.fetcher != nil {
		pk = s.rt.fetcher.PrimaryKey(f.def.IDEntity)
	}

	ids := make([]interface{}, 0, len(recs))
	for _, r := range recs {
		id, err := s.externalize(f.def.IDEntity, r[pk])
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// expanderField delegates a full expansion to a custom accessor.
type expanderField struct {
	def *ExpandableDef
}

func (f *expanderField) fieldName() string { return f.def.Name }

func (f *expanderField) represent(ctx context.Context, s *Serializer, rec Record) (interface{}, error) {
	return f.def.Expander.Expand(ctx, s, rec)
}

// externalize wraps a raw identifier in an opaque token when external IDs
// are active; otherwise it passes the identifier through unchanged.
func (s *Serializer) externalize(entity string, raw interface{}) (interface{}, error) {
	if !s.rt.cfg.UseExternalIDs || s.rt.translator == nil {
		return raw, nil
	}

	id, err := toInt64(raw)
	if err != nil {
		return nil, err
	}
	return s.rt.translator.ExternalID(entity, id)
}

// resolvePath walks a dot-delimited attribute path across the record,
// lazily fetching relation values the query layer has not preloaded. Each
// hop updates the entity the next relation is looked up against.
func resolvePath(ctx context.Context, s *Serializer, rec Record, path string) (interface{}, error) {
	entity := s.typ.Entity
	var current interface{} = rec

	for _, segment := range strings.Split(path, AttrDelimiter) {
		node, ok := asRecord(current)
		if !ok {
			return nil, nil
		}

		var target string
		var isRelation bool
		if s.rt.fetcher != nil && entity != "" {
			target, _, isRelation = s.rt.fetcher.Relation(entity, segment)
		}

		value, present := node[segment]
		if (!present || value == nil) && isRelation {
			fetched, err := s.rt.fetcher.FetchRelated(ctx, entity, segment, node)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch relation %s: %w", segment, err)
			}
			// Cache on the record so sibling fields reuse the fetch.
			node[segment] = fetched
			value = fetched
		}

		if isRelation {
			entity = target
		} else {
			entity = ""
		}
		current = value
		if current == nil {
			return nil, nil
		}
	}

	return current, nil
}

// asRecord normalizes a value to a Record.
func asRecord(v interface{}) (Record, bool) {
	switch rec := v.(type) {
	case Record:
		return rec, true
	default:
		return nil, false
	}
}

// asRecordSlice normalizes a collection value to []Record. The query layer
// produces []map[string]interface{}; decoded JSON produces []interface{}.
func asRecordSlice(v interface{}) ([]Record, bool) {
	switch list := v.(type) {
	case []Record:
		return list, true
	case []interface{}:
		out := make([]Record, 0, len(list))
		for _, item := range list {
			rec, ok := asRecord(item)
			if !ok {
				return nil, false
			}
			out = append(out, rec)
		}
		return out, true
	default:
		return nil, false
	}
}

// toInt64 coerces the numeric identifier types the query layer produces.
func toInt64(v interface{}) (int64, error) {
	switch id := v.(type) {
	case int64:
		return id, nil
	case int:
		return int64(id), nil
	case int32:
		return int64(id), nil
	case uint:
		return int64(id), nil
	case uint32:
		return int64(id), nil
	case uint64:
		return int64(id), nil
	case float64:
		return int64(id), nil
	default:
		return 0, fmt.Errorf("external IDs require an integer identifier, got %T", v)
	}
}
