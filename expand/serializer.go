package expand

import (
	"context"
	"fmt"

	"github.com/expandkit/expandkit/config"
	"github.com/expandkit/expandkit/token"
)

// Fetcher is the boundary to the object-relational layer. The query
// package's Loader satisfies this interface. A nil Fetcher is allowed:
// relation values absent from records then serialize as nil instead of
// being loaded on demand.
type Fetcher interface {
	// Relation reports the target entity and cardinality of a relation
	// field, or ok=false when the name is not a relation.
	Relation(entity, relation string) (target string, toMany bool, ok bool)

	// PrimaryKey reports the primary key column of an entity.
	PrimaryKey(entity string) string

	// FetchRelated loads the relation value for a single parent record:
	// a Record for to-one relations, a []Record for to-many.
	FetchRelated(ctx context.Context, entity, relation string, rec map[string]interface{}) (interface{}, error)

	// FindByID fetches a single record of the entity by primary key.
	FindByID(ctx context.Context, entity string, id interface{}) (map[string]interface{}, error)
}

// runtime is the state shared by every node of one serialization call.
// It is read-only from the nodes' perspective.
type runtime struct {
	cfg        config.Config
	translator *token.Translator
	fetcher    Fetcher
	types      *Registry
	instr      Instructions
	root       RootInstructions
	context    map[string]interface{}
}

// Serializer is one position in the tree mirroring the nested output
// shape. The root is built once via New and reused across calls; child
// nodes are constructed per serialization call and discarded with it. The
// parent reference is traversal-only and never owns the parent.
type Serializer struct {
	typ       *NodeType
	fieldName string
	parent    *Serializer
	rt        *runtime
}

// Option configures a root serializer.
type Option func(*Serializer)

// WithConfig threads explicit settings through the serializer tree.
func WithConfig(cfg config.Config) Option {
	return func(s *Serializer) { s.rt.cfg = cfg }
}

// WithTypes supplies the registry used to resolve string type references.
func WithTypes(types *Registry) Option {
	return func(s *Serializer) { s.rt.types = types }
}

// WithFetcher supplies the object-relational collaborator used for lazy
// relation loads and writable-ID resolution.
func WithFetcher(f Fetcher) Option {
	return func(s *Serializer) { s.rt.fetcher = f }
}

// WithTranslator supplies a ready external-ID translator.
func WithTranslator(tr *token.Translator) Option {
	return func(s *Serializer) { s.rt.translator = tr }
}

// WithTags builds the external-ID translator from the configured codec and
// the given tag source (typically the schema registry).
func WithTags(tags token.TagSource) Option {
	return func(s *Serializer) {
		if s.rt.cfg.Codec != nil {
			s.rt.translator = token.NewTranslator(s.rt.cfg.Codec, tags)
		}
	}
}

// WithContext attaches caller-supplied context entries, shared read-only
// by every node of a serialization pass.
func WithContext(context map[string]interface{}) Option {
	return func(s *Serializer) { s.rt.context = context }
}

// New constructs a root serializer for the given node type. Configuration
// problems (unresolvable type references, missing identifier entities, a
// missing codec with external IDs enabled) surface here rather than at
// serialization time.
//
// Option order matters insofar as WithTags reads the codec set by
// WithConfig; pass WithConfig first.
func New(typ *NodeType, opts ...Option) (*Serializer, error) {
	s := &Serializer{
		typ: typ,
		rt:  &runtime{cfg: config.Default()},
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.rt.cfg.Validate(); err != nil {
		return nil, err
	}
	if s.rt.cfg.UseExternalIDs && s.rt.translator == nil {
		return nil, fmt.Errorf(
			"external IDs are enabled but no translator is configured; " +
				"pass WithTranslator or WithTags",
		)
	}

	// Fail fast on definition mistakes.
	if _, err := StandardizeDefs(typ, s.rt.types); err != nil {
		return nil, err
	}

	return s, nil
}

// Type returns the node type this serializer was built for.
func (s *Serializer) Type() *NodeType { return s.typ }

// Context returns the caller-supplied context entries. Nodes must treat
// the map as read-only.
func (s *Serializer) Context() map[string]interface{} { return s.rt.context }

// maxDepth returns the effective depth limit for this root.
func (s *Serializer) maxDepth() int {
	if s.typ.MaxExpandDepth > 0 {
		return s.typ.MaxExpandDepth
	}
	return s.rt.cfg.Depth()
}

// Serialize renders a single record under the given instructions. The node
// tree built for the call is discarded when it returns.
func (s *Serializer) Serialize(ctx context.Context, rec Record, instr Instructions) (Record, error) {
	root, err := s.bind(instr)
	if err != nil {
		return nil, err
	}
	return root.represent(ctx, rec)
}

// SerializeMany renders a collection of records under one set of
// instructions, sharing a single node tree across elements.
func (s *Serializer) SerializeMany(ctx context.Context, recs []Record, instr Instructions) ([]Record, error) {
	root, err := s.bind(instr)
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		represented, err := root.represent(ctx, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, represented)
	}
	return out, nil
}

// bind builds the per-call root node: normalized instructions plus the
// root-only depth validation, which fails the whole call rather than
// skipping individual fields.
func (s *Serializer) bind(instr Instructions) (*Serializer, error) {
	rt := *s.rt
	rt.instr = instr
	rt.root = NewRootInstructions(instr.Expand, instr.ExpandIDOnly)

	root := &Serializer{typ: s.typ, rt: &rt}
	if err := rt.root.ValidateDepth(root.maxDepth()); err != nil {
		return nil, err
	}
	return root, nil
}

// represent renders one record at this node's hierarchy position.
func (s *Serializer) represent(ctx context.Context, rec Record) (Record, error) {
	if rec == nil {
		return nil, nil
	}

	fields, err := s.assembleFields()
	if err != nil {
		return nil, err
	}
	fields, err = s.applyProjection(fields)
	if err != nil {
		return nil, err
	}

	out := make(Record, len(fields))
	for _, f := range fields {
		value, err := f.represent(ctx, s, rec)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.fieldName(), err)
		}
		out[f.fieldName()] = value
	}
	return out, nil
}

// assembleFields builds the node's ordered field list: the declared plain
// fields first, then per expandable definition the ID reference and, when
// instructed, the full or ID-list expansion.
func (s *Serializer) assembleFields() ([]field, error) {
	fields := make([]field, 0, len(s.typ.Fields)+len(s.typ.Expandable))

	for i := range s.typ.Fields {
		def := &s.typ.Fields[i]
		if def.Nested != nil {
			fields = append(fields, &nestedField{
				name:   def.Name,
				source: def.Source,
				typ:    def.Nested,
				many:   def.Many,
			})
		} else {
			fields = append(fields, &leafField{name: def.Name, source: def.Source})
		}
	}

	decisions, err := Decide(s.typ, s.rt.types, s.rt.root, s.address(), s.rt.instr.SkipValidation)
	if err != nil {
		return nil, err
	}

	for _, fd := range decisions {
		if fd.EmitID {
			fields = append(fields, &idField{def: fd.Def})
		}

		switch fd.Decision {
		case DecisionFull:
			if fd.Def.Expander != nil {
				fields = append(fields, &expanderField{def: fd.Def})
			} else {
				fields = append(fields, &nestedField{
					name:   fd.Def.Name,
					source: fd.Def.Source,
					typ:    fd.Def.Target,
					many:   fd.Def.Many,
				})
			}
		case DecisionIDList:
			fields = append(fields, &idListField{def: fd.Def})
		}
	}

	return fields, nil
}

// SerializeChild renders an instance through a child node type bound to
// this node, so nested instructions keep flowing through custom
// expansions. Intended for Expander implementations.
func (s *Serializer) SerializeChild(ctx context.Context, name string, typ *NodeType, instance interface{}, many bool) (interface{}, error) {
	child := &Serializer{typ: typ, fieldName: name, parent: s, rt: s.rt}

	if many {
		recs, ok := asRecordSlice(instance)
		if !ok {
			return nil, fmt.Errorf("child %s: expected a record collection, got %T", name, instance)
		}
		out := make([]Record, 0, len(recs))
		for _, rec := range recs {
			represented, err := child.represent(ctx, rec)
			if err != nil {
				return nil, err
			}
			out = append(out, represented)
		}
		return out, nil
	}

	rec, ok := asRecord(instance)
	if !ok {
		return nil, fmt.Errorf("child %s: expected a record, got %T", name, instance)
	}
	return child.represent(ctx, rec)
}

// ValidateInput resolves writable to-one ID inputs. External tokens are
// decoded against the field's entity, the referenced instance is fetched,
// and the validated map carries both "<field>_id" (the raw internal
// identifier, even when the input was a token) and "<field>_id_resolved"
// (the instance record) side by side.
func (s *Serializer) ValidateInput(ctx context.Context, input Record) (Record, error) {
	defs, err := StandardizeDefs(s.typ, s.rt.types)
	if err != nil {
		return nil, err
	}

	out := make(Record, len(input))
	for k, v := range input {
		out[k] = v
	}

	for _, def := range defs {
		if def.Many || def.DisableID || !def.Writable {
			continue
		}

		key := def.Name + "_id"
		raw, present := input[key]
		if !present || raw == nil {
			continue
		}

		id := raw
		if s.rt.cfg.UseExternalIDs {
			tok, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("%s: %w: expected a token string, got %T", key, token.ErrMalformedID, raw)
			}
			internal, err := s.rt.translator.InternalID(def.IDEntity, tok)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			id = internal
		}

		if s.rt.fetcher == nil {
			return nil, fmt.Errorf("%s: writable ID fields require a fetcher", key)
		}
		instance, err := s.rt.fetcher.FindByID(ctx, def.IDEntity, id)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if instance == nil {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}

		out[key] = id
		out[def.Name+"_id_resolved"] = instance
	}

	return out, nil
}
