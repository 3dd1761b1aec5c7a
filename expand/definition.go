package expand

import (
	"context"
	"fmt"
	"sync"
)

// Record is the shape the serializer consumes and produces: the query
// layer's map-backed rows, with relation values attached under their
// relation field names when preloaded.
type Record = map[string]interface{}

// IDAccessor overrides how the "<field>_id" value is produced. Declared on
// an expandable definition instead of the default reference behaviour.
type IDAccessor interface {
	FieldID(rec Record) (interface{}, error)
}

// IDAccessorFunc adapts a function to an IDAccessor.
type IDAccessorFunc func(rec Record) (interface{}, error)

// FieldID calls the underlying function.
func (f IDAccessorFunc) FieldID(rec Record) (interface{}, error) { return f(rec) }

// IDListAccessor overrides how an ID-only expansion produces its list of
// identifiers.
type IDListAccessor interface {
	FieldIDList(rec Record) (interface{}, error)
}

// IDListAccessorFunc adapts a function to an IDListAccessor.
type IDListAccessorFunc func(rec Record) (interface{}, error)

// FieldIDList calls the underlying function.
func (f IDListAccessorFunc) FieldIDList(rec Record) (interface{}, error) { return f(rec) }

// Expander produces a custom full expansion for a field, bypassing the
// target node type entirely. The serializer argument allows represented
// children to inherit the caller's instructions via SerializeChild.
type Expander interface {
	Expand(ctx context.Context, s *Serializer, rec Record) (interface{}, error)
}

// ExpanderFunc adapts a function to an Expander.
type ExpanderFunc func(ctx context.Context, s *Serializer, rec Record) (interface{}, error)

// Expand calls the underlying function.
func (f ExpanderFunc) Expand(ctx context.Context, s *Serializer, rec Record) (interface{}, error) {
	return f(ctx, s, rec)
}

// FieldDef declares a plain field on a node type. A field with a Nested
// node type is an always-present child serializer; otherwise the field is
// a leaf read straight off the record.
type FieldDef struct {
	Name string

	// Source is the attribute path the value is read from. Empty defaults
	// to Name; "*" sources the record itself.
	Source string

	// Nested makes this an always-present nested serializer.
	Nested *NodeType
	Many   bool
}

// ExpandableDef declares one conditionally expanded relation field.
type ExpandableDef struct {
	Name string

	// Target is the node type used when fully expanded. TargetRef names a
	// registry entry instead, resolved lazily at first use.
	Target    *NodeType
	TargetRef string

	// Many marks the field x-to-many. To-one fields always emit a
	// "<name>_id" reference unless DisableID is set; to-many fields may
	// additionally be expanded as bare ID lists.
	Many bool

	// Source is the attribute path to the full instance(s). Empty defaults
	// to Name; "*" expands data already present on the parent instance.
	Source string

	// IDSource is the attribute path the identifier is read from,
	// defaulting to "<name>_id". DisableID omits the ID field entirely.
	IDSource  string
	DisableID bool

	// IDEntity is the entity type combined with the identifier when
	// external IDs are enabled. Defaults to the target node type's entity.
	IDEntity string

	// Writable allows the ID field to accept input; resolved instances are
	// surfaced next to the raw identifier during input validation.
	Writable bool

	// DisableAutoOptimize keeps the planner from deriving a fetch plan for
	// this field automatically.
	DisableAutoOptimize bool

	// SelectRelated and PrefetchRelated are manual optimization overrides:
	// relation paths registered as same-query joins or separate batched
	// queries. Required for Expander-backed fields, which have no
	// attribute path to derive a plan from.
	SelectRelated   []string
	PrefetchRelated []string

	// Capability overrides.
	IDAccessor     IDAccessor
	IDListAccessor IDListAccessor
	Expander       Expander
}

// NodeType is the static schema of one serializer node: its plain fields,
// its expandable relation fields, and the entity backing it.
type NodeType struct {
	Name   string
	Entity string // underlying entity name; empty for non-model types

	Fields     []FieldDef
	Expandable []ExpandableDef

	// MaxExpandDepth overrides the configured maximum at this root.
	MaxExpandDepth int

	// SkipInstructionValidation disables instruction validation whenever
	// this type serves as a node, regardless of the per-call flag.
	SkipInstructionValidation bool
}

// hasField reports whether the node type declares the named plain field.
func (t *NodeType) hasField(name string) bool {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return true
		}
	}
	return false
}

// Registry maps names to node types so expandable definitions can refer to
// types declared later (or in other packages) by string reference.
type Registry struct {
	types map[string]*NodeType
	mu    sync.RWMutex
}

// NewTypeRegistry creates an empty node type registry.
func NewTypeRegistry() *Registry {
	return &Registry{types: make(map[string]*NodeType)}
}

// Register registers a node type under its name.
func (r *Registry) Register(t *NodeType) error {
	if t.Name == "" {
		return fmt.Errorf("node type has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[t.Name]; exists {
		return fmt.Errorf("node type %s is already registered", t.Name)
	}
	r.types[t.Name] = t
	return nil
}

// MustRegister registers a node type and panics on conflict. Intended for
// package-level setup where a failure is a programming mistake.
func (r *Registry) MustRegister(t *NodeType) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Resolve returns the node type registered under the given name.
func (r *Registry) Resolve(name string) (*NodeType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("node type reference %q is not registered", name)
	}
	return t, nil
}

// standardize returns a copy of the definition with defaults applied and
// type references resolved. Failures here are configuration errors: they
// indicate a programming mistake and are never recovered from.
func (d ExpandableDef) standardize(types *Registry) (*ExpandableDef, error) {
	def := d

	if def.Name == "" {
		return nil, fmt.Errorf("expandable field definition has no name")
	}

	if def.Target == nil && def.TargetRef != "" {
		if types == nil {
			return nil, fmt.Errorf(
				"expandable field %q uses a type reference but no registry is configured",
				def.Name,
			)
		}
		target, err := types.Resolve(def.TargetRef)
		if err != nil {
			return nil, fmt.Errorf("expandable field %q: %w", def.Name, err)
		}
		def.Target = target
	}

	// Custom expansion uses no target schema, so the notion of an
	// identifier does not apply.
	if def.Target == nil {
		if def.Expander == nil {
			return nil, fmt.Errorf("expandable field %q has no target node type", def.Name)
		}
		def.DisableID = true
		return &def, nil
	}

	if !def.DisableID && def.IDEntity == "" {
		def.IDEntity = def.Target.Entity
		if def.IDEntity == "" {
			return nil, fmt.Errorf(
				"expandable field %q has no entity to derive identifiers from; "+
					"set IDEntity or DisableID", def.Name,
			)
		}
	}

	return &def, nil
}

// StandardizeDefs resolves and defaults every expandable definition of a
// node type, preserving declaration order. Exposed so the optimization
// planner can re-derive the same canonical schema the serializer works
// from.
func StandardizeDefs(t *NodeType, types *Registry) ([]*ExpandableDef, error) {
	defs := make([]*ExpandableDef, 0, len(t.Expandable))
	for _, raw := range t.Expandable {
		def, err := raw.standardize(types)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}
