// Package optimize derives fetch plans from expansion instructions so a
// serialized collection loads in a constant number of queries. To-one
// expansion prefixes join into the main query; to-many expansion loads in
// separate batched queries, each optimized recursively.
package optimize

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/expandkit/expandkit/expand"
	"github.com/expandkit/expandkit/query"
	"github.com/expandkit/expandkit/schema"
)

// Plan is the fetch plan for one query: the to-one relation paths to join
// in, and the to-many relation paths to batch-load afterwards.
type Plan struct {
	Entity        string
	SelectRelated []string
	Prefetches    []PrefetchPlan
}

// PrefetchPlan names one batched relation load. Plan, when non-nil, is
// applied to the query fetching the related rows.
type PrefetchPlan struct {
	Path string
	Plan *Plan
}

// Planner turns a node type and a set of expansion instructions into a
// fetch plan. It re-derives the same per-node decisions the serializer
// will make, so planned loads line up exactly with what serialization
// touches.
type Planner struct {
	types    *expand.Registry
	registry *schema.Registry
	logger   *zap.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger attaches a logger for plan debugging.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Planner) {
		p.logger = logger
	}
}

// NewPlanner creates a planner over the given node type and entity
// registries.
func NewPlanner(types *expand.Registry, registry *schema.Registry, opts ...Option) *Planner {
	p := &Planner{types: types, registry: registry}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan derives the fetch plan for serializing records of the given node
// type under the given instructions.
func (p *Planner) Plan(t *expand.NodeType, instr expand.Instructions) (*Plan, error) {
	if t.Entity == "" {
		return nil, fmt.Errorf("node type %q has no entity to plan against", t.Name)
	}

	ri := expand.NewRootInstructions(instr.Expand, instr.ExpandIDOnly)
	plan := &Plan{Entity: t.Entity}
	if err := p.planNode(t, ri, "", "", instr.SkipValidation, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// Optimize plans for the given node type and instructions and applies the
// result to the query builder.
func (p *Planner) Optimize(qb *query.Builder, t *expand.NodeType, instr expand.Instructions) (*Plan, error) {
	plan, err := p.Plan(t, instr)
	if err != nil {
		return nil, err
	}

	if p.logger != nil {
		p.logger.Debug("applying fetch plan",
			zap.String("entity", plan.Entity),
			zap.Strings("select_related", plan.SelectRelated),
			zap.Int("prefetches", len(plan.Prefetches)))
	}

	if err := plan.Apply(qb); err != nil {
		return nil, err
	}
	return plan, nil
}

// Apply registers the plan's joins and prefetches on a query builder.
// Prefetch queries with nested plans get fresh builders of their own.
func (pl *Plan) Apply(qb *query.Builder) error {
	if len(pl.SelectRelated) > 0 {
		qb.SelectRelated(pl.SelectRelated...)
	}
	for _, pf := range pl.Prefetches {
		var inner *query.Builder
		if pf.Plan != nil {
			var err error
			inner, err = qb.NewFor(pf.Plan.Entity)
			if err != nil {
				return err
			}
			if err := pf.Plan.Apply(inner); err != nil {
				return err
			}
		}
		qb.PrefetchRelated(query.Prefetch{Relation: pf.Path, Query: inner})
	}
	return nil
}

// planNode walks one serializer node at its hierarchy address, collecting
// joins under joinPrefix and prefetches onto plan.
func (p *Planner) planNode(
	t *expand.NodeType,
	ri expand.RootInstructions,
	address string,
	joinPrefix string,
	lenient bool,
	plan *Plan,
) error {
	ent, ok := p.registry.Get(t.Entity)
	if !ok {
		return fmt.Errorf("node type %q references unknown entity %q", t.Name, t.Entity)
	}

	// always-present nested serializers contribute their relation sources
	for i := range t.Fields {
		f := &t.Fields[i]
		if f.Nested == nil {
			continue
		}
		source := f.Source
		if source == "" {
			source = f.Name
		}
		if source == expand.Wildcard {
			continue
		}
		if err := p.planRelationSource(
			f.Nested, ri, childAddress(address, f.Name), joinPrefix,
			ent, source, lenient, plan,
		); err != nil {
			return err
		}
	}

	decisions, err := expand.Decide(t, p.types, ri, address, lenient)
	if err != nil {
		return err
	}

	for _, fd := range decisions {
		def := fd.Def
		manual := len(def.SelectRelated) > 0 || len(def.PrefetchRelated) > 0

		if fd.Decision == expand.DecisionNone && !fd.EmitID {
			continue
		}

		// a reference read through a relation path forces the join even
		// when the field is not expanded
		if fd.EmitID && def.IDAccessor == nil && def.IDSource != "" {
			chain, rest, err := p.relationChain(ent, def.IDSource)
			if err != nil {
				return err
			}
			if len(chain) > 0 && rest != "" && !chain[len(chain)-1].rel.Kind.ToMany() {
				plan.addJoin(joinPath(joinPrefix, chainPath(chain)))
			}
		}

		expanded := fd.Decision == expand.DecisionFull || fd.Decision == expand.DecisionIDList

		// Manual overrides replace path derivation for the field itself,
		// but nested expansions beneath a target schema still plan the
		// regular way so overrides compose across nesting.
		if manual {
			if expanded {
				if err := p.planManual(fd, ri, childAddress(address, def.Name), joinPrefix, lenient, plan); err != nil {
					return err
				}
			}
			continue
		}

		if def.DisableAutoOptimize || def.Expander != nil {
			continue
		}

		switch fd.Decision {
		case expand.DecisionFull:
			source := def.Source
			if source == "" {
				source = def.Name
			}
			if source == expand.Wildcard {
				if def.Target.Entity == t.Entity {
					if err := p.planNode(
						def.Target, ri, childAddress(address, def.Name),
						joinPrefix, lenient, plan,
					); err != nil {
						return err
					}
				}
				continue
			}
			if err := p.planRelationSource(
				def.Target, ri, childAddress(address, def.Name), joinPrefix,
				ent, source, lenient, plan,
			); err != nil {
				return err
			}

		case expand.DecisionIDList:
			if def.IDListAccessor != nil {
				continue
			}
			source := def.Source
			if source == "" {
				source = def.Name
			}
			chain, rest, err := p.relationChain(ent, source)
			if err != nil {
				return err
			}
			if len(chain) > 0 && rest == "" && chain[len(chain)-1].rel.Kind.ToMany() {
				plan.addPrefetch(PrefetchPlan{Path: joinPath(joinPrefix, chainPath(chain))})
			}
		}
	}

	return nil
}

// planManual registers a field's manual override paths and, when the field
// is fully expanded onto a real target schema, recurses into that schema:
// joins keep collecting under the override's join path, prefetches carry a
// recursively planned inner plan. Expander fields without a target schema
// register their paths as given and recurse nowhere.
func (p *Planner) planManual(
	fd expand.FieldDecision,
	ri expand.RootInstructions,
	address string,
	joinPrefix string,
	lenient bool,
	plan *Plan,
) error {
	def := fd.Def
	recurse := fd.Decision == expand.DecisionFull && def.Target != nil && def.Target.Entity != ""

	for _, path := range def.SelectRelated {
		join := joinPath(joinPrefix, path)
		plan.addJoin(join)
		if recurse {
			if err := p.planNode(def.Target, ri, address, join, lenient, plan); err != nil {
				return err
			}
		}
	}
	for _, path := range def.PrefetchRelated {
		pf := PrefetchPlan{Path: joinPath(joinPrefix, path)}
		if recurse {
			nested := &Plan{Entity: def.Target.Entity}
			if err := p.planNode(def.Target, ri, address, "", lenient, nested); err != nil {
				return err
			}
			pf.Plan = nested
		}
		plan.addPrefetch(pf)
	}
	return nil
}

// planRelationSource plans the load of one relation-backed node source. An
// all-to-one chain joins into the current query and the child node keeps
// collecting joins under the extended prefix; a chain ending in a to-many
// relation becomes a batched prefetch carrying the child's own plan.
func (p *Planner) planRelationSource(
	target *expand.NodeType,
	ri expand.RootInstructions,
	address string,
	joinPrefix string,
	ent *schema.Entity,
	source string,
	lenient bool,
	plan *Plan,
) error {
	chain, rest, err := p.relationChain(ent, source)
	if err != nil {
		return err
	}
	if len(chain) == 0 || rest != "" {
		// not relation-backed (or trailing attribute access): nothing to
		// plan, the lazy fetch path covers it
		return nil
	}

	last := chain[len(chain)-1]
	if last.rel.Kind.ToMany() {
		nested := &Plan{Entity: last.rel.Target}
		if target.Entity != "" {
			if err := p.planNode(target, ri, address, "", lenient, nested); err != nil {
				return err
			}
		}
		plan.addPrefetch(PrefetchPlan{
			Path: joinPath(joinPrefix, chainPath(chain)),
			Plan: nested,
		})
		return nil
	}

	join := joinPath(joinPrefix, chainPath(chain))
	plan.addJoin(join)
	if target.Entity != "" {
		return p.planNode(target, ri, address, join, lenient, plan)
	}
	return nil
}

// chainStep is one resolved relation segment of an attribute path.
type chainStep struct {
	name string
	rel  *schema.Relationship
}

// relationChain resolves the leading relation segments of a dot-delimited
// attribute path against the entity graph. Resolution stops at the first
// segment that is not a relation, or just after the first to-many relation;
// the unresolved remainder comes back as rest.
func (p *Planner) relationChain(ent *schema.Entity, source string) ([]chainStep, string, error) {
	segments := strings.Split(source, expand.AttrDelimiter)
	chain := make([]chainStep, 0, len(segments))
	current := ent

	for i, segment := range segments {
		rel, ok := current.Relationship(segment)
		if !ok {
			return chain, strings.Join(segments[i:], expand.AttrDelimiter), nil
		}
		chain = append(chain, chainStep{name: segment, rel: rel})
		if rel.Kind.ToMany() {
			return chain, strings.Join(segments[i+1:], expand.AttrDelimiter), nil
		}
		target, ok := p.registry.Get(rel.Target)
		if !ok {
			return nil, "", fmt.Errorf("relation %s targets unknown entity %s", segment, rel.Target)
		}
		current = target
	}

	return chain, "", nil
}

// addJoin records a join path once, preserving first-seen order.
func (pl *Plan) addJoin(path string) {
	for _, existing := range pl.SelectRelated {
		if existing == path {
			return
		}
	}
	pl.SelectRelated = append(pl.SelectRelated, path)
}

// addPrefetch records a prefetch, merging plans when the path repeats.
func (pl *Plan) addPrefetch(pf PrefetchPlan) {
	for i := range pl.Prefetches {
		if pl.Prefetches[i].Path != pf.Path {
			continue
		}
		if pl.Prefetches[i].Plan == nil {
			pl.Prefetches[i].Plan = pf.Plan
		} else if pf.Plan != nil {
			pl.Prefetches[i].Plan.merge(pf.Plan)
		}
		return
	}
	pl.Prefetches = append(pl.Prefetches, pf)
}

// merge folds another plan's joins and prefetches into this one.
func (pl *Plan) merge(other *Plan) {
	for _, join := range other.SelectRelated {
		pl.addJoin(join)
	}
	for _, pf := range other.Prefetches {
		pl.addPrefetch(pf)
	}
}

// chainPath renders a relation chain as a dotted path.
func chainPath(chain []chainStep) string {
	names := make([]string, len(chain))
	for i, step := range chain {
		names[i] = step.name
	}
	return strings.Join(names, ".")
}

// joinPath prefixes a relation path with the current join prefix.
func joinPath(prefix, path string) string {
	if prefix == "" {
		return path
	}
	return prefix + "." + path
}

// childAddress extends a hierarchy address by one field name.
func childAddress(address, name string) string {
	if address == "" {
		return name
	}
	return address + expand.PathDelimiter + name
}
