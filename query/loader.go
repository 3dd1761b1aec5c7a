package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/expandkit/expandkit/schema"
)

// Loader executes relation loads against the database. Batched loads back
// prefetched to-many expansion; the single-record methods implement the
// lazy fetch interface the serializer falls back on when no plan covers a
// relation.
type Loader struct {
	db       Querier
	registry *schema.Registry
	logger   *zap.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger attaches a logger for load debugging.
func WithLogger(logger *zap.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a relation loader over the given connection and registry.
func NewLoader(db Querier, registry *schema.Registry, opts ...LoaderOption) *Loader {
	l := &Loader{db: db, registry: registry}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Builder creates a query builder over the named entity sharing this
// loader's connection.
func (l *Loader) Builder(entity string) (*Builder, error) {
	qb, err := NewBuilder(entity, l.registry, l.db)
	if err != nil {
		return nil, err
	}
	qb.logger = l.logger
	return qb, nil
}

// Load runs prefetches against already-fetched records, one batched query
// per relation, attaching the results under the relation names. Dotted
// relation paths walk through already-attached relation records first.
func (l *Loader) Load(
	ctx context.Context,
	records []map[string]interface{},
	entity string,
	prefetches []Prefetch,
) error {
	ent, ok := l.registry.Get(entity)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	return l.applyPrefetches(ctx, records, ent, prefetches)
}

// applyPrefetches dispatches each prefetch onto its owning records.
func (l *Loader) applyPrefetches(
	ctx context.Context,
	records []map[string]interface{},
	entity *schema.Entity,
	prefetches []Prefetch,
) error {
	for _, p := range prefetches {
		parents, owner, relation, err := l.resolvePrefetchParents(records, entity, p.Relation)
		if err != nil {
			return err
		}
		if len(parents) == 0 {
			continue
		}

		rel, ok := owner.Relationship(relation)
		if !ok {
			return fmt.Errorf("%w: %s on %s", ErrUnknownRelation, relation, owner.Name)
		}

		inner := p.Query
		if inner == nil {
			var err error
			inner, err = NewBuilder(rel.Target, l.registry, l.db)
			if err != nil {
				return err
			}
			inner.logger = l.logger
		} else {
			inner = inner.Clone()
		}

		if l.logger != nil {
			l.logger.Debug("prefetching relation",
				zap.String("entity", owner.Name),
				zap.String("relation", relation),
				zap.Int("parents", len(parents)))
		}

		switch rel.Kind {
		case schema.BelongsTo:
			err = l.loadBelongsTo(ctx, parents, owner, rel, inner)
		case schema.HasOne:
			err = l.loadHasOne(ctx, parents, owner, rel, inner)
		case schema.HasMany:
			err = l.loadHasMany(ctx, parents, owner, rel, inner)
		case schema.HasManyThrough:
			err = l.loadThrough(ctx, parents, owner, rel, inner)
		}
		if err != nil {
			return fmt.Errorf("failed to load relation %s: %w", p.Relation, err)
		}
	}
	return nil
}

// resolvePrefetchParents walks the to-one prefix of a dotted prefetch path,
// collecting the relation records already attached to each row. The final
// segment is the relation to load onto those records.
func (l *Loader) resolvePrefetchParents(
	records []map[string]interface{},
	entity *schema.Entity,
	path string,
) ([]map[string]interface{}, *schema.Entity, string, error) {
	segments := strings.Split(path, ".")
	parents := records
	owner := entity

	for _, segment := range segments[:len(segments)-1] {
		rel, ok := owner.Relationship(segment)
		if !ok {
			return nil, nil, "", fmt.Errorf("%w: %s on %s", ErrUnknownRelation, segment, owner.Name)
		}
		target, ok := l.registry.Get(rel.Target)
		if !ok {
			return nil, nil, "", fmt.Errorf("%w: %s", ErrUnknownEntity, rel.Target)
		}

		collected := make([]map[string]interface{}, 0, len(parents))
		for _, rec := range parents {
			switch v := rec[segment].(type) {
			case map[string]interface{}:
				collected = append(collected, v)
			case []map[string]interface{}:
				collected = append(collected, v...)
			}
		}
		parents = collected
		owner = target
	}

	return parents, owner, segments[len(segments)-1], nil
}

// loadBelongsTo batches all distinct foreign keys into one query and maps
// the parents back onto each record.
func (l *Loader) loadBelongsTo(
	ctx context.Context,
	records []map[string]interface{},
	entity *schema.Entity,
	rel *schema.Relationship,
	inner *Builder,
) error {
	var ids []interface{}
	seen := make(map[string]bool)
	for _, record := range records {
		id := record[rel.ForeignKey]
		if id == nil {
			continue
		}
		key := idKey(id)
		if !seen[key] {
			seen[key] = true
			ids = append(ids, id)
		}
	}

	if len(ids) == 0 {
		for _, record := range records {
			record[rel.Name] = nil
		}
		return nil
	}

	results, err := inner.WhereIn(inner.entity.PrimaryKey(), ids).All(ctx)
	if err != nil {
		return err
	}

	byID := make(map[string]map[string]interface{}, len(results))
	for _, rec := range results {
		byID[idKey(rec[inner.entity.PrimaryKey()])] = rec
	}

	for _, record := range records {
		id := record[rel.ForeignKey]
		if id == nil {
			record[rel.Name] = nil
			continue
		}
		if related, ok := byID[idKey(id)]; ok {
			record[rel.Name] = related
		} else {
			record[rel.Name] = nil
		}
	}
	return nil
}

// loadHasOne batches a reverse lookup and keeps the first child per parent.
func (l *Loader) loadHasOne(
	ctx context.Context,
	records []map[string]interface{},
	entity *schema.Entity,
	rel *schema.Relationship,
	inner *Builder,
) error {
	parentIDs := collectKeys(records, entity.PrimaryKey())
	if len(parentIDs) == 0 {
		return nil
	}

	inner.WhereIn(rel.ForeignKey, parentIDs)
	if rel.OrderBy != "" && len(inner.orderBy) == 0 {
		inner.OrderBy(rel.OrderBy, "ASC")
	}
	results, err := inner.All(ctx)
	if err != nil {
		return err
	}

	byParent := make(map[string]map[string]interface{})
	for _, rec := range results {
		key := idKey(rec[rel.ForeignKey])
		if _, ok := byParent[key]; !ok {
			byParent[key] = rec
		}
	}

	for _, record := range records {
		key := idKey(record[entity.PrimaryKey()])
		if related, ok := byParent[key]; ok {
			record[rel.Name] = related
		} else {
			record[rel.Name] = nil
		}
	}
	return nil
}

// loadHasMany batches all children in one query and groups them by the
// foreign key back onto their parents.
func (l *Loader) loadHasMany(
	ctx context.Context,
	records []map[string]interface{},
	entity *schema.Entity,
	rel *schema.Relationship,
	inner *Builder,
) error {
	parentIDs := collectKeys(records, entity.PrimaryKey())
	if len(parentIDs) == 0 {
		return nil
	}

	inner.WhereIn(rel.ForeignKey, parentIDs)
	if rel.OrderBy != "" && len(inner.orderBy) == 0 {
		inner.OrderBy(rel.OrderBy, "ASC")
	}
	results, err := inner.All(ctx)
	if err != nil {
		return err
	}

	grouped := make(map[string][]map[string]interface{})
	for _, rec := range results {
		key := idKey(rec[rel.ForeignKey])
		grouped[key] = append(grouped[key], rec)
	}

	for _, record := range records {
		key := idKey(record[entity.PrimaryKey()])
		children := grouped[key]
		if children == nil {
			children = make([]map[string]interface{}, 0)
		}
		record[rel.Name] = children
	}
	return nil
}

// loadThrough resolves a many-to-many relation in a single query by joining
// through the junction table and grouping rows on the parent key marker.
func (l *Loader) loadThrough(
	ctx context.Context,
	records []map[string]interface{},
	entity *schema.Entity,
	rel *schema.Relationship,
	inner *Builder,
) error {
	parentIDs := collectKeys(records, entity.PrimaryKey())
	if len(parentIDs) == 0 {
		return nil
	}

	inner.through = &throughJoin{
		joinTable:      rel.JoinTable,
		associationKey: rel.AssociationKey,
		foreignKey:     rel.ForeignKey,
		parentIDs:      parentIDs,
	}
	results, err := inner.All(ctx)
	if err != nil {
		return err
	}

	grouped := make(map[string][]map[string]interface{})
	for _, rec := range results {
		key := idKey(rec[parentKeyColumn])
		delete(rec, parentKeyColumn)
		grouped[key] = append(grouped[key], rec)
	}

	for _, record := range records {
		key := idKey(record[entity.PrimaryKey()])
		children := grouped[key]
		if children == nil {
			children = make([]map[string]interface{}, 0)
		}
		record[rel.Name] = children
	}
	return nil
}

// PrimaryKey reports the primary key column of an entity, defaulting to
// "id" for unregistered names.
func (l *Loader) PrimaryKey(entity string) string {
	if ent, ok := l.registry.Get(entity); ok {
		return ent.PrimaryKey()
	}
	return "id"
}

// Relation reports the target entity and cardinality of a named relation.
func (l *Loader) Relation(entity, relation string) (string, bool, bool) {
	ent, ok := l.registry.Get(entity)
	if !ok {
		return "", false, false
	}
	rel, ok := ent.Relationship(relation)
	if !ok {
		return "", false, false
	}
	return rel.Target, rel.Kind.ToMany(), true
}

// FetchRelated loads one relation for a single record. This is the lazy
// path the serializer takes when a relation was not planned up front.
func (l *Loader) FetchRelated(
	ctx context.Context,
	entity, relation string,
	record map[string]interface{},
) (interface{}, error) {
	ent, ok := l.registry.Get(entity)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	rel, ok := ent.Relationship(relation)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnknownRelation, relation, entity)
	}

	if l.logger != nil {
		l.logger.Debug("lazy relation fetch",
			zap.String("entity", entity),
			zap.String("relation", relation))
	}

	inner, err := l.Builder(rel.Target)
	if err != nil {
		return nil, err
	}

	switch rel.Kind {
	case schema.BelongsTo:
		id := record[rel.ForeignKey]
		if id == nil {
			return nil, nil
		}
		related, err := inner.ByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return related, err

	case schema.HasOne:
		inner.Where(rel.ForeignKey, OpEqual, record[ent.PrimaryKey()])
		if rel.OrderBy != "" {
			inner.OrderBy(rel.OrderBy, "ASC")
		}
		related, err := inner.First(ctx)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return related, err

	case schema.HasMany:
		inner.Where(rel.ForeignKey, OpEqual, record[ent.PrimaryKey()])
		if rel.OrderBy != "" {
			inner.OrderBy(rel.OrderBy, "ASC")
		}
		return inner.All(ctx)

	case schema.HasManyThrough:
		inner.through = &throughJoin{
			joinTable:      rel.JoinTable,
			associationKey: rel.AssociationKey,
			foreignKey:     rel.ForeignKey,
			parentIDs:      []interface{}{record[ent.PrimaryKey()]},
		}
		results, err := inner.All(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range results {
			delete(rec, parentKeyColumn)
		}
		return results, nil
	}

	return nil, fmt.Errorf("%w: %s on %s", ErrUnknownRelation, relation, entity)
}

// FindByID fetches a single record by primary key.
func (l *Loader) FindByID(ctx context.Context, entity string, id interface{}) (map[string]interface{}, error) {
	inner, err := l.Builder(entity)
	if err != nil {
		return nil, err
	}
	return inner.ByID(ctx, id)
}

// collectKeys gathers the non-nil values of a column across records.
func collectKeys(records []map[string]interface{}, column string) []interface{} {
	var ids []interface{}
	seen := make(map[string]bool)
	for _, record := range records {
		id := record[column]
		if id == nil {
			continue
		}
		key := idKey(id)
		if !seen[key] {
			seen[key] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// idKey normalizes an identifier value into a map key.
func idKey(id interface{}) string {
	return fmt.Sprintf("%v", id)
}
