package query

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/expandkit/expandkit/schema"
)

// Querier is the subset of *sql.DB the builder needs. *sql.DB and *sql.Tx
// both satisfy it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Prefetch declares a relation to load in a separate batched query after
// the main result set is fetched. Relation may be a dotted path whose
// leading segments walk relation records already attached to each row.
// Query, when non-nil, is the builder used for the related rows; it may
// carry its own joins and prefetches.
type Prefetch struct {
	Relation string
	Query    *Builder
}

// Builder provides a fluent API for building SQL queries over a registered
// entity. Joined to-one relations land as nested records on each row; to-many
// relations declared via PrefetchRelated load in follow-up batched queries.
type Builder struct {
	entity   *schema.Entity
	registry *schema.Registry
	db       Querier
	logger   *zap.Logger

	conditions []*Condition
	joinPaths  []string
	prefetches []Prefetch
	orderBy    []string
	limit      *int
	offset     *int

	// set by the loader for many-to-many batch loads
	through *throughJoin

	// For building SQL
	paramCounter int
	args         []interface{}
}

// throughJoin injects a junction-table join so that a many-to-many batch
// resolves in a single query. The parent key is selected under the
// parentKeyColumn marker so rows can be grouped back onto their parents.
type throughJoin struct {
	joinTable      string
	associationKey string
	foreignKey     string
	parentIDs      []interface{}
}

// parentKeyColumn is the marker column carrying the owning record's key in
// junction-joined result sets.
const parentKeyColumn = "__parent_id"

// NewBuilder creates a query builder for the named entity.
func NewBuilder(entity string, registry *schema.Registry, db Querier) (*Builder, error) {
	ent, ok := registry.Get(entity)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	return &Builder{
		entity:       ent,
		registry:     registry,
		db:           db,
		conditions:   make([]*Condition, 0),
		joinPaths:    make([]string, 0),
		prefetches:   make([]Prefetch, 0),
		orderBy:      make([]string, 0),
		paramCounter: 1,
		args:         make([]interface{}, 0),
	}, nil
}

// WithLogger attaches a logger for query debugging.
func (qb *Builder) WithLogger(logger *zap.Logger) *Builder {
	qb.logger = logger
	return qb
}

// Entity returns the entity this builder queries.
func (qb *Builder) Entity() *schema.Entity {
	return qb.entity
}

// NewFor creates a fresh builder over another entity sharing this builder's
// connection, registry and logger. Used to build prefetch queries.
func (qb *Builder) NewFor(entity string) (*Builder, error) {
	inner, err := NewBuilder(entity, qb.registry, qb.db)
	if err != nil {
		return nil, err
	}
	inner.logger = qb.logger
	return inner, nil
}

// Where adds a WHERE condition on a column of the base entity.
func (qb *Builder) Where(field string, op Operator, value interface{}) *Builder {
	qb.conditions = append(qb.conditions, &Condition{
		Field:    field,
		Operator: op,
		Value:    value,
		Or:       false,
	})
	return qb
}

// OrWhere adds an OR WHERE condition.
func (qb *Builder) OrWhere(field string, op Operator, value interface{}) *Builder {
	qb.conditions = append(qb.conditions, &Condition{
		Field:    field,
		Operator: op,
		Value:    value,
		Or:       true,
	})
	return qb
}

// WhereIn adds a WHERE field = ANY(...) condition.
func (qb *Builder) WhereIn(field string, values []interface{}) *Builder {
	return qb.Where(field, OpIn, values)
}

// WhereNull adds a WHERE IS NULL condition.
func (qb *Builder) WhereNull(field string) *Builder {
	return qb.Where(field, OpIsNull, nil)
}

// WhereNotNull adds a WHERE IS NOT NULL condition.
func (qb *Builder) WhereNotNull(field string) *Builder {
	return qb.Where(field, OpIsNotNull, nil)
}

// OrderBy adds an ORDER BY clause.
func (qb *Builder) OrderBy(field string, direction string) *Builder {
	dir := strings.ToUpper(direction)
	if dir != "ASC" && dir != "DESC" {
		dir = "ASC"
	}
	qb.orderBy = append(qb.orderBy, fmt.Sprintf("%s %s", pq.QuoteIdentifier(field), dir))
	return qb
}

// Limit sets the LIMIT clause.
func (qb *Builder) Limit(n int) *Builder {
	qb.limit = &n
	return qb
}

// Offset sets the OFFSET clause.
func (qb *Builder) Offset(n int) *Builder {
	qb.offset = &n
	return qb
}

// SelectRelated adds dot-delimited to-one relation paths to join into the
// main query. Each path segment must name a belongs_to or has_one relation;
// joined rows appear as nested records under the relation names.
func (qb *Builder) SelectRelated(paths ...string) *Builder {
	for _, path := range paths {
		if path == "" {
			continue
		}
		qb.joinPaths = append(qb.joinPaths, path)
	}
	return qb
}

// PrefetchRelated declares to-many relations to load in separate batched
// queries. A Prefetch with a nil Query gets a default builder over the
// relation's target.
func (qb *Builder) PrefetchRelated(prefetches ...Prefetch) *Builder {
	qb.prefetches = append(qb.prefetches, prefetches...)
	return qb
}

// Clone creates a copy of the query builder.
func (qb *Builder) Clone() *Builder {
	clone := &Builder{
		entity:       qb.entity,
		registry:     qb.registry,
		db:           qb.db,
		logger:       qb.logger,
		through:      qb.through,
		conditions:   make([]*Condition, len(qb.conditions)),
		joinPaths:    make([]string, len(qb.joinPaths)),
		prefetches:   make([]Prefetch, len(qb.prefetches)),
		orderBy:      make([]string, len(qb.orderBy)),
		paramCounter: 1,
		args:         make([]interface{}, 0),
	}
	copy(clone.conditions, qb.conditions)
	copy(clone.joinPaths, qb.joinPaths)
	copy(clone.prefetches, qb.prefetches)
	copy(clone.orderBy, qb.orderBy)
	if qb.limit != nil {
		limit := *qb.limit
		clone.limit = &limit
	}
	if qb.offset != nil {
		offset := *qb.offset
		clone.offset = &offset
	}
	return clone
}

// joinClause is one resolved LEFT JOIN derived from a relation path prefix.
type joinClause struct {
	path        string
	alias       string
	parentAlias string
	target      *schema.Entity
	on          string
}

// resolveJoins expands the declared relation paths into an ordered, de-duped
// list of join clauses. "model.manufacturer" yields joins for "model" and
// "model.manufacturer".
func (qb *Builder) resolveJoins() ([]*joinClause, error) {
	seen := make(map[string]*joinClause)
	ordered := make([]*joinClause, 0)

	for _, path := range qb.joinPaths {
		segments := strings.Split(path, ".")
		current := qb.entity
		parentAlias := "t0"
		prefix := ""

		for _, segment := range segments {
			if prefix == "" {
				prefix = segment
			} else {
				prefix = prefix + "." + segment
			}

			if existing, ok := seen[prefix]; ok {
				current = existing.target
				parentAlias = existing.alias
				continue
			}

			rel, ok := current.Relationship(segment)
			if !ok {
				return nil, fmt.Errorf("%w: %s on %s", ErrUnknownRelation, segment, current.Name)
			}
			if rel.Kind.ToMany() {
				return nil, fmt.Errorf("%w: %s on %s", ErrToManyJoin, segment, current.Name)
			}
			target, ok := qb.registry.Get(rel.Target)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, rel.Target)
			}

			alias := fmt.Sprintf("t%d", len(ordered)+1)
			clause := &joinClause{
				path:        prefix,
				alias:       alias,
				parentAlias: parentAlias,
				target:      target,
			}
			switch rel.Kind {
			case schema.BelongsTo:
				// child holds the foreign key
				clause.on = fmt.Sprintf("%s.%s = %s.%s",
					alias, pq.QuoteIdentifier(target.PrimaryKey()),
					parentAlias, pq.QuoteIdentifier(rel.ForeignKey))
			case schema.HasOne:
				clause.on = fmt.Sprintf("%s.%s = %s.%s",
					alias, pq.QuoteIdentifier(rel.ForeignKey),
					parentAlias, pq.QuoteIdentifier(current.PrimaryKey()))
			}

			seen[prefix] = clause
			ordered = append(ordered, clause)
			current = target
			parentAlias = alias
		}
	}

	return ordered, nil
}

// ToSQL generates the SQL query and parameter bindings.
func (qb *Builder) ToSQL() (string, []interface{}, error) {
	var sb strings.Builder
	qb.args = make([]interface{}, 0)
	qb.paramCounter = 1

	joins, err := qb.resolveJoins()
	if err != nil {
		return "", nil, err
	}

	table := pq.QuoteIdentifier(qb.entity.TableName)
	qualified := len(joins) > 0 || qb.through != nil

	if !qualified {
		sb.WriteString(fmt.Sprintf("SELECT * FROM %s", table))
	} else {
		selects := make([]string, 0)
		for _, name := range qb.entity.FieldNames() {
			selects = append(selects, fmt.Sprintf("t0.%s AS %s",
				pq.QuoteIdentifier(name), pq.QuoteIdentifier(name)))
		}
		for _, join := range joins {
			for _, name := range join.target.FieldNames() {
				selects = append(selects, fmt.Sprintf("%s.%s AS %s",
					join.alias, pq.QuoteIdentifier(name),
					pq.QuoteIdentifier(join.path+"."+name)))
			}
		}
		if qb.through != nil {
			selects = append(selects, fmt.Sprintf("jt.%s AS %s",
				pq.QuoteIdentifier(qb.through.foreignKey),
				pq.QuoteIdentifier(parentKeyColumn)))
		}
		sb.WriteString(fmt.Sprintf("SELECT %s FROM %s t0", strings.Join(selects, ", "), table))

		for _, join := range joins {
			sb.WriteString(fmt.Sprintf(" LEFT JOIN %s %s ON %s",
				pq.QuoteIdentifier(join.target.TableName), join.alias, join.on))
		}
	}

	// junction join for batched many-to-many loads
	if qb.through != nil {
		sb.WriteString(fmt.Sprintf(" JOIN %s jt ON jt.%s = t0.%s",
			pq.QuoteIdentifier(qb.through.joinTable),
			pq.QuoteIdentifier(qb.through.associationKey),
			pq.QuoteIdentifier(qb.entity.PrimaryKey())))
	}

	qualifier := ""
	if qualified {
		qualifier = "t0"
	}

	conditions := qb.conditions
	if qb.through != nil {
		placeholder := fmt.Sprintf("$%d", qb.paramCounter)
		qb.paramCounter++
		qb.args = append(qb.args, pq.Array(qb.through.parentIDs))
		sb.WriteString(fmt.Sprintf(" WHERE jt.%s = ANY(%s)",
			pq.QuoteIdentifier(qb.through.foreignKey), placeholder))
		for _, cond := range conditions {
			connector := " AND "
			if cond.Or {
				connector = " OR "
			}
			condSQL, err := conditionToSQL(cond, qualifier, &qb.paramCounter, &qb.args)
			if err != nil {
				return "", nil, fmt.Errorf("failed to build condition: %w", err)
			}
			sb.WriteString(connector + condSQL)
		}
	} else if len(conditions) > 0 {
		sb.WriteString(" WHERE ")
		for i, cond := range conditions {
			if i > 0 {
				if cond.Or {
					sb.WriteString(" OR ")
				} else {
					sb.WriteString(" AND ")
				}
			}
			condSQL, err := conditionToSQL(cond, qualifier, &qb.paramCounter, &qb.args)
			if err != nil {
				return "", nil, fmt.Errorf("failed to build condition: %w", err)
			}
			sb.WriteString(condSQL)
		}
	}

	if len(qb.orderBy) > 0 {
		orderings := make([]string, 0, len(qb.orderBy))
		for _, o := range qb.orderBy {
			if qualified {
				o = "t0." + o
			}
			orderings = append(orderings, o)
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(orderings, ", "))
	}

	if qb.limit != nil {
		sb.WriteString(fmt.Sprintf(" LIMIT $%d", qb.paramCounter))
		qb.args = append(qb.args, *qb.limit)
		qb.paramCounter++
	}

	if qb.offset != nil {
		sb.WriteString(fmt.Sprintf(" OFFSET $%d", qb.paramCounter))
		qb.args = append(qb.args, *qb.offset)
		qb.paramCounter++
	}

	return sb.String(), qb.args, nil
}

// All executes the query and returns all matching rows. Joined relations
// come back as nested records; declared prefetches run afterwards in
// batched follow-up queries.
func (qb *Builder) All(ctx context.Context) ([]map[string]interface{}, error) {
	sqlStr, args, err := qb.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to generate SQL: %w", err)
	}

	if qb.logger != nil {
		qb.logger.Debug("executing query",
			zap.String("entity", qb.entity.Name),
			zap.String("sql", sqlStr),
			zap.Int("args", len(args)))
	}

	rows, err := qb.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	flat, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan rows: %w", err)
	}

	joins, err := qb.resolveJoins()
	if err != nil {
		return nil, err
	}

	results := flat
	if len(joins) > 0 {
		results = make([]map[string]interface{}, 0, len(flat))
		for _, rec := range flat {
			results = append(results, nestRecord(rec, joins))
		}
	}

	if len(qb.prefetches) > 0 && len(results) > 0 {
		loader := NewLoader(qb.db, qb.registry, WithLogger(qb.logger))
		if err := loader.applyPrefetches(ctx, results, qb.entity, qb.prefetches); err != nil {
			return nil, fmt.Errorf("failed to load prefetched relations: %w", err)
		}
	}

	return results, nil
}

// First executes the query and returns the first matching row.
func (qb *Builder) First(ctx context.Context) (map[string]interface{}, error) {
	qb.Limit(1)
	results, err := qb.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}
	return results[0], nil
}

// ByID fetches the record with the given primary key.
func (qb *Builder) ByID(ctx context.Context, id interface{}) (map[string]interface{}, error) {
	return qb.Where(qb.entity.PrimaryKey(), OpEqual, id).First(ctx)
}

// Count executes the query and returns the number of matching rows.
func (qb *Builder) Count(ctx context.Context) (int, error) {
	var sb strings.Builder
	qb.args = make([]interface{}, 0)
	qb.paramCounter = 1

	sb.WriteString(fmt.Sprintf("SELECT COUNT(*) FROM %s", pq.QuoteIdentifier(qb.entity.TableName)))
	if len(qb.conditions) > 0 {
		sb.WriteString(" WHERE ")
		for i, cond := range qb.conditions {
			if i > 0 {
				if cond.Or {
					sb.WriteString(" OR ")
				} else {
					sb.WriteString(" AND ")
				}
			}
			condSQL, err := conditionToSQL(cond, "", &qb.paramCounter, &qb.args)
			if err != nil {
				return 0, fmt.Errorf("failed to build condition: %w", err)
			}
			sb.WriteString(condSQL)
		}
	}

	var count int
	if err := qb.db.QueryRowContext(ctx, sb.String(), qb.args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to execute count query: %w", err)
	}
	return count, nil
}

// scanRows scans SQL rows into a slice of maps keyed by column name.
func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		record := make(map[string]interface{})
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
			} else {
				record[col] = values[i]
			}
		}

		results = append(results, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// nestRecord turns a flat joined row into a record with nested relation
// records. Joined columns arrive as "path.column"; a joined relation whose
// primary key scanned as NULL becomes a nil relation value.
func nestRecord(flat map[string]interface{}, joins []*joinClause) map[string]interface{} {
	out := make(map[string]interface{})
	nested := make(map[string]map[string]interface{}, len(joins))
	for _, join := range joins {
		nested[join.path] = make(map[string]interface{})
	}

	for col, v := range flat {
		idx := strings.LastIndex(col, ".")
		if idx < 0 {
			out[col] = v
			continue
		}
		if rec, ok := nested[col[:idx]]; ok {
			rec[col[idx+1:]] = v
		} else {
			out[col] = v
		}
	}

	// attach shallow paths first so a NULL parent swallows its children
	paths := make([]string, 0, len(nested))
	for path := range nested {
		paths = append(paths, path)
	}
	sort.Slice(paths, func(i, j int) bool {
		return strings.Count(paths[i], ".") < strings.Count(paths[j], ".")
	})

	pkFor := make(map[string]string, len(joins))
	for _, join := range joins {
		pkFor[join.path] = join.target.PrimaryKey()
	}

	for _, path := range paths {
		rec := nested[path]
		container, name, ok := nestTarget(out, path)
		if !ok {
			continue
		}
		if rec[pkFor[path]] == nil {
			container[name] = nil
		} else {
			container[name] = rec
		}
	}

	return out
}

// nestTarget walks the dotted path to find the map that should hold the
// relation value, returning ok=false when an ancestor relation is nil.
func nestTarget(root map[string]interface{}, path string) (map[string]interface{}, string, bool) {
	segments := strings.Split(path, ".")
	current := root
	for _, segment := range segments[:len(segments)-1] {
		next, ok := current[segment].(map[string]interface{})
		if !ok {
			return nil, "", false
		}
		current = next
	}
	return current, segments[len(segments)-1], true
}
