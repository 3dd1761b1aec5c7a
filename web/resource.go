package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/expandkit/expandkit/config"
	"github.com/expandkit/expandkit/expand"
	"github.com/expandkit/expandkit/optimize"
	"github.com/expandkit/expandkit/query"
	"github.com/expandkit/expandkit/schema"
	"github.com/expandkit/expandkit/token"
)

// Resource serves list and detail endpoints for one node type, honoring
// expansion instructions from the query string and rewriting the backing
// queries when optimization is requested.
type Resource struct {
	typ        *expand.NodeType
	cfg        config.Config
	entities   *schema.Registry
	loader     *query.Loader
	planner    *optimize.Planner
	serializer *expand.Serializer
	translator *token.Translator
	logger     *zap.Logger
}

// ResourceOption configures a Resource.
type ResourceOption func(*Resource)

// WithResourceLogger attaches a logger to the resource and its query layer.
func WithResourceLogger(logger *zap.Logger) ResourceOption {
	return func(res *Resource) {
		res.logger = logger
	}
}

// WithResourceTranslator overrides the external-ID translator derived from
// configuration.
func WithResourceTranslator(tr *token.Translator) ResourceOption {
	return func(res *Resource) {
		res.translator = tr
	}
}

// NewResource wires a node type to its entity registry and database
// connection.
func NewResource(
	typ *expand.NodeType,
	cfg config.Config,
	types *expand.Registry,
	entities *schema.Registry,
	db query.Querier,
	opts ...ResourceOption,
) (*Resource, error) {
	res := &Resource{
		typ:      typ,
		cfg:      cfg,
		entities: entities,
	}
	for _, opt := range opts {
		opt(res)
	}

	res.loader = query.NewLoader(db, entities, query.WithLogger(res.logger))
	plannerOpts := []optimize.Option{}
	if res.logger != nil {
		plannerOpts = append(plannerOpts, optimize.WithLogger(res.logger))
	}
	res.planner = optimize.NewPlanner(types, entities, plannerOpts...)

	if res.translator == nil && cfg.Codec != nil {
		res.translator = token.NewTranslator(cfg.Codec, entities)
	}

	serializerOpts := []expand.Option{
		expand.WithConfig(cfg),
		expand.WithTypes(types),
		expand.WithFetcher(res.loader),
	}
	if res.translator != nil {
		serializerOpts = append(serializerOpts, expand.WithTranslator(res.translator))
	}
	serializer, err := expand.New(typ, serializerOpts...)
	if err != nil {
		return nil, err
	}
	res.serializer = serializer

	return res, nil
}

// Routes mounts the list and detail handlers.
func (res *Resource) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", res.list)
	r.Get("/{id}", res.detail)
	return r
}

func (res *Resource) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	instr := ParseInstructions(r, res.cfg)

	qb, err := res.loader.Builder(res.typ.Entity)
	if err != nil {
		res.respondError(w, err)
		return
	}
	if instr.AutoOptimize {
		if _, err := res.planner.Optimize(qb, res.typ, instr); err != nil {
			res.respondError(w, err)
			return
		}
	}

	records, err := qb.All(ctx)
	if err != nil {
		res.respondError(w, err)
		return
	}

	out, err := res.serializer.SerializeMany(ctx, records, instr)
	if err != nil {
		res.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (res *Resource) detail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	instr := ParseInstructions(r, res.cfg)

	id, err := res.resolveID(chi.URLParam(r, "id"))
	if err != nil {
		res.respondError(w, err)
		return
	}

	qb, err := res.loader.Builder(res.typ.Entity)
	if err != nil {
		res.respondError(w, err)
		return
	}
	if instr.AutoOptimize {
		if _, err := res.planner.Optimize(qb, res.typ, instr); err != nil {
			res.respondError(w, err)
			return
		}
	}

	record, err := qb.ByID(ctx, id)
	if err != nil {
		res.respondError(w, err)
		return
	}

	out, err := res.serializer.Serialize(ctx, record, instr)
	if err != nil {
		res.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// resolveID turns the URL identifier into an internal key: an external
// token when external IDs are enabled, a plain integer or string otherwise.
func (res *Resource) resolveID(raw string) (interface{}, error) {
	if res.cfg.UseExternalIDs {
		return res.translator.InternalID(res.typ.Entity, raw)
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, nil
	}
	return raw, nil
}

// respondError maps sentinel errors onto HTTP statuses. Instruction
// mistakes are the caller's fault; unknown identifiers are not found;
// anything else is logged and reported as a server error.
func (res *Resource) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, expand.ErrMaxDepthExceeded),
		errors.Is(err, expand.ErrNotExpandable),
		errors.Is(err, expand.ErrFieldNotFound),
		errors.Is(err, expand.ErrAmbiguousOnly),
		errors.Is(err, expand.ErrIDOnlyToOne):
		status = http.StatusBadRequest
	case errors.Is(err, query.ErrNotFound),
		errors.Is(err, expand.ErrNotFound),
		errors.Is(err, token.ErrNotFound),
		errors.Is(err, token.ErrMalformedID):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError && res.logger != nil {
		res.logger.Error("request failed", zap.Error(err))
	}
	respondJSON(w, status, map[string]interface{}{"error": err.Error()})
}

// respondJSON writes a JSON response body.
func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
