// Package web exposes serialization over HTTP: query-string instruction
// parsing and chi-mounted list/detail resource handlers.
package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/expandkit/expandkit/config"
	"github.com/expandkit/expandkit/expand"
)

// Query parameter names recognized by ParseInstructions.
const (
	ParamExpand       = "expand"
	ParamExpandIDOnly = "expand_id_only"
	ParamOnly         = "only"
	ParamExclude      = "exclude"
	ParamAutoOptimize = "auto_optimize"
	ParamValidate     = "validate_expand_instructions"
)

// ParseInstructions reads serialization instructions from a request's query
// string. Each path parameter accepts comma-separated values and may repeat.
// auto_optimize defaults from configuration; validate_expand_instructions
// defaults to on.
func ParseInstructions(r *http.Request, cfg config.Config) expand.Instructions {
	q := r.URL.Query()
	return expand.Instructions{
		Expand:         splitParam(q[ParamExpand]),
		ExpandIDOnly:   splitParam(q[ParamExpandIDOnly]),
		Only:           splitParam(q[ParamOnly]),
		Exclude:        splitParam(q[ParamExclude]),
		AutoOptimize:   boolParam(q.Get(ParamAutoOptimize), cfg.AutoOptimize),
		SkipValidation: !boolParam(q.Get(ParamValidate), true),
	}
}

// splitParam flattens repeated comma-separated parameter values.
func splitParam(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// boolParam parses a boolean query value, falling back on parse failure.
func boolParam(value string, fallback bool) bool {
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}
