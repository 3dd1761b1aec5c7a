package expand

import (
	"fmt"
	"strings"
)

// fieldStage is one step of the projection pipeline. Stages only ever
// shrink the field list; order within it is preserved.
type fieldStage func(s *Serializer, fields []field) ([]field, error)

// applyProjection runs the node's field list through the projection
// pipeline: inclusion first, then exclusion. Both reduce the set, so the
// outcome is order-independent; the pipeline fixes an order anyway to keep
// error reporting deterministic.
func (s *Serializer) applyProjection(fields []field) ([]field, error) {
	for _, stage := range []fieldStage{onlyStage, excludeStage} {
		filtered, err := stage(s, fields)
		if err != nil {
			return nil, err
		}
		fields = filtered
	}
	return fields, nil
}

// onlyStage whitelists fields named by the "only" instruction set at this
// hierarchy level. An empty projection (which can only occur when a parent
// was whitelisted) or a lone wildcard leaves the node untouched.
func onlyStage(s *Serializer, fields []field) ([]field, error) {
	only := toSet(s.rt.instr.Only)
	if len(only) == 0 {
		return fields, nil
	}

	local := projectPaths(s.address(), only)
	names := make(map[string]bool, len(local))
	for path := range local {
		names[firstSegment(path)] = true
	}

	if len(names) == 0 || (len(names) == 1 && names[Wildcard]) {
		return fields, nil
	}
	if names[Wildcard] {
		return nil, fmt.Errorf(
			"%w: got %s for serializer %q; serialize some fields or all",
			ErrAmbiguousOnly, quotedList(names), s.typ.Name,
		)
	}

	if err := reportUnmatched(s, names, fields); err != nil {
		return nil, err
	}

	filtered := make([]field, 0, len(names))
	for _, f := range fields {
		if names[f.fieldName()] {
			filtered = append(filtered, f)
		}
	}
	return filtered, nil
}

// excludeStage removes fields addressed exactly at this hierarchy level by
// the "exclude" instruction set. Deeper paths are left for the recursion
// into the child node.
func excludeStage(s *Serializer, fields []field) ([]field, error) {
	exclude := toSet(s.rt.instr.Exclude)
	if len(exclude) == 0 {
		return fields, nil
	}

	local := projectPaths(s.address(), exclude)
	names := make(map[string]bool)
	for path := range local {
		if path != Wildcard && !strings.Contains(path, PathDelimiter) {
			names[path] = true
		}
	}
	if len(names) == 0 {
		return fields, nil
	}

	if err := reportUnmatched(s, names, fields); err != nil {
		return nil, err
	}

	filtered := make([]field, 0, len(fields))
	for _, f := range fields {
		if !names[f.fieldName()] {
			filtered = append(filtered, f)
		}
	}
	return filtered, nil
}

// reportUnmatched fails with the complete set of instruction names that do
// not correspond to a field on this node.
func reportUnmatched(s *Serializer, names map[string]bool, fields []field) error {
	present := make(map[string]bool, len(fields))
	for _, f := range fields {
		present[f.fieldName()] = true
	}

	unmatched := make(map[string]bool)
	for name := range names {
		if !present[name] {
			unmatched[name] = true
		}
	}
	if len(unmatched) > 0 {
		return fmt.Errorf(
			"%w: %s on serializer %q",
			ErrFieldNotFound, quotedList(unmatched), s.typ.Name,
		)
	}
	return nil
}
