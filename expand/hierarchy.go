// Package expand implements request-driven serializer extensions: selective
// field projection, conditional expansion of relation fields, and the
// per-node decisions an optimization planner rewrites queries from.
//
// Serializer trees mirror the nested output shape. Per-request instructions
// are flat sets of delimited paths ("cars__model") supplied once at the
// root; every node derives its own local slice of them by projecting
// through its hierarchy address.
package expand

import (
	"sort"
	"strings"
)

const (
	// PathDelimiter separates segments in instruction paths ("a__b").
	PathDelimiter = "__"

	// AttrDelimiter separates segments in attribute-path overrides
	// ("model.manufacturer"). Distinct from PathDelimiter so instruction
	// paths and value sources can never be confused.
	AttrDelimiter = "."

	// Wildcard marks a projected path that targets the entire node.
	Wildcard = "*"
)

// address returns the node's hierarchy position: the empty string at the
// root, the field name for a direct child, and delimiter-joined names for
// deeper nodes ("cars__model").
func (s *Serializer) address() string {
	name := s.fieldName
	parent := s.parent

	for parent != nil {
		if parent.fieldName != "" {
			if name != "" {
				name = parent.fieldName + PathDelimiter + name
			} else {
				name = parent.fieldName
			}
		}
		parent = parent.parent
	}

	return name
}

// Address exposes the node's hierarchy position, mainly for custom
// expansion callbacks.
func (s *Serializer) Address() string {
	return s.address()
}

// projectPaths scopes a set of root-level paths to one hierarchy position.
//
//	projectPaths("", {"a", "b__b1"})            => {"a", "b__b1"}
//	projectPaths("a", {"a", "b__b1"})           => {"*"}
//	projectPaths("a", {"a__a1", "a__a2__a3"})   => {"a1", "a2__a3"}
//	projectPaths("a", {"b", "c__c1"})           => {}
//
// The wildcard means the entire node is targeted with no restriction
// below. Paths visible at other hierarchy levels are dropped.
func projectPaths(address string, rootPaths map[string]bool) map[string]bool {
	matching := make(map[string]bool)

	for path := range rootPaths {
		switch {
		case path == address:
			matching[Wildcard] = true
		case address != "":
			prefix := address + PathDelimiter
			if strings.HasPrefix(path, prefix) {
				matching[path[len(prefix):]] = true
			}
		default:
			matching[path] = true
		}
	}

	return matching
}

// firstSegment returns the path up to the first delimiter.
func firstSegment(path string) string {
	if i := strings.Index(path, PathDelimiter); i >= 0 {
		return path[:i]
	}
	return path
}

// firstSegments reduces projected paths to the field names addressed at
// this level, discarding the wildcard (a node cannot expand itself).
func firstSegments(paths map[string]bool) map[string]bool {
	names := make(map[string]bool, len(paths))
	for path := range paths {
		if path == Wildcard {
			continue
		}
		names[firstSegment(path)] = true
	}
	return names
}

// pathDepth counts the segments of an instruction path.
func pathDepth(path string) int {
	return strings.Count(path, PathDelimiter) + 1
}

// quotedList renders a set of names as `"a", "b"` for error messages,
// sorted so messages are deterministic.
func quotedList(names map[string]bool) string {
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	quoted := make([]string, len(sorted))
	for i, name := range sorted {
		quoted[i] = `"` + name + `"`
	}
	return strings.Join(quoted, ", ")
}

// toSet converts an instruction slice to a set, ignoring empty entries.
func toSet(paths []string) map[string]bool {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		if p != "" {
			set[p] = true
		}
	}
	return set
}
