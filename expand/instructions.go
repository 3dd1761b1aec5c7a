package expand

import (
	"fmt"
	"strings"
)

// Instructions carries the per-request serialization instructions supplied
// once at the top of a serialization call. Each path set uses the
// PathDelimiter to address nested nodes.
type Instructions struct {
	// Expand names relation fields to serialize fully.
	Expand []string

	// ExpandIDOnly names to-many relation fields to serialize as bare
	// identifier lists. A nested ID-only path implies full expansion of
	// its ancestors.
	ExpandIDOnly []string

	// Only whitelists fields; empty means no restriction.
	Only []string

	// Exclude blacklists fields addressed exactly at their level.
	Exclude []string

	// AutoOptimize requests query rewriting for this call.
	AutoOptimize bool

	// SkipValidation suppresses instruction validation, treating unmatched
	// expansion names as having no effect instead of failing the call.
	SkipValidation bool
}

// RootInstructions is the normalized form of the expansion instruction
// sets, ready for per-node projection.
type RootInstructions struct {
	Full   map[string]bool
	IDOnly map[string]bool
}

// NewRootInstructions normalizes the expansion sets: any ID-only path with
// ancestors has its parent path added to the full-expand set, since an
// ID-only leaf requires its ancestors to be materialized.
func NewRootInstructions(expand, expandIDOnly []string) RootInstructions {
	full := toSet(expand)
	idOnly := toSet(expandIDOnly)

	for path := range idOnly {
		if i := strings.LastIndex(path, PathDelimiter); i >= 0 {
			full[path[:i]] = true
		}
	}

	return RootInstructions{Full: full, IDOnly: idOnly}
}

// ValidateDepth checks every instruction path against the maximum segment
// count. Called at the true root only; a violation aborts the entire
// serialization.
func (ri RootInstructions) ValidateDepth(max int) error {
	for _, set := range []map[string]bool{ri.Full, ri.IDOnly} {
		for path := range set {
			if depth := pathDepth(path); depth > max {
				return fmt.Errorf(
					"%w: expansion of %q has depth %d, maximum is %d",
					ErrMaxDepthExceeded, path, depth, max,
				)
			}
		}
	}
	return nil
}

// Local derives the instructions relevant at one hierarchy address: the
// full-expand names at that level, and the ID-only names not already
// claimed by full expansion (full always wins on conflict).
func (ri RootInstructions) Local(address string) (full, idOnly map[string]bool) {
	full = firstSegments(projectPaths(address, ri.Full))
	idOnly = firstSegments(projectPaths(address, ri.IDOnly))

	for name := range idOnly {
		if full[name] {
			delete(idOnly, name)
		}
	}
	return full, idOnly
}
