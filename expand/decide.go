package expand

import (
	"fmt"
)

// Decision is the resolved representation of one expandable field on one
// node for one request.
type Decision int

const (
	// DecisionNone emits nothing for the field.
	DecisionNone Decision = iota

	// DecisionIDOnly emits only the "<field>_id" reference.
	DecisionIDOnly

	// DecisionFull emits the fully serialized nested representation.
	DecisionFull

	// DecisionIDList emits a bare list of identifiers.
	DecisionIDList
)

// String returns the string representation of the decision.
func (d Decision) String() string {
	switch d {
	case DecisionNone:
		return "none"
	case DecisionIDOnly:
		return "id_only"
	case DecisionFull:
		return "full"
	case DecisionIDList:
		return "id_list"
	default:
		return "unknown"
	}
}

// FieldDecision pairs a standardized expandable definition with the
// outcome for one request. EmitID is orthogonal to the decision: a fully
// expanded to-one field still carries its "<field>_id" reference.
type FieldDecision struct {
	Def      *ExpandableDef
	Decision Decision
	EmitID   bool
}

// Decide computes, per expandable field of a node type in declaration
// order, the representation the given root instructions call for at the
// given hierarchy address. The optimization planner re-derives plans by
// calling this with the same inputs the serializer used.
//
// Unless lenient is set, instruction names that match neither an
// expandable field nor (for full expansion) a plain field fail with the
// complete set of offenders.
func Decide(t *NodeType, types *Registry, ri RootInstructions, address string, lenient bool) ([]FieldDecision, error) {
	defs, err := StandardizeDefs(t, types)
	if err != nil {
		return nil, err
	}

	localFull, localIDOnly := ri.Local(address)

	if !lenient && !t.SkipInstructionValidation {
		if err := validateInstructions(t, defs, localFull, localIDOnly); err != nil {
			return nil, err
		}
	}

	decisions := make([]FieldDecision, 0, len(defs))
	for _, def := range defs {
		fd := FieldDecision{
			Def:    def,
			EmitID: !def.Many && !def.DisableID,
		}

		switch {
		case localFull[def.Name]:
			fd.Decision = DecisionFull
		case localIDOnly[def.Name]:
			if !def.Many && def.IDListAccessor == nil {
				return nil, fmt.Errorf(
					"%w: %q on serializer %q", ErrIDOnlyToOne, def.Name, t.Name,
				)
			}
			fd.Decision = DecisionIDList
		case fd.EmitID:
			fd.Decision = DecisionIDOnly
		default:
			fd.Decision = DecisionNone
		}

		decisions = append(decisions, fd)
	}

	return decisions, nil
}

// validateInstructions checks every locally addressed expansion name.
// Full-expand names may target a plain field (this permits nested-path
// instructions to reach always-present nested serializers); ID-only names
// must be declared expandable.
func validateInstructions(t *NodeType, defs []*ExpandableDef, localFull, localIDOnly map[string]bool) error {
	expandable := make(map[string]bool, len(defs))
	for _, def := range defs {
		expandable[def.Name] = true
	}

	unmatchedFull := make(map[string]bool)
	for name := range localFull {
		if !expandable[name] && !t.hasField(name) {
			unmatchedFull[name] = true
		}
	}
	if len(unmatchedFull) > 0 {
		return fmt.Errorf(
			"%w: %s for serializer %q",
			ErrNotExpandable, quotedList(unmatchedFull), t.Name,
		)
	}

	unmatchedIDOnly := make(map[string]bool)
	for name := range localIDOnly {
		if !expandable[name] {
			unmatchedIDOnly[name] = true
		}
	}
	if len(unmatchedIDOnly) > 0 {
		return fmt.Errorf(
			"%w: %s for serializer %q",
			ErrNotExpandable, quotedList(unmatchedIDOnly), t.Name,
		)
	}

	return nil
}
