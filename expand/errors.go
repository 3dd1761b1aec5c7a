package expand

import "errors"

var (
	// ErrMaxDepthExceeded is returned when an expansion instruction nests
	// deeper than the configured maximum.
	ErrMaxDepthExceeded = errors.New("expansion exceeds maximum depth")

	// ErrNotExpandable is returned when an expansion instruction names a
	// field the node does not declare.
	ErrNotExpandable = errors.New("fields not expandable")

	// ErrFieldNotFound is returned when a projection instruction names a
	// field absent from the node.
	ErrFieldNotFound = errors.New("fields not found")

	// ErrAmbiguousOnly is returned when an inclusion set mixes the
	// wildcard with explicit field names.
	ErrAmbiguousOnly = errors.New("cannot serialize both all fields and a subset")

	// ErrIDOnlyToOne is returned when an ID-only expansion targets a
	// to-one field.
	ErrIDOnlyToOne = errors.New("can only expand as ID-only on to-many fields")

	// ErrNotFound is returned when a resolvable ID input references an
	// instance that does not exist.
	ErrNotFound = errors.New("referenced instance not found")
)
