package query

import "errors"

var (
	// ErrUnknownEntity is returned when a builder or loader is asked about
	// an entity that has not been registered.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrUnknownRelation is returned when a relation name does not exist
	// on the entity being queried.
	ErrUnknownRelation = errors.New("unknown relation")

	// ErrToManyJoin is returned when a to-many relation appears in a
	// join path. To-many relations load through separate batched queries.
	ErrToManyJoin = errors.New("cannot join a to-many relation")

	// ErrNotFound is returned when a single-record lookup matches nothing.
	ErrNotFound = errors.New("record not found")
)
