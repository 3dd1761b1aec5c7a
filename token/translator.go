package token

import (
	"fmt"
)

// TagSource resolves entity names to type tags and back. schema.Registry
// satisfies this interface.
type TagSource interface {
	TagFor(entity string) (int64, bool)
	EntityFor(tag int64) (string, bool)
}

// Translator binds a Codec to a TagSource so callers can work with entity
// names instead of raw type tags.
type Translator struct {
	codec Codec
	tags  TagSource
}

// NewTranslator creates a translator over the given codec and tag source.
func NewTranslator(codec Codec, tags TagSource) *Translator {
	return &Translator{codec: codec, tags: tags}
}

// ExternalID encodes an internal identifier for the named entity.
func (t *Translator) ExternalID(entity string, id int64) (string, error) {
	tag, ok := t.tags.TagFor(entity)
	if !ok {
		return "", fmt.Errorf("no type tag registered for entity %s", entity)
	}
	return t.codec.Encode(tag, id)
}

// InternalID decodes a token expected to belong to the named entity.
// A token minted for a different entity yields ErrNotFound rather than a
// silently misinterpreted identifier.
func (t *Translator) InternalID(entity string, token string) (int64, error) {
	tag, id, err := t.codec.Decode(token)
	if err != nil {
		return 0, err
	}

	owner, ok := t.tags.EntityFor(tag)
	if !ok || owner != entity {
		return 0, ErrNotFound
	}
	return id, nil
}
