// Package token translates internal identifiers into opaque external
// tokens and back. A token encodes the pair (type tag, internal ID), so a
// token minted for one entity type cannot be resolved against another.
package token

import (
	"errors"
	"fmt"

	hashids "github.com/speps/go-hashids/v2"
)

var (
	// ErrMalformedID is returned when a token cannot be decoded at all.
	ErrMalformedID = errors.New("malformed external ID")

	// ErrNotFound is returned when a token decodes cleanly but does not
	// belong to the expected entity type.
	ErrNotFound = errors.New("external ID not found")
)

// Codec encodes and decodes (type tag, internal ID) pairs. Implementations
// must be reversible: Decode(Encode(tag, id)) == (tag, id).
type Codec interface {
	Encode(tag, id int64) (string, error)
	Decode(token string) (tag, id int64, err error)
}

// HashIDCodec is the default Codec, backed by HashIds. The salt must be
// identical across every process that mints or resolves tokens.
type HashIDCodec struct {
	h *hashids.HashID
}

// NewHashIDCodec creates a HashIds-backed codec.
func NewHashIDCodec(salt string, minLength int) (*HashIDCodec, error) {
	data := hashids.NewData()
	data.Salt = salt
	data.MinLength = minLength

	h, err := hashids.NewWithData(data)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise hashids codec: %w", err)
	}
	return &HashIDCodec{h: h}, nil
}

// Encode produces a token for the given type tag and internal ID.
func (c *HashIDCodec) Encode(tag, id int64) (string, error) {
	token, err := c.h.EncodeInt64([]int64{tag, id})
	if err != nil {
		return "", fmt.Errorf("failed to encode external ID: %w", err)
	}
	return token, nil
}

// Decode recovers the type tag and internal ID from a token.
func (c *HashIDCodec) Decode(token string) (int64, int64, error) {
	parts, err := c.h.DecodeInt64WithError(token)
	if err != nil || len(parts) != 2 {
		return 0, 0, ErrMalformedID
	}
	return parts[0], parts[1], nil
}
