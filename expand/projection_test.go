package expand

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnlyWhitelistsFields(t *testing.T) {
	f := newFakeFetcher()
	s := newTestSerializer(t, "Owner", f)

	out, err := s.Serialize(context.Background(), f.owner(1), Instructions{
		Only: []string{"name"},
	})
	require.NoError(t, err)
	assert.Equal(t, Record{"name": "Tyrell"}, out)
}

func TestOnlyKeepsWholeExpandedChild(t *testing.T) {
	f := newFakeFetcher()
	s := newTestSerializer(t, "Owner", f)

	out, err := s.Serialize(context.Background(), f.owner(1), Instructions{
		Expand: []string{"organization"},
		Only:   []string{"organization"},
	})
	require.NoError(t, err)
	assert.Equal(t, Record{
		"organization": Record{"id": int64(10), "name": "Acme"},
	}, out)
}

func TestOnlyNestedPath(t *testing.T) {
	f := newFakeFetcher()
	s := newTestSerializer(t, "Owner", f)

	out, err := s.Serialize(context.Background(), f.owner(1), Instructions{
		Expand: []string{"organization"},
		Only:   []string{"name", "organization__name"},
	})
	require.NoError(t, err)
	assert.Equal(t, Record{
		"name":         "Tyrell",
		"organization": Record{"name": "Acme"},
	}, out)
}

func TestOnlyUnmatchedFieldFails(t *testing.T) {
	f := newFakeFetcher()
	s := newTestSerializer(t, "Owner", f)

	_, err := s.Serialize(context.Background(), f.owner(1), Instructions{
		Only: []string{"name", "bogus"},
	})
	require.ErrorIs(t, err, ErrFieldNotFound)
	assert.Contains(t, err.Error(), `"bogus"`)
}

func TestOnlyAmbiguousWildcard(t *testing.T) {
	f := newFakeFetcher()
	s := newTestSerializer(t, "Owner", f)

	// "organization" targets the whole child while "organization__name"
	// restricts it: contradictory at the child node
	_, err := s.Serialize(context.Background(), f.owner(1), Instructions{
		Expand: []string{"organization"},
		Only:   []string{"organization", "organization__name"},
	})
	assert.ErrorIs(t, err, ErrAmbiguousOnly)
}

func TestExcludeRemovesFields(t *testing.T) {
	f := newFakeFetcher()
	s := newTestSerializer(t, "Owner", f)

	out, err := s.Serialize(context.Background(), f.owner(1), Instructions{
		Exclude: []string{"organization_id"},
	})
	require.NoError(t, err)
	assert.Equal(t, Record{"id": int64(1), "name": "Tyrell"}, out)
}

func TestExcludeNestedPath(t *testing.T) {
	f := newFakeFetcher()
	s := newTestSerializer(t, "Owner", f)

	out, err := s.Serialize(context.Background(), f.owner(1), Instructions{
		Expand:  []string{"organization"},
		Exclude: []string{"organization__id"},
	})
	require.NoError(t, err)
	assert.Equal(t, Record{"name": "Acme"}, out["organization"])
	assert.Contains(t, out, "id", "exclusion applies only at its own level")
}

func TestExcludeUnmatchedFieldFails(t *testing.T) {
	f := newFakeFetcher()
	s := newTestSerializer(t, "Owner", f)

	_, err := s.Serialize(context.Background(), f.owner(1), Instructions{
		Exclude: []string{"bogus"},
	})
	require.ErrorIs(t, err, ErrFieldNotFound)
	assert.Contains(t, err.Error(), `"bogus"`)
}

func TestOnlyAndExcludeCompose(t *testing.T) {
	f := newFakeFetcher()
	s := newTestSerializer(t, "Owner", f)

	out, err := s.Serialize(context.Background(), f.owner(1), Instructions{
		Only:    []string{"id", "name"},
		Exclude: []string{"name"},
	})
	require.NoError(t, err)
	assert.Equal(t, Record{"id": int64(1)}, out)
}

func TestEmptyProjectionIsIdentity(t *testing.T) {
	f := newFakeFetcher()
	s := newTestSerializer(t, "Owner", f)

	plain, err := s.Serialize(context.Background(), f.owner(1), Instructions{})
	require.NoError(t, err)
	projected, err := s.Serialize(context.Background(), f.owner(1), Instructions{
		Only:    []string{},
		Exclude: []string{},
	})
	require.NoError(t, err)
	assert.Equal(t, plain, projected)
}

func TestOnlyParentLeavesChildUntouched(t *testing.T) {
	f := newFakeFetcher()
	s := newTestSerializer(t, "Owner", f)

	// whitelisting the child at the parent level keeps all child fields
	out, err := s.Serialize(context.Background(), f.owner(1), Instructions{
		Expand: []string{"cars"},
		Only:   []string{"cars"},
	})
	require.NoError(t, err)

	cars, ok := out["cars"].([]Record)
	require.True(t, ok)
	require.Len(t, cars, 2)
	assert.Contains(t, cars[0], "variant")
	assert.Contains(t, cars[0], "model_id")
}
