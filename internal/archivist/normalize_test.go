// Copyright 2025 James Ross
package archivist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeIntersectsTagsWithAllowList(t *testing.T) {
	raw := map[string]interface{}{
		"tags": []interface{}{"portrait", "spaceship", "map"},
	}
	out := normalize(raw, []string{"portrait", "map"}, 30)
	require.Equal(t, []string{"portrait", "map"}, out.Tags)
}

func TestNormalizeCapsKeywordsAtMax(t *testing.T) {
	keywords := make([]interface{}, 40)
	for i := range keywords {
		keywords[i] = "kw"
	}
	out := normalize(map[string]interface{}{"keywords": keywords}, nil, 30)
	require.Len(t, out.Keywords, 30)
}

func TestNormalizeDropsNonStringArrayElements(t *testing.T) {
	raw := map[string]interface{}{"keywords": []interface{}{"a", 5, "b", nil}}
	out := normalize(raw, nil, 30)
	require.Equal(t, []string{"a", "b"}, out.Keywords)
}

func TestNormalizeCoercesMissingSpatialTemporalToEmptyMaps(t *testing.T) {
	out := normalize(map[string]interface{}{}, nil, 30)
	require.NotNil(t, out.Spatial)
	require.NotNil(t, out.Temporal)
	require.Empty(t, out.Spatial)
}

func TestNormalizeCoercesWronglyTypedSpatialBlock(t *testing.T) {
	out := normalize(map[string]interface{}{"spatial": "not an object"}, nil, 30)
	require.Empty(t, out.Spatial)
}

func TestNormalizePreservesDescriptionString(t *testing.T) {
	out := normalize(map[string]interface{}{"description": "an old photograph"}, nil, 30)
	require.Equal(t, "an old photograph", out.Description)
}
