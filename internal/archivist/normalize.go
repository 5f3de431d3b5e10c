// Copyright 2025 James Ross
package archivist

// normalizedContent is the shape persisted on AIDescription.Content.
type normalizedContent struct {
	Description string                 `json:"description"`
	Tags        []string               `json:"tags"`
	Keywords    []string               `json:"keywords"`
	Spatial     map[string]interface{} `json:"spatial"`
	Temporal    map[string]interface{} `json:"temporal"`
}

// normalize implements spec.md §4.7 step 6: intersect tags with the
// allow-list, cap keywords at maxKeywords, normalize the tags and keywords
// string arrays, and coerce the spatial/temporal blocks to plain
// maps (tolerating a model that returns the wrong type for either). Keys
// other than description, tags, keywords, spatial and temporal are not
// carried over.
func normalize(raw map[string]interface{}, allowedTags []string, maxKeywords int) normalizedContent {
	allowed := make(map[string]bool, len(allowedTags))
	for _, t := range allowedTags {
		allowed[t] = true
	}

	out := normalizedContent{
		Description: stringField(raw["description"]),
		Tags:        intersectTags(stringArray(raw["tags"]), allowed),
		Keywords:    capKeywords(stringArray(raw["keywords"]), maxKeywords),
		Spatial:     coerceBlock(raw["spatial"]),
		Temporal:    coerceBlock(raw["temporal"]),
	}
	return out
}

func stringField(v interface{}) string {
	s, _ := v.(string)
	return s
}

// stringArray normalizes a JSON value expected to be a string array: a
// non-array value yields an empty slice, and non-string elements are
// dropped rather than panicking or propagating a type error.
func stringArray(v interface{}) []string {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func intersectTags(tags []string, allowed map[string]bool) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if allowed[t] {
			out = append(out, t)
		}
	}
	return out
}

func capKeywords(keywords []string, max int) []string {
	if max <= 0 || len(keywords) <= max {
		return keywords
	}
	return keywords[:max]
}

// coerceBlock normalizes a JSON value expected to be an object. A missing
// or wrongly-typed block becomes an empty map rather than nil, so the
// persisted content document always carries both keys.
func coerceBlock(v interface{}) map[string]interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return m
}
