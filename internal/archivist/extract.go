// Copyright 2025 James Ross
package archivist

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	codeFenceRe     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// extractJSON implements spec.md §4.7 step 5: enforce a byte ceiling on
// the raw model content, strip markdown code fences and trailing commas,
// slice between the first "{" and the last "}", then parse. A content
// body that still doesn't parse is treated as an empty object rather
// than failing the job — a malformed model response should degrade the
// description, not the pipeline.
func extractJSON(content string, maxBytes int64) (map[string]interface{}, error) {
	if maxBytes > 0 && int64(len(content)) > maxBytes {
		content = content[:maxBytes]
	}

	if m := codeFenceRe.FindStringSubmatch(content); m != nil {
		content = m[1]
	}

	first := strings.IndexByte(content, '{')
	last := strings.LastIndexByte(content, '}')
	if first < 0 || last < 0 || last < first {
		return map[string]interface{}{}, nil
	}
	content = content[first : last+1]
	content = trailingCommaRe.ReplaceAllString(content, "$1")

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return map[string]interface{}{}, nil
	}
	return parsed, nil
}
