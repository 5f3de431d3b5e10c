// Copyright 2025 James Ross
package archivist

import (
	"fmt"
	"strings"

	"github.com/archivault/workers/internal/modelapi"
)

const systemPrompt = `You are an archival cataloguer. Examine the supplied image and return
a single JSON object describing it, with no surrounding prose. Use this
shape exactly:
{
  "description": string,
  "tags": string[],
  "keywords": string[],
  "spatial": {"setting": string, "notable_features": string[]},
  "temporal": {"era_estimate": string, "confidence": string}
}
Only use tags from the allowed list given below; omit any that don't apply.`

// buildMessages assembles the chat-completions message array: a static
// system instruction and a user turn carrying the identifiers, the
// allowed-tag list, and the inline base64 image.
func buildMessages(tenantID, assetID, batchID string, allowedTags []string, dataURL string) []modelapi.ChatMessage {
	var userText strings.Builder
	fmt.Fprintf(&userText, "tenant_id: %s\nasset_id: %s\n", tenantID, assetID)
	if batchID != "" {
		fmt.Fprintf(&userText, "batch_id: %s\n", batchID)
	}
	fmt.Fprintf(&userText, "allowed_tags: %s\n", strings.Join(allowedTags, ", "))

	return []modelapi.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{
			Role: "user",
			Content: []map[string]interface{}{
				{"type": "text", "text": userText.String()},
				{"type": "image_url", "image_url": map[string]string{"url": dataURL}},
			},
		},
	}
}
