// Copyright 2025 James Ross
// Package archivist generates an AI-written description and keyword set
// for a single asset by calling an external vision-capable model, or
// delegates the job to the jobgroup subsystem for batch processing.
package archivist

import "fmt"

// aiVersionKey is the canonical "ai" derivative machinist writes (bit-exact
// key convention per spec.md §6): preferred source image for description.
func aiVersionKey(tenantID, batchID, assetID string) string {
	return fmt.Sprintf("tenant-%s/batch-%s/asset-%s/ai/ai.jpg", tenantID, batchID, assetID)
}

// viewingKey is the fallback source image when no "ai" derivative exists
// yet (e.g. the asset's file_purpose skipped ai generation).
func viewingKey(tenantID, batchID, assetID string) string {
	return fmt.Sprintf("tenant-%s/batch-%s/asset-%s/viewing/viewing.jpg", tenantID, batchID, assetID)
}
