// Copyright 2025 James Ross
// Package machinist produces image derivatives from a single uploaded
// original and records them durably.
package machinist

import (
	"fmt"

	"github.com/archivault/workers/internal/blob"
)

// candidateExtensions is the fixed fallback order tried after the job's
// own input_extension, per spec.md §4.6 step 2.
var candidateExtensions = []string{"tif", "tiff", "jpg", "jpeg", "png"}

func candidateOriginKeys(tenantID, batchID, assetID, inputExt string) []string {
	tried := map[string]bool{}
	var exts []string
	if inputExt != "" {
		exts = append(exts, inputExt)
		tried[inputExt] = true
	}
	for _, e := range candidateExtensions {
		if !tried[e] {
			exts = append(exts, e)
			tried[e] = true
		}
	}

	keys := make([]string, len(exts))
	for i, ext := range exts {
		keys[i] = landingKey(tenantID, batchID, assetID, ext)
	}
	return keys
}

// landingKey is the flat incoming-upload location a machinist job reads
// its original from (no purpose subfolder).
func landingKey(tenantID, batchID, assetID, ext string) string {
	return fmt.Sprintf("tenant-%s/batch-%s/asset-%s/original.%s", tenantID, batchID, assetID, ext)
}

// persistedOriginKey is where step 6 writes the original once validated,
// under its file_purpose's folder alongside the purpose's derivatives.
func persistedOriginKey(tenantID, batchID, assetID, purpose, ext string) string {
	return derivativeKey(tenantID, batchID, assetID, purpose, "original."+ext)
}

func derivativeKey(tenantID, batchID, assetID, folder, filename string) string {
	return fmt.Sprintf("tenant-%s/batch-%s/asset-%s/%s/%s", tenantID, batchID, assetID, folder, filename)
}

// derivativeFolder maps a generated derivative's variant name to its
// canonical folder, per spec.md §6.
func derivativeFolder(variant string) string {
	switch variant {
	case "viewing", "ai":
		return variant
	case "thumb-small", "thumb-medium", "thumb-large":
		return "thumbnails"
	default:
		return variant
	}
}

func manifestKey(tenantID, batchID, assetID string) string {
	return derivativeKey(tenantID, batchID, assetID, "metadata", "manifest.json")
}

func preservationBundleKey(tenantID, assetID string) string {
	return fmt.Sprintf("archive/tenant-%s/asset-%s/preservation/preservation.tar.gz", tenantID, assetID)
}

// originBucketLabel reports which bucket label the original upload (step 6)
// targets: the archive bucket for preservation, the standard bucket
// otherwise.
func originBucketLabel(purpose string) blob.Label {
	if purpose == "preservation" {
		return blob.LabelArchive
	}
	return blob.LabelStandard
}
