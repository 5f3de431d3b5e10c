// Copyright 2025 James Ross
package machinist

import (
	"bytes"
	"encoding/json"
	"time"
)

// manifest is the deterministic document merged from EXIF, the optional AI
// block, and system fields, per spec.md §4.6 step 9. Field order here is
// the wire order: Go's encoding/json emits struct fields in declaration
// order, which is what makes this deterministic without a custom encoder.
type manifest struct {
	AssetID     string       `json:"asset_id"`
	TenantID    string       `json:"tenant_id"`
	BatchID     string       `json:"batch_id,omitempty"`
	FilePurpose string       `json:"file_purpose"`
	GeneratedAt string       `json:"generated_at"`
	Exif        *exifGroups  `json:"exif,omitempty"`
	AI          interface{}  `json:"ai,omitempty"`
	System      manifestSys  `json:"system"`
}

type manifestSys struct {
	OriginalFormat string `json:"original_format"`
	OriginalWidth  int    `json:"original_width,omitempty"`
	OriginalHeight int    `json:"original_height,omitempty"`
	OriginalSize   int    `json:"original_size"`
	Checksum       string `json:"checksum"`
}

func buildManifest(assetID, tenantID, batchID, purpose string, exif exifGroups, ai interface{}, sys manifestSys, now time.Time) manifest {
	var exifPtr *exifGroups
	if exif.Identity != nil || exif.Capture != nil || exif.Camera != nil ||
		exif.Exposure != nil || exif.Image != nil || exif.Software != nil || exif.File != nil {
		exifPtr = &exif
	}
	return manifest{
		AssetID:     assetID,
		TenantID:    tenantID,
		BatchID:     batchID,
		FilePurpose: purpose,
		GeneratedAt: now.UTC().Format(time.RFC3339),
		Exif:        exifPtr,
		AI:          ai,
		System:      sys,
	}
}

// marshalManifest renders m as stable JSON. encoding/json already emits
// map keys sorted lexically and struct fields in declaration order, which
// is what makes this deterministic across re-runs.
func marshalManifest(m manifest) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
