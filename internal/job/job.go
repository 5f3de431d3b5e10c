// Copyright 2025 James Ross
// Package job defines the queue payload sum type and its validators.
package job

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/archivault/workers/internal/apperrors"
	"github.com/google/uuid"
)

type Worker string

const (
	Machinist Worker = "machinist"
	Archivist Worker = "archivist"
)

type Priority string

const (
	Instant  Priority = "instant"
	Standard Priority = "standard"
	Jobgroup Priority = "jobgroup"
)

type FilePurpose string

const (
	Preservation FilePurpose = "preservation"
	Viewing      FilePurpose = "viewing"
	Production   FilePurpose = "production"
	Restoration  FilePurpose = "restoration"
)

var filePurposes = map[string]bool{
	string(Preservation): true,
	string(Viewing):      true,
	string(Production):   true,
	string(Restoration):  true,
}

// ExtensionAllowList is the bit-exact allow-list from spec.md §6.
var ExtensionAllowList = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "tif": true, "tiff": true,
}

// MimeAllowList is the bit-exact MIME allow-list from spec.md §6.
var MimeAllowList = map[string]bool{
	"image/jpeg": true, "image/png": true, "image/tiff": true,
}

var processingTypes = map[string]bool{
	"instant": true, "standard": true, "jobgroup": true, "batch": true,
}

// Job is the tagged queue payload. Worker and Priority are derived, not
// serialized directly; JobType and ProcessingType carry the raw tags.
type Job struct {
	JobType        string `json:"job_type"`
	ProcessingType string `json:"processing_type"`
	TenantID       string `json:"tenant_id"`
	AssetID        string `json:"asset_id"`
	BatchID        string `json:"batch_id,omitempty"`
	FilePurpose    string `json:"file_purpose,omitempty"`
	InputExtension string `json:"input_extension,omitempty"`
	Retries        int    `json:"retries,omitempty"`
	EnqueuedAt     string `json:"enqueued_at,omitempty"`
	CustomID       string `json:"custom_id,omitempty"`
}

func Marshal(j Job) (string, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return "", apperrors.NewSerialization(err)
	}
	return string(b), nil
}

func Unmarshal(raw string) (Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return Job{}, apperrors.NewSerialization(err)
	}
	return j, nil
}

// DeriveWorker returns the worker by prefix-matching JobType, defaulting to
// Machinist when JobType is empty per the control plane's enqueue default.
func (j Job) DeriveWorker() (Worker, error) {
	jt := j.JobType
	if jt == "" {
		jt = string(Machinist)
	}
	switch {
	case strings.HasPrefix(jt, string(Machinist)):
		return Machinist, nil
	case strings.HasPrefix(jt, string(Archivist)):
		return Archivist, nil
	default:
		return "", apperrors.NewRouting(fmt.Sprintf("unknown worker for job_type=%q", j.JobType))
	}
}

// DerivePriority maps ProcessingType to a queue priority per spec.md §4.2.
func (j Job) DerivePriority() Priority {
	switch j.ProcessingType {
	case "instant", "individual":
		return Instant
	case "jobgroup", "batch":
		return Jobgroup
	case "standard":
		return Standard
	default:
		return Standard
	}
}

// NormalizeProcessingType rewrites the deprecated "batch" synonym to "jobgroup".
func NormalizeProcessingType(pt string) string {
	if pt == "batch" {
		return "jobgroup"
	}
	return pt
}

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// SanitizeExtension strips control chars, a leading dot, case-folds, and
// checks against ExtensionAllowList.
func SanitizeExtension(raw string) (string, error) {
	if raw == "" || len(raw) > 256 {
		return "", apperrors.NewValidation("INVALID_EXTENSION", "input_extension", "must be a non-empty string of at most 256 characters")
	}
	var b strings.Builder
	for _, r := range raw {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	cleaned := strings.ToLower(strings.TrimPrefix(b.String(), "."))
	if strings.Contains(cleaned, "..") || strings.ContainsAny(cleaned, "/\\") || !safeNamePattern.MatchString(cleaned) {
		return "", apperrors.NewValidation("UNSAFE_EXTENSION", "input_extension", "contains unsafe characters")
	}
	if !ExtensionAllowList[cleaned] {
		return "", apperrors.NewValidation("UNSUPPORTED_EXTENSION", "input_extension", fmt.Sprintf("%q is not in the allow-list", cleaned))
	}
	return cleaned, nil
}

func isUUIDv4(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 4
}

// ValidateMachinist enforces spec.md §4.3's machinist rules.
func ValidateMachinist(j Job) error {
	if !isUUIDv4(j.TenantID) {
		return apperrors.NewValidation("INVALID_TENANT_ID", "tenant_id", "must be a UUIDv4")
	}
	if !isUUIDv4(j.AssetID) {
		return apperrors.NewValidation("INVALID_ASSET_ID", "asset_id", "must be a UUIDv4")
	}
	if j.BatchID != "" && !isUUIDv4(j.BatchID) {
		return apperrors.NewValidation("INVALID_BATCH_ID", "batch_id", "must be a UUIDv4")
	}
	if !filePurposes[j.FilePurpose] {
		return apperrors.NewValidation("INVALID_FILE_PURPOSE", "file_purpose", fmt.Sprintf("%q is not in the allow-list", j.FilePurpose))
	}
	if _, err := SanitizeExtension(j.InputExtension); err != nil {
		return err
	}
	return nil
}

// ValidateArchivist enforces spec.md §4.3's archivist rules.
func ValidateArchivist(j Job) error {
	if !isUUIDv4(j.TenantID) {
		return apperrors.NewValidation("INVALID_TENANT_ID", "tenant_id", "must be a UUIDv4")
	}
	if !isUUIDv4(j.AssetID) {
		return apperrors.NewValidation("INVALID_ASSET_ID", "asset_id", "must be a UUIDv4")
	}
	if j.BatchID != "" && !isUUIDv4(j.BatchID) {
		return apperrors.NewValidation("INVALID_BATCH_ID", "batch_id", "must be a UUIDv4")
	}
	pt := NormalizeProcessingType(j.ProcessingType)
	if !processingTypes[pt] {
		return apperrors.NewValidation("INVALID_PROCESSING_TYPE", "processing_type", fmt.Sprintf("%q is not in the allow-list", j.ProcessingType))
	}
	return nil
}

// Validate dispatches to the worker-specific validator.
func Validate(j Job) error {
	w, err := j.DeriveWorker()
	if err != nil {
		return err
	}
	switch w {
	case Machinist:
		return ValidateMachinist(j)
	case Archivist:
		return ValidateArchivist(j)
	default:
		return apperrors.NewRouting(fmt.Sprintf("unknown worker %q", w))
	}
}
