// Copyright 2025 James Ross
// Package store defines the relational persistence interfaces the core
// depends on (spec.md §3) and Postgres/SQLite implementations of them.
package store

import "time"

// AssetVersion is one row per (asset_id, purpose, variant, type); writes
// are upserts on that unique tuple.
type AssetVersion struct {
	AssetID           string
	Purpose           string
	Variant           string
	Type              string
	BucketLabel       string
	Key               string
	Status            string // pending, processing, success, failed
	FileSize          int64
	Width             int
	Height            int
	BitDepth          int
	ColorSpace        string
	MimeType          string
	Checksum          string
	ChecksumAlgorithm string
	Metadata          []byte // free-form JSON document
	FailedReason      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AIDescription is one row per (tenant_id, asset_id), upserted on
// completion.
type AIDescription struct {
	TenantID  string
	AssetID   string
	Model     string
	Content   []byte // normalized model output, JSON document
	Keywords  []string
	Telemetry []byte // processing telemetry document
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Jobgroup status values, per spec.md §3's lifecycle.
const (
	JobgroupCreated    = "created"
	JobgroupValidating = "validating"
	JobgroupInProgress = "in_progress"
	JobgroupCompleted  = "completed"
	JobgroupFailed     = "failed"
	JobgroupExpired    = "expired"
	JobgroupCancelled  = "cancelled"
)

// terminalJobgroupStatuses are sticky: once reached, status must not
// regress (spec.md §3 invariant).
var terminalJobgroupStatuses = map[string]bool{
	JobgroupCompleted: true,
	JobgroupFailed:    true,
	JobgroupExpired:   true,
	JobgroupCancelled: true,
}

// IsTerminalJobgroupStatus reports whether status is one of the sticky
// terminal states.
func IsTerminalJobgroupStatus(status string) bool {
	return terminalJobgroupStatuses[status]
}

// Jobgroup is the durable record of one async batch submission.
type Jobgroup struct {
	ID                 string
	TenantID           string
	BatchID            string
	ExternalJobgroupID string
	InputFileID        string
	OutputFileID       string
	Status             string
	RequestCount       int
	Notes              []byte // free-form JSON document
	CreatedAt          time.Time
	CompletedAt        *time.Time
	FailedAt           *time.Time
}

// JobgroupResult is one row per (jobgroup_id, asset_id), upsert-only.
type JobgroupResult struct {
	JobgroupID   string
	AssetID      string
	Status       string // completed, failed
	ErrorCode    string
	ErrorMessage string
	RawResponse  []byte
	CustomID     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
