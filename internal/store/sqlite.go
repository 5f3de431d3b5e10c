// Copyright 2025 James Ross
package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/archivault/workers/internal/apperrors"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the SQLite store implementation: a self-contained,
// self-migrating backend for local development and tests, used in place of
// Postgres when config.Store.Driver is "sqlite".
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens dsn (a file path, or ":memory:") and ensures the schema
// exists.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, apperrors.NewStore("open_sqlite", false, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver does not support concurrent writers
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS asset_versions (
			asset_id TEXT NOT NULL,
			purpose TEXT NOT NULL,
			variant TEXT NOT NULL,
			type TEXT NOT NULL,
			bucket_label TEXT,
			key TEXT,
			status TEXT,
			file_size INTEGER,
			width INTEGER,
			height INTEGER,
			bit_depth INTEGER,
			color_space TEXT,
			mime_type TEXT,
			checksum TEXT,
			checksum_algorithm TEXT,
			metadata TEXT,
			failed_reason TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (asset_id, purpose, variant, type)
		);
		CREATE TABLE IF NOT EXISTS ai_descriptions (
			tenant_id TEXT NOT NULL,
			asset_id TEXT NOT NULL,
			model TEXT,
			content TEXT,
			keywords TEXT,
			telemetry TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tenant_id, asset_id)
		);
		CREATE TABLE IF NOT EXISTS jobgroups (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			batch_id TEXT,
			external_jobgroup_id TEXT,
			input_file_id TEXT,
			output_file_id TEXT,
			status TEXT NOT NULL,
			request_count INTEGER,
			notes TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME,
			failed_at DATETIME
		);
		CREATE TABLE IF NOT EXISTS jobgroup_results (
			jobgroup_id TEXT NOT NULL,
			asset_id TEXT NOT NULL,
			status TEXT,
			error_code TEXT,
			error_message TEXT,
			raw_response TEXT,
			custom_id TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (jobgroup_id, asset_id)
		);
	`)
	if err != nil {
		return apperrors.NewStore("sqlite_migrate", false, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertAssetVersion(ctx context.Context, v AssetVersion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO asset_versions (
			asset_id, purpose, variant, type, bucket_label, key, status,
			file_size, width, height, bit_depth, color_space, mime_type,
			checksum, checksum_algorithm, metadata, failed_reason, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(asset_id, purpose, variant, type) DO UPDATE SET
			bucket_label = excluded.bucket_label,
			key = excluded.key,
			status = excluded.status,
			file_size = excluded.file_size,
			width = excluded.width,
			height = excluded.height,
			bit_depth = excluded.bit_depth,
			color_space = excluded.color_space,
			mime_type = excluded.mime_type,
			checksum = excluded.checksum,
			checksum_algorithm = excluded.checksum_algorithm,
			metadata = excluded.metadata,
			failed_reason = excluded.failed_reason,
			updated_at = CURRENT_TIMESTAMP
	`,
		v.AssetID, v.Purpose, v.Variant, v.Type, v.BucketLabel, v.Key, v.Status,
		v.FileSize, v.Width, v.Height, v.BitDepth, v.ColorSpace, v.MimeType,
		v.Checksum, v.ChecksumAlgorithm, string(v.Metadata), v.FailedReason,
	)
	if err != nil {
		return apperrors.NewStore("upsert_asset_version", true, err)
	}
	return nil
}

func (s *SQLiteStore) GetAssetVersion(ctx context.Context, assetID, purpose, variant, typ string) (*AssetVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT asset_id, purpose, variant, type, bucket_label, key, status,
		       file_size, width, height, bit_depth, color_space, mime_type,
		       checksum, checksum_algorithm, metadata, failed_reason, created_at, updated_at
		FROM asset_versions WHERE asset_id = ? AND purpose = ? AND variant = ? AND type = ?
	`, assetID, purpose, variant, typ)
	var v AssetVersion
	var metadata string
	if err := row.Scan(
		&v.AssetID, &v.Purpose, &v.Variant, &v.Type, &v.BucketLabel, &v.Key, &v.Status,
		&v.FileSize, &v.Width, &v.Height, &v.BitDepth, &v.ColorSpace, &v.MimeType,
		&v.Checksum, &v.ChecksumAlgorithm, &metadata, &v.FailedReason, &v.CreatedAt, &v.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewStore("get_asset_version", true, err)
	}
	v.Metadata = []byte(metadata)
	return &v, nil
}

func (s *SQLiteStore) MarkAssetVersionFailed(ctx context.Context, assetID, purpose, variant, typ, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE asset_versions SET status = 'failed', failed_reason = ?, updated_at = CURRENT_TIMESTAMP
		WHERE asset_id = ? AND purpose = ? AND variant = ? AND type = ?
	`, reason, assetID, purpose, variant, typ)
	if err != nil {
		return apperrors.NewStore("mark_asset_version_failed", true, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertAIDescription(ctx context.Context, d AIDescription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_descriptions (tenant_id, asset_id, model, content, keywords, telemetry, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(tenant_id, asset_id) DO UPDATE SET
			model = excluded.model,
			content = excluded.content,
			keywords = excluded.keywords,
			telemetry = excluded.telemetry,
			updated_at = CURRENT_TIMESTAMP
	`, d.TenantID, d.AssetID, d.Model, string(d.Content), strings.Join(d.Keywords, ","), string(d.Telemetry))
	if err != nil {
		return apperrors.NewStore("upsert_ai_description", true, err)
	}
	return nil
}

func (s *SQLiteStore) GetAIDescription(ctx context.Context, tenantID, assetID string) (*AIDescription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, asset_id, model, content, keywords, telemetry, created_at, updated_at
		FROM ai_descriptions WHERE tenant_id = ? AND asset_id = ?
	`, tenantID, assetID)
	var d AIDescription
	var content, telemetry, keywords string
	if err := row.Scan(&d.TenantID, &d.AssetID, &d.Model, &content, &keywords, &telemetry, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewStore("get_ai_description", true, err)
	}
	d.Content = []byte(content)
	d.Telemetry = []byte(telemetry)
	if keywords != "" {
		d.Keywords = strings.Split(keywords, ",")
	}
	return &d, nil
}

func (s *SQLiteStore) CreateJobgroup(ctx context.Context, jg Jobgroup) error {
	status := jg.Status
	if status == "" {
		status = JobgroupCreated
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobgroups (id, tenant_id, batch_id, external_jobgroup_id, input_file_id, status, request_count, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, jg.ID, jg.TenantID, jg.BatchID, jg.ExternalJobgroupID, jg.InputFileID, status, jg.RequestCount, string(jg.Notes))
	if err != nil {
		return apperrors.NewStore("create_jobgroup", true, err)
	}
	return nil
}

func (s *SQLiteStore) GetJobgroup(ctx context.Context, id string) (*Jobgroup, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, batch_id, external_jobgroup_id, input_file_id, output_file_id,
		       status, request_count, notes, created_at, completed_at, failed_at
		FROM jobgroups WHERE id = ?
	`, id)
	jg, err := scanJobgroupSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewStore("get_jobgroup", true, err)
	}
	return jg, nil
}

func scanJobgroupSQLite(s scanner) (*Jobgroup, error) {
	var jg Jobgroup
	var batchID, externalID, inputFileID, outputFileID, notes sql.NullString
	var completedAt, failedAt sql.NullTime
	if err := s.Scan(
		&jg.ID, &jg.TenantID, &batchID, &externalID, &inputFileID, &outputFileID,
		&jg.Status, &jg.RequestCount, &notes, &jg.CreatedAt, &completedAt, &failedAt,
	); err != nil {
		return nil, err
	}
	jg.BatchID = batchID.String
	jg.ExternalJobgroupID = externalID.String
	jg.InputFileID = inputFileID.String
	jg.OutputFileID = outputFileID.String
	jg.Notes = []byte(notes.String)
	if completedAt.Valid {
		jg.CompletedAt = &completedAt.Time
	}
	if failedAt.Valid {
		jg.FailedAt = &failedAt.Time
	}
	return &jg, nil
}

func (s *SQLiteStore) ListJobgroupsByStatus(ctx context.Context, statuses []string) ([]Jobgroup, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = st
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, batch_id, external_jobgroup_id, input_file_id, output_file_id,
		       status, request_count, notes, created_at, completed_at, failed_at
		FROM jobgroups WHERE status IN (`+strings.Join(placeholders, ",")+`)
	`, args...)
	if err != nil {
		return nil, apperrors.NewStore("list_jobgroups", true, err)
	}
	defer rows.Close()
	var out []Jobgroup
	for rows.Next() {
		jg, err := scanJobgroupSQLite(rows)
		if err != nil {
			return nil, apperrors.NewStore("list_jobgroups_scan", true, err)
		}
		out = append(out, *jg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateJobgroupStatus(ctx context.Context, id, status string, outputFileID string, at *time.Time) error {
	existing, err := s.GetJobgroup(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return apperrors.NewStore("update_jobgroup_status", false, errors.New("jobgroup not found"))
	}
	if IsTerminalJobgroupStatus(existing.Status) {
		return nil
	}

	completedAt, failedAt := existing.CompletedAt, existing.FailedAt
	switch status {
	case JobgroupCompleted:
		completedAt = at
	case JobgroupFailed, JobgroupExpired, JobgroupCancelled:
		failedAt = at
	}
	newOutputFileID := existing.OutputFileID
	if outputFileID != "" {
		newOutputFileID = outputFileID
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE jobgroups SET status = ?, output_file_id = ?, completed_at = ?, failed_at = ?
		WHERE id = ?
	`, status, newOutputFileID, completedAt, failedAt, id)
	if err != nil {
		return apperrors.NewStore("update_jobgroup_status", true, err)
	}
	return nil
}

func (s *SQLiteStore) CancelJobgroup(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return s.UpdateJobgroupStatus(ctx, id, JobgroupCancelled, "", &now)
}

func (s *SQLiteStore) UpsertJobgroupResult(ctx context.Context, r JobgroupResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobgroup_results (jobgroup_id, asset_id, status, error_code, error_message, raw_response, custom_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(jobgroup_id, asset_id) DO UPDATE SET
			status = excluded.status,
			error_code = excluded.error_code,
			error_message = excluded.error_message,
			raw_response = excluded.raw_response,
			custom_id = excluded.custom_id,
			updated_at = CURRENT_TIMESTAMP
	`, r.JobgroupID, r.AssetID, r.Status, r.ErrorCode, r.ErrorMessage, string(r.RawResponse), r.CustomID)
	if err != nil {
		return apperrors.NewStore("upsert_jobgroup_result", true, err)
	}
	return nil
}

func (s *SQLiteStore) CountJobgroupResults(ctx context.Context, jobgroupID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM jobgroup_results WHERE jobgroup_id = ?`, jobgroupID).Scan(&n)
	if err != nil {
		return 0, apperrors.NewStore("count_jobgroup_results", true, err)
	}
	return n, nil
}

func (s *SQLiteStore) ExistsJobgroupResult(ctx context.Context, jobgroupID, assetID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM jobgroup_results WHERE jobgroup_id = ? AND asset_id = ?)
	`, jobgroupID, assetID).Scan(&exists)
	if err != nil {
		return false, apperrors.NewStore("exists_jobgroup_result", true, err)
	}
	return exists, nil
}
