// Copyright 2025 James Ross
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/archivault/workers/internal/apperrors"
	"github.com/lib/pq"
)

// PostgresStore implements every store interface against a Postgres schema
// managed outside this module — the relational store's schema is an
// external collaborator, per spec.md §1.
type PostgresStore struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, apperrors.NewStore("open_postgres", false, err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) UpsertAssetVersion(ctx context.Context, v AssetVersion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO asset_versions (
			asset_id, purpose, variant, type, bucket_label, key, status,
			file_size, width, height, bit_depth, color_space, mime_type,
			checksum, checksum_algorithm, metadata, failed_reason, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now()
		)
		ON CONFLICT (asset_id, purpose, variant, type)
		DO UPDATE SET
			bucket_label = EXCLUDED.bucket_label,
			key = EXCLUDED.key,
			status = EXCLUDED.status,
			file_size = EXCLUDED.file_size,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			bit_depth = EXCLUDED.bit_depth,
			color_space = EXCLUDED.color_space,
			mime_type = EXCLUDED.mime_type,
			checksum = EXCLUDED.checksum,
			checksum_algorithm = EXCLUDED.checksum_algorithm,
			metadata = EXCLUDED.metadata,
			failed_reason = EXCLUDED.failed_reason,
			updated_at = now()
	`,
		v.AssetID, v.Purpose, v.Variant, v.Type, v.BucketLabel, v.Key, v.Status,
		v.FileSize, v.Width, v.Height, v.BitDepth, v.ColorSpace, v.MimeType,
		v.Checksum, v.ChecksumAlgorithm, v.Metadata, v.FailedReason,
	)
	if err != nil {
		return apperrors.NewStore("upsert_asset_version", true, err)
	}
	return nil
}

func (s *PostgresStore) GetAssetVersion(ctx context.Context, assetID, purpose, variant, typ string) (*AssetVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT asset_id, purpose, variant, type, bucket_label, key, status,
		       file_size, width, height, bit_depth, color_space, mime_type,
		       checksum, checksum_algorithm, metadata, failed_reason, created_at, updated_at
		FROM asset_versions WHERE asset_id = $1 AND purpose = $2 AND variant = $3 AND type = $4
	`, assetID, purpose, variant, typ)
	var v AssetVersion
	if err := row.Scan(
		&v.AssetID, &v.Purpose, &v.Variant, &v.Type, &v.BucketLabel, &v.Key, &v.Status,
		&v.FileSize, &v.Width, &v.Height, &v.BitDepth, &v.ColorSpace, &v.MimeType,
		&v.Checksum, &v.ChecksumAlgorithm, &v.Metadata, &v.FailedReason, &v.CreatedAt, &v.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewStore("get_asset_version", true, err)
	}
	return &v, nil
}

func (s *PostgresStore) MarkAssetVersionFailed(ctx context.Context, assetID, purpose, variant, typ, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE asset_versions SET status = 'failed', failed_reason = $5, updated_at = now()
		WHERE asset_id = $1 AND purpose = $2 AND variant = $3 AND type = $4
	`, assetID, purpose, variant, typ, reason)
	if err != nil {
		return apperrors.NewStore("mark_asset_version_failed", true, err)
	}
	return nil
}

func (s *PostgresStore) UpsertAIDescription(ctx context.Context, d AIDescription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_descriptions (tenant_id, asset_id, model, content, keywords, telemetry, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (tenant_id, asset_id)
		DO UPDATE SET
			model = EXCLUDED.model,
			content = EXCLUDED.content,
			keywords = EXCLUDED.keywords,
			telemetry = EXCLUDED.telemetry,
			updated_at = now()
	`, d.TenantID, d.AssetID, d.Model, d.Content, pq.Array(d.Keywords), d.Telemetry)
	if err != nil {
		return apperrors.NewStore("upsert_ai_description", true, err)
	}
	return nil
}

func (s *PostgresStore) GetAIDescription(ctx context.Context, tenantID, assetID string) (*AIDescription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, asset_id, model, content, keywords, telemetry, created_at, updated_at
		FROM ai_descriptions WHERE tenant_id = $1 AND asset_id = $2
	`, tenantID, assetID)
	var d AIDescription
	if err := row.Scan(&d.TenantID, &d.AssetID, &d.Model, &d.Content, pq.Array(&d.Keywords), &d.Telemetry, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewStore("get_ai_description", true, err)
	}
	return &d, nil
}

func (s *PostgresStore) CreateJobgroup(ctx context.Context, jg Jobgroup) error {
	status := jg.Status
	if status == "" {
		status = JobgroupCreated
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobgroups (id, tenant_id, batch_id, external_jobgroup_id, input_file_id, status, request_count, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
	`, jg.ID, jg.TenantID, jg.BatchID, jg.ExternalJobgroupID, jg.InputFileID, status, jg.RequestCount, jg.Notes)
	if err != nil {
		return apperrors.NewStore("create_jobgroup", true, err)
	}
	return nil
}

func (s *PostgresStore) GetJobgroup(ctx context.Context, id string) (*Jobgroup, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, batch_id, external_jobgroup_id, input_file_id, output_file_id,
		       status, request_count, notes, created_at, completed_at, failed_at
		FROM jobgroups WHERE id = $1
	`, id)
	jg, err := scanJobgroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewStore("get_jobgroup", true, err)
	}
	return jg, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows, letting
// scanJobgroup serve single-row and multi-row queries alike.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJobgroup(s scanner) (*Jobgroup, error) {
	var jg Jobgroup
	var outputFileID, batchID sql.NullString
	var completedAt, failedAt sql.NullTime
	if err := s.Scan(
		&jg.ID, &jg.TenantID, &batchID, &jg.ExternalJobgroupID, &jg.InputFileID, &outputFileID,
		&jg.Status, &jg.RequestCount, &jg.Notes, &jg.CreatedAt, &completedAt, &failedAt,
	); err != nil {
		return nil, err
	}
	jg.BatchID = batchID.String
	jg.OutputFileID = outputFileID.String
	if completedAt.Valid {
		jg.CompletedAt = &completedAt.Time
	}
	if failedAt.Valid {
		jg.FailedAt = &failedAt.Time
	}
	return &jg, nil
}

func (s *PostgresStore) ListJobgroupsByStatus(ctx context.Context, statuses []string) ([]Jobgroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, batch_id, external_jobgroup_id, input_file_id, output_file_id,
		       status, request_count, notes, created_at, completed_at, failed_at
		FROM jobgroups WHERE status = ANY($1)
	`, pq.Array(statuses))
	if err != nil {
		return nil, apperrors.NewStore("list_jobgroups", true, err)
	}
	defer rows.Close()
	var out []Jobgroup
	for rows.Next() {
		jg, err := scanJobgroup(rows)
		if err != nil {
			return nil, apperrors.NewStore("list_jobgroups_scan", true, err)
		}
		out = append(out, *jg)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateJobgroupStatus(ctx context.Context, id, status string, outputFileID string, at *time.Time) error {
	existing, err := s.GetJobgroup(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return apperrors.NewStore("update_jobgroup_status", false, errors.New("jobgroup not found"))
	}
	if IsTerminalJobgroupStatus(existing.Status) {
		return nil // monotone: terminal states are sticky, per spec.md §3.
	}

	var completedAt, failedAt *time.Time
	switch status {
	case JobgroupCompleted:
		completedAt = at
	case JobgroupFailed, JobgroupExpired, JobgroupCancelled:
		failedAt = at
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE jobgroups
		SET status = $2, output_file_id = COALESCE(NULLIF($3, ''), output_file_id),
		    completed_at = COALESCE($4, completed_at), failed_at = COALESCE($5, failed_at)
		WHERE id = $1
	`, id, status, outputFileID, completedAt, failedAt)
	if err != nil {
		return apperrors.NewStore("update_jobgroup_status", true, err)
	}
	return nil
}

func (s *PostgresStore) CancelJobgroup(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return s.UpdateJobgroupStatus(ctx, id, JobgroupCancelled, "", &now)
}

func (s *PostgresStore) UpsertJobgroupResult(ctx context.Context, r JobgroupResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobgroup_results (jobgroup_id, asset_id, status, error_code, error_message, raw_response, custom_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (jobgroup_id, asset_id)
		DO UPDATE SET
			status = EXCLUDED.status,
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			raw_response = EXCLUDED.raw_response,
			custom_id = EXCLUDED.custom_id,
			updated_at = now()
	`, r.JobgroupID, r.AssetID, r.Status, r.ErrorCode, r.ErrorMessage, r.RawResponse, r.CustomID)
	if err != nil {
		return apperrors.NewStore("upsert_jobgroup_result", true, err)
	}
	return nil
}

func (s *PostgresStore) CountJobgroupResults(ctx context.Context, jobgroupID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM jobgroup_results WHERE jobgroup_id = $1`, jobgroupID).Scan(&n)
	if err != nil {
		return 0, apperrors.NewStore("count_jobgroup_results", true, err)
	}
	return n, nil
}

func (s *PostgresStore) ExistsJobgroupResult(ctx context.Context, jobgroupID, assetID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM jobgroup_results WHERE jobgroup_id = $1 AND asset_id = $2)
	`, jobgroupID, assetID).Scan(&exists)
	if err != nil {
		return false, apperrors.NewStore("exists_jobgroup_result", true, err)
	}
	return exists, nil
}
