// Copyright 2025 James Ross
package jobgroup

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/archivault/workers/internal/apperrors"
	"github.com/archivault/workers/internal/archivist"
	"github.com/archivault/workers/internal/audit"
	"github.com/archivault/workers/internal/config"
	"github.com/archivault/workers/internal/job"
	"github.com/archivault/workers/internal/modelapi"
	"github.com/archivault/workers/internal/store"
	"github.com/archivault/workers/internal/tenant"
	"github.com/archivault/workers/internal/webhook"
)

// SubmitResult is runJobgroup's return value, per spec.md §4.8.
type SubmitResult struct {
	JobgroupID         string
	ExternalJobgroupID string
	InputFileID        string
	Status             string
	RequestCount       int
}

// Submitter implements spec.md §4.8's submission contract.
type Submitter struct {
	Blob         archivist.BlobStore
	Model        *modelapi.Client
	Store        store.JobgroupStore
	Throttle     *tenant.Throttle
	Audit        *audit.Logger
	Webhook      *webhook.Notifier
	Poller       *Poller // optional: triggers one poll cycle after submission
	ArchivistCfg config.ArchivistConfig
	Cfg          config.JobgroupConfig
	Log          *zap.Logger
}

// RunJobgroup implements spec.md §4.8 steps 1-7. jobs must be a
// homogeneous set (same tenant_id, and the same batch_id if any carry
// one); entries that don't match the first job are skipped with a
// warning rather than failing the whole submission. workDir is created
// if empty.
func (s *Submitter) RunJobgroup(ctx context.Context, jobs []job.Job, workDir string) (*SubmitResult, error) {
	if len(jobs) == 0 {
		return nil, apperrors.NewValidation("EMPTY_JOBGROUP", "jobs", "at least one job is required")
	}

	tenantID := jobs[0].TenantID
	batchID := jobs[0].BatchID
	homogeneous := make([]job.Job, 0, len(jobs))
	for _, j := range jobs {
		if j.TenantID != tenantID || j.BatchID != batchID {
			s.Log.Warn("jobgroup: dropping job from non-homogeneous submission",
				zap.String("asset_id", j.AssetID), zap.String("expected_tenant_id", tenantID))
			continue
		}
		homogeneous = append(homogeneous, j)
	}

	jobgroupID := uuid.NewString()
	now := time.Now()
	if err := s.Throttle.Reserve(ctx, tenantID, jobgroupID, now); err != nil {
		return nil, err
	}

	result, err := s.runJobgroupReserved(ctx, jobgroupID, tenantID, batchID, homogeneous, workDir)
	if err != nil {
		_ = s.Throttle.Release(ctx, tenantID, jobgroupID)
		return nil, err
	}
	return result, nil
}

func (s *Submitter) runJobgroupReserved(ctx context.Context, jobgroupID, tenantID, batchID string, jobs []job.Job, workDir string) (*SubmitResult, error) {
	dir, err := acquireWorkDir(workDir, jobgroupID)
	if err != nil {
		return nil, apperrors.NewStore("jobgroup_workdir", false, err)
	}

	data, validCount, err := assembleJSONL(ctx, s.Blob, s.ArchivistCfg, jobs, s.Log)
	if err != nil {
		return nil, err
	}
	if validCount == 0 {
		return nil, apperrors.NewValidation("NO_VALID_JOBS", "jobs", "no job in the submitted set validated")
	}

	jsonlPath := filepath.Join(dir, "batch.jsonl")
	if err := os.WriteFile(jsonlPath, data, 0o600); err != nil {
		return nil, apperrors.NewStore("jobgroup_jsonl_write", false, err)
	}

	inputFileID, err := s.Model.UploadFile(ctx, "batch.jsonl", "batch", data)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{"tenant_id": tenantID, "mode": "jobgroup"}
	if batchID != "" {
		metadata["batch_id"] = batchID
	}
	batch, err := s.Model.CreateBatch(ctx, inputFileID, "/v1/chat/completions", "24h", metadata)
	if err != nil {
		return nil, err
	}

	status := batch.Status
	if status == "" {
		status = store.JobgroupCreated
	}

	notes, _ := json.Marshal(map[string]string{"jsonl_path": jsonlPath, "work_dir": dir})
	jg := store.Jobgroup{
		ID:                 jobgroupID,
		TenantID:           tenantID,
		BatchID:            batchID,
		ExternalJobgroupID: batch.ID,
		InputFileID:        inputFileID,
		Status:             status,
		RequestCount:       validCount,
		Notes:              notes,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.Store.CreateJobgroup(ctx, jg); err != nil {
		return nil, err
	}

	s.Audit.Log(audit.Entry{
		Event:      "created",
		JobgroupID: jobgroupID,
		TenantID:   tenantID,
		BatchID:    batchID,
		Details:    map[string]interface{}{"jsonl_path": jsonlPath, "work_dir": dir, "request_count": validCount},
	})
	if err := s.Webhook.NotifyJobgroup(ctx, webhook.JobgroupEvent{
		Event: "jobgroup.created", JobgroupID: jobgroupID, TenantID: tenantID, BatchID: batchID, Status: status,
	}); err != nil {
		s.Log.Warn("jobgroup.created webhook delivery failed", zap.Error(err), zap.String("jobgroup_id", jobgroupID))
	}

	if s.Poller != nil {
		if err := s.Poller.PollOnce(ctx); err != nil {
			s.Log.Warn("initial poll cycle after jobgroup creation failed", zap.Error(err), zap.String("jobgroup_id", jobgroupID))
		}
	}

	return &SubmitResult{
		JobgroupID:         jobgroupID,
		ExternalJobgroupID: batch.ID,
		InputFileID:        inputFileID,
		Status:             status,
		RequestCount:       validCount,
	}, nil
}

// acquireWorkDir creates dir (mode 0700) if given, else a fresh temp
// directory scoped to jobgroupID.
func acquireWorkDir(dir, jobgroupID string) (string, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", err
		}
		return dir, nil
	}
	return os.MkdirTemp("", "jobgroup-"+jobgroupID+"-")
}
