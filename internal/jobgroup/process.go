// Copyright 2025 James Ross
package jobgroup

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/archivault/workers/internal/archivist"
	"github.com/archivault/workers/internal/audit"
	"github.com/archivault/workers/internal/config"
	"github.com/archivault/workers/internal/lock"
	"github.com/archivault/workers/internal/modelapi"
	"github.com/archivault/workers/internal/queue"
	"github.com/archivault/workers/internal/store"
	"github.com/archivault/workers/internal/tenant"
	"github.com/archivault/workers/internal/webhook"
	"github.com/redis/go-redis/v9"
)

const jobgroupDLQKey = "archivist:dlq:jobgroup-result"

// outputRecord extracts the fields processLine needs out of one batch
// output line via JSONPath rather than a hand-rolled nested struct, since
// the shape of "response.body" is the model vendor's to change underneath
// us and the fields we touch are a handful of leaves, not the whole tree.
type outputRecord struct {
	customID     string
	errorMessage string
	content      string
	usage        map[string]int
}

func parseOutputRecord(raw string) (outputRecord, error) {
	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return outputRecord{}, err
	}

	rec := outputRecord{}
	rec.customID, _ = jsonpathString(doc, "$.custom_id")
	rec.errorMessage, _ = jsonpathString(doc, "$.error.message")
	rec.content, _ = jsonpathString(doc, "$.response.body.choices[0].message.content")

	if usage, err := jsonpath.Get("$.response.body.usage", doc); err == nil {
		if m, ok := usage.(map[string]interface{}); ok {
			rec.usage = make(map[string]int, len(m))
			for k, v := range m {
				if f, ok := v.(float64); ok {
					rec.usage[k] = int(f)
				}
			}
		}
	}
	return rec, nil
}

func jsonpathString(doc interface{}, path string) (string, error) {
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("jsonpath %s: not a string", path)
	}
	return s, nil
}

// ResultProcessor implements spec.md §4.8's result-distribution contract:
// fetch the output file, parse each line, run the Archivist
// extract/normalize pass on each successful record, and upsert an
// AIDescription row per asset — all idempotent on (jobgroup_id, asset_id)
// so a crash-and-retry never double-applies a result.
type ResultProcessor struct {
	Rdb          *redis.Client
	Model        *modelapi.Client
	Descriptions store.AIDescriptionStore
	Results      store.JobgroupResultStore
	Jobgroups    store.JobgroupStore
	Queue        *queue.Queue
	Throttle     *tenant.Throttle
	Audit        *audit.Logger
	Webhook      *webhook.Notifier
	ArchivistCfg config.ArchivistConfig
	Cfg          config.JobgroupConfig
	Log          *zap.Logger
}

// ProcessCompletedJobgroup fetches jg's output file and processes it.
func (rp *ResultProcessor) ProcessCompletedJobgroup(ctx context.Context, jg store.Jobgroup) {
	data, err := rp.Model.DownloadFile(ctx, jg.OutputFileID)
	if err != nil {
		rp.Log.Warn("jobgroup result: output download failed", zap.String("jobgroup_id", jg.ID), zap.Error(err))
		return
	}
	rp.ProcessOutputBytes(ctx, jg, data)
}

// ProcessOutputBytes parses and applies every line of data, in bounded
// chunks of Cfg.ResultChunkSize (default 25) processed concurrently, per
// spec.md §4.8 step 9. Each chunk refreshes the distributed lock so a
// long-running result set doesn't let the lock expire mid-processing.
func (rp *ResultProcessor) ProcessOutputBytes(ctx context.Context, jg store.Jobgroup, data []byte) {
	lines := splitNonEmptyLines(data)

	chunkSize := rp.Cfg.ResultChunkSize
	if chunkSize < 1 {
		chunkSize = 25
	}

	var processed, failed, skipped int
	var l *lock.Lock
	if rp.Rdb != nil {
		l = lock.New(rp.Rdb, "jobgroup_result_"+jg.ID, rp.Cfg.PollLockTTL)
	}

	for start := 0; start < len(lines); start += chunkSize {
		end := start + chunkSize
		if end > len(lines) {
			end = len(lines)
		}
		chunk := lines[start:end]

		if l != nil {
			if err := l.Refresh(ctx, rp.Cfg.PollLockTTL); err != nil {
				rp.Log.Warn("jobgroup result: lock refresh failed", zap.String("jobgroup_id", jg.ID), zap.Error(err))
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		results := make([]string, len(chunk))
		for i, raw := range chunk {
			i, raw := i, raw
			g.Go(func() error {
				results[i] = rp.processLine(gctx, jg, raw)
				return nil
			})
		}
		_ = g.Wait()

		for _, r := range results {
			switch r {
			case "processed":
				processed++
			case "skipped":
				skipped++
			default:
				failed++
			}
		}
	}

	rp.finish(ctx, jg, processed, failed, skipped)
}

// processLine handles one output line, returning "processed", "skipped"
// (already applied, or malformed custom_id we can't attribute), or
// "failed".
func (rp *ResultProcessor) processLine(ctx context.Context, jg store.Jobgroup, raw string) string {
	line, err := parseOutputRecord(raw)
	if err != nil {
		rp.Log.Warn("jobgroup result: unparsable output line", zap.String("jobgroup_id", jg.ID), zap.Error(err))
		return "failed"
	}

	assetID := strings.TrimPrefix(line.customID, "asset-")
	if assetID == "" || assetID == line.customID {
		rp.Log.Warn("jobgroup result: custom_id missing asset- prefix", zap.String("jobgroup_id", jg.ID), zap.String("custom_id", line.customID))
		return "skipped"
	}

	exists, err := rp.Results.ExistsJobgroupResult(ctx, jg.ID, assetID)
	if err != nil {
		rp.Log.Warn("jobgroup result: idempotency check failed", zap.String("jobgroup_id", jg.ID), zap.String("asset_id", assetID), zap.Error(err))
	} else if exists {
		return "skipped"
	}

	if line.errorMessage != "" {
		rp.recordFailure(ctx, jg, assetID, line.customID, "MODEL_ERROR", line.errorMessage)
		return "failed"
	}
	if line.content == "" {
		rp.recordFailure(ctx, jg, assetID, line.customID, "EMPTY_RESPONSE", "no choices in model response")
		return "failed"
	}

	desc, _, err := archivist.BuildDescription(jg.TenantID, assetID, rp.ArchivistCfg, line.content, line.usage, "", time.Now(), time.Now())
	if err != nil {
		rp.recordFailure(ctx, jg, assetID, line.customID, "BUILD_FAILED", err.Error())
		return "failed"
	}
	if err := rp.Descriptions.UpsertAIDescription(ctx, desc); err != nil {
		rp.recordFailure(ctx, jg, assetID, line.customID, "STORE_FAILED", err.Error())
		return "failed"
	}

	if err := rp.Results.UpsertJobgroupResult(ctx, store.JobgroupResult{
		JobgroupID:  jg.ID,
		AssetID:     assetID,
		Status:      "completed",
		RawResponse: []byte(raw),
		CustomID:    line.customID,
	}); err != nil {
		rp.Log.Warn("jobgroup result: result row upsert failed", zap.String("jobgroup_id", jg.ID), zap.String("asset_id", assetID), zap.Error(err))
	}
	return "processed"
}

func (rp *ResultProcessor) recordFailure(ctx context.Context, jg store.Jobgroup, assetID, customID, code, message string) {
	if err := rp.Results.UpsertJobgroupResult(ctx, store.JobgroupResult{
		JobgroupID:   jg.ID,
		AssetID:      assetID,
		Status:       "failed",
		ErrorCode:    code,
		ErrorMessage: message,
		CustomID:     customID,
	}); err != nil {
		rp.Log.Warn("jobgroup result: failure row upsert failed", zap.String("jobgroup_id", jg.ID), zap.String("asset_id", assetID), zap.Error(err))
	}

	if rp.Queue != nil {
		entry := queue.NewDLQEntry("archivist.jobgroup-result", code+": "+message, nil)
		entry.TenantID = jg.TenantID
		entry.AssetID = assetID
		entry.BatchID = jg.BatchID
		if err := rp.Queue.PushRawDLQ(ctx, jobgroupDLQKey, entry); err != nil {
			rp.Log.Warn("jobgroup result: DLQ push failed", zap.String("jobgroup_id", jg.ID), zap.String("asset_id", assetID), zap.Error(err))
		}
	}
}

// finish applies the terminal transition implied by the processed
// output, releases the tenant's active-slot reservation, and emits the
// audit/webhook pair spec.md §4.8 step 10 requires.
func (rp *ResultProcessor) finish(ctx context.Context, jg store.Jobgroup, processed, failed, skipped int) {
	now := time.Now().UTC()
	status := store.JobgroupCompleted
	if failed > 0 {
		status = store.JobgroupFailed
	}
	if err := rp.Jobgroups.UpdateJobgroupStatus(ctx, jg.ID, status, jg.OutputFileID, &now); err != nil {
		rp.Log.Warn("jobgroup result: terminal status update failed", zap.String("jobgroup_id", jg.ID), zap.Error(err))
	}

	if rp.Throttle != nil {
		if err := rp.Throttle.Release(ctx, jg.TenantID, jg.ID); err != nil {
			rp.Log.Warn("jobgroup result: throttle release failed", zap.String("jobgroup_id", jg.ID), zap.Error(err))
		}
	}

	details := map[string]interface{}{"processed": processed, "failed": failed, "skipped": skipped}
	if rp.Audit != nil {
		rp.Audit.Log(audit.Entry{
			Event:      status,
			JobgroupID: jg.ID,
			TenantID:   jg.TenantID,
			BatchID:    jg.BatchID,
			Details:    details,
		})
	}
	if rp.Webhook != nil {
		if err := rp.Webhook.NotifyJobgroup(ctx, webhook.JobgroupEvent{
			Event: "jobgroup." + status, JobgroupID: jg.ID, TenantID: jg.TenantID, BatchID: jg.BatchID,
			Status: status, Processed: processed, Failed: failed, Skipped: skipped,
		}); err != nil {
			rp.Log.Warn("jobgroup result: completion webhook delivery failed", zap.String("jobgroup_id", jg.ID), zap.Error(err))
		}
	}
}

func splitNonEmptyLines(data []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
