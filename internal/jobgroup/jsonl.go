// Copyright 2025 James Ross
// Package jobgroup implements the async batch subsystem: submission,
// distributed-lock polling, and per-asset result distribution for
// Archivist jobs run through an external batch endpoint instead of
// individually.
package jobgroup

import (
	"bytes"
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/archivault/workers/internal/archivist"
	"github.com/archivault/workers/internal/config"
	"github.com/archivault/workers/internal/job"
)

// jsonlLine is one line of the submission file, per spec.md §6.
type jsonlLine struct {
	CustomID string      `json:"custom_id"`
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Body     interface{} `json:"body"`
}

// assembleJSONL implements spec.md §4.8 step 3: one line per valid job,
// skipping invalid entries with a logged warning. Each line's body is
// built the same way the individual pipeline builds its model request,
// so a jobgroup-routed job produces byte-identical model input to one
// processed inline.
func assembleJSONL(ctx context.Context, b archivist.BlobStore, cfg config.ArchivistConfig, jobs []job.Job, log *zap.Logger) ([]byte, int, error) {
	var buf bytes.Buffer
	valid := 0

	for _, j := range jobs {
		if err := job.ValidateArchivist(j); err != nil {
			log.Warn("jobgroup: skipping invalid job", zap.String("asset_id", j.AssetID), zap.Error(err))
			continue
		}

		req, _, err := archivist.PrepareRequest(ctx, b, cfg, j)
		if err != nil {
			log.Warn("jobgroup: skipping job with unbuildable request", zap.String("asset_id", j.AssetID), zap.Error(err))
			continue
		}

		line := jsonlLine{
			CustomID: "asset-" + j.AssetID,
			Method:   "POST",
			URL:      "/v1/chat/completions",
			Body:     req,
		}
		data, err := json.Marshal(line)
		if err != nil {
			log.Warn("jobgroup: skipping job with unmarshalable line", zap.String("asset_id", j.AssetID), zap.Error(err))
			continue
		}
		buf.Write(data)
		buf.WriteByte('\n')
		valid++
	}

	return buf.Bytes(), valid, nil
}
