// Copyright 2025 James Ross
package archivist

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/archivault/workers/internal/apperrors"
	"github.com/archivault/workers/internal/blob"
	"github.com/archivault/workers/internal/config"
	"github.com/archivault/workers/internal/job"
	"github.com/archivault/workers/internal/modelapi"
	"github.com/archivault/workers/internal/store"
)

// BlobStore narrows *blob.Client to what request preparation needs, so
// both this package's tests and the jobgroup subsystem can substitute an
// in-memory fake.
type BlobStore interface {
	Exists(ctx context.Context, label blob.Label, key string) (bool, error)
	Get(ctx context.Context, label blob.Label, key string) ([]byte, error)
}

// Delegate hands a jobgroup-tagged job off to the async batch subsystem
// instead of calling the model directly.
type Delegate interface {
	Submit(ctx context.Context, j job.Job) error
}

// Pipeline is the individual (non-jobgroup) Archivist worker.
type Pipeline struct {
	Blob     BlobStore
	Store    store.AIDescriptionStore
	Model    *modelapi.Client
	Jobgroup Delegate
	Cfg      config.ArchivistConfig
	Log      *zap.Logger
}

// New builds a production Pipeline.
func New(b *blob.Client, s store.AIDescriptionStore, m *modelapi.Client, jg Delegate, cfg config.ArchivistConfig, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{Blob: b, Store: s, Model: m, Jobgroup: jg, Cfg: cfg, Log: log}
}

// Telemetry is the processing document attached to ai_descriptions.notes.
// Jobgroup result rows keep the raw output line as raw_response, not this
// document.
type Telemetry struct {
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    time.Time      `json:"ended_at"`
	DurationMS int64          `json:"duration_ms"`
	Model      string         `json:"model"`
	Usage      map[string]int `json:"usage"`
	SourceKey  string         `json:"source_key"`
}

// Process implements spec.md §4.7. A jobgroup-tagged job is handed to the
// Jobgroup delegate instead of calling the model inline.
func (p *Pipeline) Process(ctx context.Context, j job.Job) error {
	if j.ProcessingType == string(job.Jobgroup) {
		if p.Jobgroup == nil {
			return apperrors.NewRouting("archivist: no jobgroup delegate configured")
		}
		return p.Jobgroup.Submit(ctx, j)
	}

	started := time.Now()

	req, sourceKey, err := PrepareRequest(ctx, p.Blob, p.Cfg, j)
	if err != nil {
		return err
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if p.Cfg.RequestTimeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, p.Cfg.RequestTimeout)
		defer cancel()
	}

	result, err := p.Model.ChatCompletion(reqCtx, req)
	if err != nil {
		return err
	}

	desc, tagCount, err := BuildDescription(j.TenantID, j.AssetID, p.Cfg, result.Content, result.Usage, sourceKey, started, time.Now())
	if err != nil {
		return err
	}
	if err := p.Store.UpsertAIDescription(ctx, desc); err != nil {
		return err
	}

	p.Log.Info("archivist job complete",
		zap.String("tenant_id", j.TenantID), zap.String("asset_id", j.AssetID),
		zap.Int("tag_count", tagCount))
	return nil
}

// PrepareRequest runs spec.md §4.7 steps 1-3: resolve the source image,
// re-encode it within budget, and build the chat-completions request.
// Exported so the jobgroup subsystem can assemble the same request shape
// for its JSONL submission file.
func PrepareRequest(ctx context.Context, b BlobStore, cfg config.ArchivistConfig, j job.Job) (modelapi.ChatCompletionRequest, string, error) {
	sourceKey, err := resolveSourceKey(ctx, b, j)
	if err != nil {
		return modelapi.ChatCompletionRequest{}, "", err
	}

	original, err := b.Get(ctx, blob.LabelStandard, sourceKey)
	if err != nil {
		return modelapi.ChatCompletionRequest{}, "", err
	}

	reencoded, err := reencodeToBudget(original, cfg.QualitySteps, cfg.MaxEncodedBytes)
	if err != nil {
		return modelapi.ChatCompletionRequest{}, "", err
	}

	messages := buildMessages(j.TenantID, j.AssetID, j.BatchID, cfg.AllowedTags, base64DataURL(reencoded))
	return modelapi.ChatCompletionRequest{Model: cfg.Model, Messages: messages}, sourceKey, nil
}

// BuildDescription runs spec.md §4.7 steps 5-7 against a raw model
// response string: extract and repair JSON, normalize it, and assemble
// the AIDescription row ready for upsert plus its tag count. Exported so
// the jobgroup subsystem's result processing can apply the same
// extract/normalize pass to a batch output record.
func BuildDescription(tenantID, assetID string, cfg config.ArchivistConfig, rawContent string, usage map[string]int, sourceKey string, started, ended time.Time) (store.AIDescription, int, error) {
	raw, err := extractJSON(rawContent, cfg.MaxJSONBytes)
	if err != nil {
		return store.AIDescription{}, 0, err
	}
	normalized := normalize(raw, cfg.AllowedTags, cfg.MaxKeywords)

	contentDoc, err := json.Marshal(normalized)
	if err != nil {
		return store.AIDescription{}, 0, apperrors.NewSerialization(err)
	}

	tel := Telemetry{
		StartedAt:  started,
		EndedAt:    ended,
		DurationMS: ended.Sub(started).Milliseconds(),
		Model:      cfg.Model,
		Usage:      usage,
		SourceKey:  sourceKey,
	}
	telDoc, err := json.Marshal(tel)
	if err != nil {
		return store.AIDescription{}, 0, apperrors.NewSerialization(err)
	}

	desc := store.AIDescription{
		TenantID:  tenantID,
		AssetID:   assetID,
		Model:     cfg.Model,
		Content:   contentDoc,
		Keywords:  normalized.Keywords,
		Telemetry: telDoc,
	}
	return desc, len(normalized.Tags), nil
}

// resolveSourceKey prefers the "ai" derivative and falls back to
// "viewing" when it isn't present (e.g. the asset's file_purpose skipped
// ai generation).
func resolveSourceKey(ctx context.Context, b BlobStore, j job.Job) (string, error) {
	aiKey := aiVersionKey(j.TenantID, j.BatchID, j.AssetID)
	exists, err := b.Exists(ctx, blob.LabelStandard, aiKey)
	if err != nil {
		return "", err
	}
	if exists {
		return aiKey, nil
	}

	viewKey := viewingKey(j.TenantID, j.BatchID, j.AssetID)
	exists, err = b.Exists(ctx, blob.LabelStandard, viewKey)
	if err != nil {
		return "", err
	}
	if exists {
		return viewKey, nil
	}

	return "", apperrors.NewResource("SOURCE_IMAGE_NOT_FOUND",
		"neither ai nor viewing derivative exists for asset "+j.AssetID)
}
