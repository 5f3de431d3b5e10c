// Copyright 2025 James Ross
package machinist

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/archivault/workers/internal/apperrors"
	"github.com/archivault/workers/internal/blob"
	"github.com/archivault/workers/internal/config"
	"github.com/archivault/workers/internal/job"
	"github.com/archivault/workers/internal/obs"
	"github.com/archivault/workers/internal/queue"
	"github.com/archivault/workers/internal/store"
)

// Result is the pipeline's output contract on success.
type Result struct {
	Status   string            `json:"status"`
	Versions map[string]string `json:"versions"` // variant -> blob key
}

// blobStore is the subset of *blob.Client the pipeline depends on,
// narrowed to an interface so tests can exercise Process without a real
// object store.
type blobStore interface {
	Exists(ctx context.Context, label blob.Label, key string) (bool, error)
	Put(ctx context.Context, label blob.Label, key string, data []byte, contentType string) error
	Get(ctx context.Context, label blob.Label, key string) ([]byte, error)
}

// Pipeline produces derivatives from a single uploaded original and
// records them durably, per the machinist contract.
type Pipeline struct {
	Blob            blobStore
	Store           store.AssetVersionStore
	Queue           *queue.Queue
	DLQKey          string
	Cfg             config.MachinistConfig
	MinFreeMemoryMB int64
	Log             *zap.Logger
}

// New builds a Pipeline. log may be nil.
func New(b *blob.Client, s store.AssetVersionStore, q *queue.Queue, dlqKey string, cfg config.MachinistConfig, minFreeMemoryMB int64, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{Blob: b, Store: s, Queue: q, DLQKey: dlqKey, Cfg: cfg, MinFreeMemoryMB: minFreeMemoryMB, Log: log}
}

// Process implements the job.Worker=machinist handler: the 11-step
// pipeline of spec.md §4.6.
func (p *Pipeline) Process(ctx context.Context, j job.Job) (Result, error) {
	if err := checkMemoryGuard(p.MinFreeMemoryMB); err != nil {
		return Result{}, err
	}

	workDir, err := p.acquireWorkDir(j.AssetID)
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(workDir)

	data, ext, err := p.downloadOrigin(ctx, j)
	if err != nil {
		return Result{}, err
	}
	if err := checkInputSize(data, p.Cfg.MaxInputBytes); err != nil {
		return Result{}, err
	}
	if err := writeWorkFile(workDir, "original."+ext, data); err != nil {
		return Result{}, err
	}

	format, err := validateBuffer(data)
	if err != nil {
		return Result{}, err
	}

	meta, err := readImageMeta(data, format, p.Cfg)
	if err != nil {
		return Result{}, err
	}

	exif := extractEXIF(data, format)

	originKeyStr := persistedOriginKey(j.TenantID, j.BatchID, j.AssetID, j.FilePurpose, ext)
	originLabel := originBucketLabel(j.FilePurpose)
	if err := p.uploadIfMissing(ctx, originLabel, originKeyStr, data, mimeFor(format)); err != nil {
		return Result{}, apperrors.Wrap("machinist.upload_origin", err)
	}
	if err := p.Store.UpsertAssetVersion(ctx, store.AssetVersion{
		AssetID:     j.AssetID,
		Purpose:     j.FilePurpose,
		Variant:     "original",
		Type:        "original",
		BucketLabel: string(originLabel),
		Key:         originKeyStr,
		Status:      "success",
		Width:       meta.Width,
		Height:      meta.Height,
		FileSize:    int64(len(data)),
		MimeType:    mimeFor(format),
	}); err != nil {
		return Result{}, err
	}

	versions := map[string]string{"original": originKeyStr}

	src, err := decodeSource(data)
	if err != nil {
		return Result{}, err
	}

	for _, d := range p.generateDerivatives(src, j) {
		key := derivativeKey(j.TenantID, j.BatchID, j.AssetID, derivativeFolder(d.Variant), derivativeFilename(d.Variant))
		if err := writeWorkFile(workDir, derivativeFilename(d.Variant), d.Data); err != nil {
			p.Log.Warn("failed to stage derivative in work dir", obs.String("variant", d.Variant), obs.Err(err))
		}
		if err := p.uploadDerivative(ctx, j, d, key); err != nil {
			p.Log.Warn("derivative upload failed, continuing pipeline",
				obs.String("variant", d.Variant), obs.Err(err))
			continue
		}
		versions[d.Variant] = key
	}

	manifestKeyStr, manifestData, err := p.writeManifest(ctx, j, exif, meta, originKeyStr, data)
	if err != nil {
		p.Log.Warn("manifest upload failed", obs.Err(err))
	} else {
		versions["manifest"] = manifestKeyStr
		if err := writeWorkFile(workDir, "manifest.json", manifestData); err != nil {
			p.Log.Warn("failed to stage manifest in work dir", obs.Err(err))
		}
	}

	if j.FilePurpose == "preservation" {
		bundleKeyStr, err := p.bundlePreservation(ctx, j, workDir)
		if err != nil {
			return Result{}, err
		}
		if bundleKeyStr != "" {
			versions["preservation"] = bundleKeyStr
		}
	}

	return Result{Status: "complete", Versions: versions}, nil
}

// acquireWorkDir creates a per-job temp directory with mode 0700 (step 1).
func (p *Pipeline) acquireWorkDir(assetID string) (string, error) {
	root := p.Cfg.WorkDirRoot
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return "", apperrors.NewStore("workdir.mkdir_root", false, err)
	}
	dir, err := os.MkdirTemp(root, "machinist-"+assetID+"-")
	if err != nil {
		return "", apperrors.NewStore("workdir.mkdir_temp", false, err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return "", apperrors.NewStore("workdir.chmod", false, err)
	}
	return dir, nil
}

// downloadOrigin implements step 2: try the job's extension first, then
// the fixed fallback order, downloading on first existing key.
func (p *Pipeline) downloadOrigin(ctx context.Context, j job.Job) ([]byte, string, error) {
	keys := candidateOriginKeys(j.TenantID, j.BatchID, j.AssetID, j.InputExtension)
	exts := extensionsFor(keys)

	for i, key := range keys {
		exists, err := p.Blob.Exists(ctx, blob.LabelStandard, key)
		if err != nil {
			continue
		}
		if !exists {
			continue
		}
		data, err := p.Blob.Get(ctx, blob.LabelStandard, key)
		if err != nil {
			continue
		}
		return data, exts[i], nil
	}
	return nil, "", apperrors.NewResource("ORIGIN_NOT_FOUND", fmt.Sprintf("no candidate origin key found for asset %s", j.AssetID))
}

func extensionsFor(keys []string) []string {
	exts := make([]string, len(keys))
	for i, k := range keys {
		// keys end in "original.<ext>"
		for j := len(k) - 1; j >= 0; j-- {
			if k[j] == '.' {
				exts[i] = k[j+1:]
				break
			}
		}
	}
	return exts
}

func mimeFor(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}

// uploadIfMissing implements the idempotent "exists?-then-skip" semantics
// used for both the original (step 6) and any derivative (step 8).
func (p *Pipeline) uploadIfMissing(ctx context.Context, label blob.Label, key string, data []byte, contentType string) error {
	exists, err := p.Blob.Exists(ctx, label, key)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return p.Blob.Put(ctx, label, key, data, contentType)
}

// generateDerivatives builds the viewing/ai/thumbnail set of step 7,
// skipping "ai" when the purpose isn't preservation or viewing. A
// generation failure for one derivative is fatal only to that derivative;
// the rest are still returned.
func (p *Pipeline) generateDerivatives(src image.Image, j job.Job) []derivative {
	var out []derivative

	if v, err := buildViewing(src); err != nil {
		p.Log.Warn("viewing derivative generation failed", obs.Err(err))
	} else {
		out = append(out, v)
	}

	if j.FilePurpose == "preservation" || j.FilePurpose == "viewing" {
		if ai, err := buildAI(src); err != nil {
			p.Log.Warn("ai derivative generation failed", obs.Err(err))
		} else {
			out = append(out, ai)
		}
	}

	thumbs, err := buildThumbnails(src)
	if err != nil {
		p.Log.Warn("thumbnail generation failed partway", obs.Err(err))
	}
	out = append(out, thumbs...)

	return out
}

// uploadDerivative uploads one derivative's bytes, guarded by
// SHARP_TIMEOUT_MS, and upserts its asset_versions row.
func (p *Pipeline) uploadDerivative(ctx context.Context, j job.Job, d derivative, key string) error {
	timeout := p.Cfg.SharpTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	label := blob.LabelStandard
	if err := p.uploadIfMissing(dctx, label, key, d.Data, "image/jpeg"); err != nil {
		p.sendDerivativeToDLQ(ctx, j, d.Variant, err)
		_ = p.Store.MarkAssetVersionFailed(ctx, j.AssetID, j.FilePurpose, d.Variant, d.Type, err.Error())
		return err
	}

	return p.Store.UpsertAssetVersion(ctx, store.AssetVersion{
		AssetID:     j.AssetID,
		Purpose:     j.FilePurpose,
		Variant:     d.Variant,
		Type:        d.Type,
		BucketLabel: string(label),
		Key:         key,
		Status:      "success",
		Width:       d.Width,
		Height:      d.Height,
		FileSize:    int64(len(d.Data)),
		MimeType:    "image/jpeg",
	})
}

// sendDerivativeToDLQ routes a per-derivative upload failure to the
// worker's DLQ and continues the pipeline (step 7).
func (p *Pipeline) sendDerivativeToDLQ(ctx context.Context, j job.Job, variant string, cause error) {
	if p.Queue == nil || p.DLQKey == "" {
		return
	}
	entry := queue.NewDLQEntry("machinist", fmt.Sprintf("derivative_upload_failed:%s: %v", variant, cause), &j)
	if err := p.Queue.PushRawDLQ(ctx, p.DLQKey, entry); err != nil {
		p.Log.Error("failed to push derivative failure to DLQ", obs.String("variant", variant), obs.Err(err))
	}
}

// writeManifest implements step 9: merge EXIF + system fields into a
// deterministic manifest.json and upload it to the files bucket.
func (p *Pipeline) writeManifest(ctx context.Context, j job.Job, exif exifGroups, meta imageMeta, originKeyStr string, originData []byte) (string, []byte, error) {
	sys := manifestSys{
		OriginalFormat: meta.Format,
		OriginalWidth:  meta.Width,
		OriginalHeight: meta.Height,
		OriginalSize:   len(originData),
		Checksum:       sha256Hex(originData),
	}
	m := buildManifest(j.AssetID, j.TenantID, j.BatchID, j.FilePurpose, exif, nil, sys, time.Now())
	data, err := marshalManifest(m)
	if err != nil {
		return "", nil, apperrors.NewSerialization(err)
	}

	key := manifestKey(j.TenantID, j.BatchID, j.AssetID)
	if err := p.Blob.Put(ctx, blob.LabelFiles, key, data, "application/json"); err != nil {
		return "", nil, err
	}
	return key, data, nil
}

// writeWorkFile stages bytes under the job's working directory so the
// preservation bundle (step 10) has real content to archive.
func writeWorkFile(workDir, name string, data []byte) error {
	return os.WriteFile(filepath.Join(workDir, name), data, 0o600)
}

// bundlePreservation implements step 10: deterministic gzip bundle of the
// working directory, size-guarded, checksummed, and recorded idempotently.
func (p *Pipeline) bundlePreservation(ctx context.Context, j job.Job, workDir string) (string, error) {
	existing, err := p.Store.GetAssetVersion(ctx, j.AssetID, "preservation", "preservation", "preservation")
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.Key, nil
	}

	bundle, err := bundleWorkDir(workDir)
	if err != nil {
		return "", err
	}

	maxBytes := p.Cfg.MaxArchiveBytes
	if maxBytes <= 0 {
		maxBytes = 2 * 1024 * 1024 * 1024
	}
	if err := checkArchiveSize(bundle, maxBytes); err != nil {
		return "", err
	}

	key := preservationBundleKey(j.TenantID, j.AssetID)
	if err := p.Blob.Put(ctx, blob.LabelArchive, key, bundle, "application/gzip"); err != nil {
		return "", err
	}

	if err := p.Store.UpsertAssetVersion(ctx, store.AssetVersion{
		AssetID:           j.AssetID,
		Purpose:           "preservation",
		Variant:           "preservation",
		Type:              "preservation",
		BucketLabel:       string(blob.LabelArchive),
		Key:               key,
		Status:            "success",
		FileSize:          int64(len(bundle)),
		Checksum:          sha256Hex(bundle),
		ChecksumAlgorithm: "sha256",
		MimeType:          "application/gzip",
	}); err != nil {
		return "", err
	}

	return key, nil
}
