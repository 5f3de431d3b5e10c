// Copyright 2025 James Ross
// Package blob wraps an S3-compatible object store for asset originals,
// derivatives, and preservation bundles.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"

	"github.com/archivault/workers/internal/apperrors"
	"github.com/archivault/workers/internal/config"
)

// Label names one of the named buckets a component writes into.
type Label string

const (
	LabelStandard Label = "standard" // originals + viewing/thumbnail derivatives
	LabelArchive  Label = "archive"  // preservation tar.gz bundles
	LabelFiles    Label = "files"    // jobgroup JSONL input/output files
)

// Client resolves a bucket label to a concrete bucket name and performs
// idempotent get/put/exists/delete against it, bounding concurrency across
// every call the process makes with a single semaphore.
type Client struct {
	s3       *s3.S3
	uploader *s3manager.Uploader
	buckets  map[Label]string
	sem      chan struct{}
	log      *zap.Logger
}

// New builds a Client from cfg.Blob. When cfg.Blob.Endpoint is set the
// client targets an S3-compatible endpoint (MinIO, etc.) in path-style mode
// instead of real AWS S3.
func New(cfg config.Blob, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}

	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, apperrors.NewStore("blob_session", false, err)
	}

	limit := cfg.ConcurrencyLimit
	if limit <= 0 {
		limit = 5
	}

	return &Client{
		s3:       s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		buckets: map[Label]string{
			LabelStandard: cfg.StandardBucket,
			LabelArchive:  cfg.ArchiveBucket,
			LabelFiles:    cfg.FilesBucket,
		},
		sem: make(chan struct{}, limit),
		log: log,
	}, nil
}

func (c *Client) bucket(label Label) (string, error) {
	b, ok := c.buckets[label]
	if !ok || b == "" {
		return "", apperrors.NewValidation("UNKNOWN_BUCKET_LABEL", "bucket_label", fmt.Sprintf("no bucket configured for label %q", label))
	}
	return b, nil
}

func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() { <-c.sem }

// Exists reports whether key is present in the bucket named by label.
func (c *Client) Exists(ctx context.Context, label Label, key string) (bool, error) {
	bucket, err := c.bucket(label)
	if err != nil {
		return false, err
	}
	if err := c.acquire(ctx); err != nil {
		return false, err
	}
	defer c.release()

	_, err = c.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, apperrors.NewStore("blob_head", true, err)
	}
	return true, nil
}

// Put uploads data to key unless it already exists, making repeated calls
// from a retried job idempotent and cheap on a warm cache.
func (c *Client) Put(ctx context.Context, label Label, key string, data []byte, contentType string) error {
	exists, err := c.Exists(ctx, label, key)
	if err != nil {
		return err
	}
	if exists {
		c.log.Debug("blob already present, skipping upload", zap.String("key", key))
		return nil
	}

	bucket, err := c.bucket(label)
	if err != nil {
		return err
	}
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	input := &s3manager.UploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}
	if _, err := c.uploader.UploadWithContext(ctx, input); err != nil {
		return apperrors.NewStore("blob_put", true, err)
	}
	c.log.Info("blob uploaded", zap.String("key", key), zap.Int("size_bytes", len(data)))
	return nil
}

// Get retrieves the object at key from the bucket named by label.
func (c *Client) Get(ctx context.Context, label Label, key string) ([]byte, error) {
	bucket, err := c.bucket(label)
	if err != nil {
		return nil, err
	}
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	out, err := c.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, apperrors.NewStore("blob_get", true, err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return nil, apperrors.NewStore("blob_get_read", true, err)
	}
	return buf.Bytes(), nil
}

// Delete removes key from the bucket named by label.
func (c *Client) Delete(ctx context.Context, label Label, key string) error {
	bucket, err := c.bucket(label)
	if err != nil {
		return err
	}
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	_, err = c.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return apperrors.NewStore("blob_delete", true, err)
	}
	return nil
}

func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		return aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound"
	}
	return false
}
