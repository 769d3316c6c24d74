// Package archive copies completed runs to S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kalambet/strokeinsight/internal/storage"
)

// Config holds the object storage settings.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Enabled reports whether an endpoint is configured.
func (c Config) Enabled() bool { return c.Endpoint != "" }

// objectClient is the subset of *minio.Client the archiver uses.
type objectClient interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archiver writes runs as zstd-compressed JSON objects.
type Archiver struct {
	client objectClient
	bucket string
}

// New creates an Archiver for cfg.
func New(cfg Config) (*Archiver, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("archive endpoint is not configured")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is not configured")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object storage client: %w", err)
	}
	return &Archiver{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	ok, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", a.bucket, err)
	}
	if ok {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", a.bucket, err)
	}
	return nil
}

// Archive uploads run under ObjectKey(run).
func (a *Archiver) Archive(ctx context.Context, run storage.Run) error {
	payload, err := Encode(run)
	if err != nil {
		return err
	}
	_, err = a.client.PutObject(ctx, a.bucket, ObjectKey(run), bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json", ContentEncoding: "zstd"})
	if err != nil {
		return fmt.Errorf("uploading run %s: %w", run.ID, err)
	}
	return nil
}

// ObjectKey names the object a run is stored under.
func ObjectKey(run storage.Run) string {
	ts := strings.ReplaceAll(run.Key(), ":", "")
	return "runs/" + ts + "-" + run.ID + ".json.zst"
}

// Encode serializes a run as zstd-compressed JSON.
func Encode(run storage.Run) ([]byte, error) {
	raw, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("encoding run: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// Decode reverses Encode.
func Decode(data []byte) (storage.Run, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return storage.Run{}, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return storage.Run{}, fmt.Errorf("decompressing run: %w", err)
	}
	var run storage.Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return storage.Run{}, fmt.Errorf("decoding run: %w", err)
	}
	return run, nil
}
