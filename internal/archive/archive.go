// Package archive stores raw source pages in an S3-compatible bucket.
//
// Pages are snappy-compressed and keyed {entity}/{date}/{offset}.json.sz so a
// partition can be replayed without hitting the source again.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/golang/snappy"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/leapstack-labs/stridesync/pkg/core"
)

// Config holds the bucket connection settings.
type Config struct {
	Enabled   bool   `koanf:"enabled"`
	Endpoint  string `koanf:"endpoint" validate:"required_if=Enabled true"`
	Bucket    string `koanf:"bucket" validate:"required_if=Enabled true"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	UseSSL    bool   `koanf:"use_ssl"`
}

// ObjectPutter is the subset of the minio client used for writes.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archiver writes compressed pages to one bucket.
type Archiver struct {
	client ObjectPutter
	bucket string
	logger *slog.Logger
}

// New wraps an existing client.
func New(client ObjectPutter, bucket string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Archiver{client: client, bucket: bucket, logger: logger}
}

// Open connects to the endpoint and creates the bucket if it is missing.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Archiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create archive client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check archive bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create archive bucket: %w", err)
		}
	}
	return New(client, cfg.Bucket, logger), nil
}

// Key returns the object key of a page.
func Key(entity core.Entity, date core.Partition, offset int) string {
	return string(entity) + "/" + date.String() + "/" + strconv.Itoa(offset) + ".json.sz"
}

// Archive compresses body and stores it under the page key.
func (a *Archiver) Archive(ctx context.Context, entity core.Entity, date core.Partition, offset int, body []byte) error {
	key := Key(entity, date, offset)
	compressed := snappy.Encode(nil, body)

	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(compressed), int64(len(compressed)), minio.PutObjectOptions{
		ContentType:     "application/json",
		ContentEncoding: "snappy",
		UserMetadata: map[string]string{
			"entity": string(entity),
			"date":   date.String(),
			"offset": strconv.Itoa(offset),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", key, err)
	}
	a.logger.Debug("archived page",
		slog.String("key", key),
		slog.Int("raw_bytes", len(body)),
		slog.Int("stored_bytes", len(compressed)))
	return nil
}

// Decode reverses the page compression.
func Decode(stored []byte) ([]byte, error) {
	return snappy.Decode(nil, stored)
}
