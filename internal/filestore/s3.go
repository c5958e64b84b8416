package filestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config holds connection settings for an S3-compatible object store.
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// S3 stores archives in an S3-compatible bucket.
type S3 struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewS3 connects to the object store and ensures the bucket exists.
func NewS3(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("Bucket created", slog.String("bucket", cfg.Bucket))
	}

	return &S3{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Write uploads data under filePath as the object key.
func (s *S3) Write(ctx context.Context, filePath string, data []byte) (int64, error) {
	info, err := s.client.PutObject(ctx, s.bucket, filePath, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/zip",
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upload archive: %w", err)
	}

	s.logger.Info("Archive uploaded",
		slog.String("bucket", s.bucket),
		slog.String("key", filePath),
		slog.Int64("size", info.Size),
	)

	return info.Size, nil
}

// Open streams a stored archive back.
func (s *S3) Open(ctx context.Context, filePath string) (io.ReadCloser, int64, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, filePath, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch archive: %w", err)
	}

	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, 0, fmt.Errorf("failed to stat archive: %w", err)
	}

	return obj, stat.Size, nil
}
