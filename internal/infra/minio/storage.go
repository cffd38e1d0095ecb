package minio

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/clevotec/transcriptionstream/internal/domain/port"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Storage reads recordings from the uploads bucket and writes detection
// results to the results bucket.
type Storage struct {
	client        *miniogo.Client
	uploadBucket  string
	resultsBucket string
}

type StorageConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	UploadBucket  string
	ResultsBucket string
}

func NewStorage(cfg StorageConfig) (*Storage, error) {
	if cfg.UploadBucket == "" || cfg.ResultsBucket == "" {
		return nil, errors.New("minio: upload and results buckets are required")
	}

	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Storage{client: client, uploadBucket: cfg.UploadBucket, resultsBucket: cfg.ResultsBucket}, nil
}

// EnsureBuckets creates the uploads and results buckets when missing.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	buckets := []string{s.uploadBucket}
	if s.resultsBucket != s.uploadBucket {
		buckets = append(buckets, s.resultsBucket)
	}
	for _, bucket := range buckets {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if exists {
			continue
		}
		if err := s.client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// FetchVideo copies the recording at key to destPath. A missing key wraps
// port.ErrObjectNotFound.
func (s *Storage) FetchVideo(ctx context.Context, key, destPath string) error {
	err := s.client.FGetObject(ctx, s.uploadBucket, key, destPath, miniogo.GetObjectOptions{})
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return fmt.Errorf("fetch %s/%s: %w", s.uploadBucket, key, port.ErrObjectNotFound)
	}
	return fmt.Errorf("fetch %s/%s: %w", s.uploadBucket, key, err)
}

func (s *Storage) StoreResult(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	info, err := s.client.PutObject(ctx, s.resultsBucket, key, body, size, miniogo.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("store %s/%s: %w", s.resultsBucket, key, err)
	}
	if size >= 0 && info.Size != size {
		return fmt.Errorf("store %s/%s: wrote %d of %d bytes", s.resultsBucket, key, info.Size, size)
	}
	return nil
}

func isNotFound(err error) bool {
	switch miniogo.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return true
	}
	return false
}
