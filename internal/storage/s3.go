package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrNotConfigured = errors.New("object storage not configured")

// maxPresign is the longest expiry S3 accepts for a presigned GET.
const maxPresign = 7 * 24 * time.Hour

type S3Storage struct {
	client *minio.Client
	bucket string
	region string
}

func NewS3Storage(cfg config.StorageConfig) (*S3Storage, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	return &S3Storage{client: cl, bucket: cfg.Bucket, region: cfg.Region}, nil
}

// EnsureBucket creates the attachment bucket when it does not exist yet.
func (s *S3Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
}

// Upload writes body under path. Objects are private; readers get signed URLs.
func (s *S3Storage) Upload(ctx context.Context, path string, body io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, path, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

// Sign returns a time-limited GET URL for path.
func (s *S3Storage) Sign(ctx context.Context, path string, ttl time.Duration) (string, error) {
	ttl = clampTTL(ttl)
	params := url.Values{}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, path, ttl, params)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < time.Second {
		return time.Second
	}
	if ttl > maxPresign {
		return maxPresign
	}
	return ttl
}
