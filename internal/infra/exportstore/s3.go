package exportstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/cardiopredict/riskdash/internal/domain/prediction"
)

// S3Storage archives export blobs in an S3-compatible bucket (R2, MinIO, S3).
type S3Storage struct {
	client *minio.Client
	bucket string
	logger *slog.Logger

	mu          sync.Mutex
	bucketReady bool
}

// NewS3Storage constructs the archive. endpoint may carry a scheme; https
// selects TLS.
func NewS3Storage(endpoint, accessKey, secretKey, bucket, region string, logger *slog.Logger) (*S3Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("export bucket is required")
	}
	useSSL := strings.HasPrefix(strings.ToLower(strings.TrimSpace(endpoint)), "https")
	client, err := minio.New(sanitizeEndpoint(endpoint), &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       useSSL,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("init export archive client: %w", err)
	}
	return &S3Storage{client: client, bucket: bucket, logger: logger.With("component", "exportstore.s3")}, nil
}

func (s *S3Storage) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bucketReady {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err == nil && exists {
		s.bucketReady = true
		return nil
	}
	err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
		return fmt.Errorf("create export bucket: %w", err)
	}
	s.logger.Info("export bucket ready", "bucket", s.bucket)
	s.bucketReady = true
	return nil
}

// Put uploads one export blob as a single-part object.
func (s *S3Storage) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:      contentType,
		DisableMultipart: true,
	})
	if err != nil {
		return fmt.Errorf("upload export %s: %w", key, err)
	}
	return nil
}

var _ prediction.ExportArchive = (*S3Storage)(nil)

// sanitizeEndpoint strips scheme and path, leaving host[:port] for minio.New.
func sanitizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")
	if i := strings.Index(raw, "/"); i >= 0 {
		raw = raw[:i]
	}
	return raw
}
