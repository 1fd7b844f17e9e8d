// Package s3 downloads Enfuser archives from an S3 compatible object store.
package s3

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/DigitalGeographyLab/hope-graph-updater/internal/config"
)

// Store reads objects from a single bucket.
type Store struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewStore creates a Store from the ENFUSER_S3_* settings. Without an access
// key the client makes anonymous requests.
func NewStore(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		Secure: cfg.S3SSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &Store{client: client, bucket: cfg.S3Bucket, logger: logger}, nil
}

// Download writes the object at key to dest.
func (s *Store) Download(ctx context.Context, key, dest string) error {
	start := time.Now()
	if err := s.client.FGetObject(ctx, s.bucket, key, dest, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("download s3://%s/%s: %w", s.bucket, key, err)
	}
	s.logger.Info("downloaded archive", "bucket", s.bucket, "key", key, "dest", dest, "duration", time.Since(start))
	return nil
}
