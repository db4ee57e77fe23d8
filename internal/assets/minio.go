package assets

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig locates models in an S3-compatible bucket under <prefix>/<model>/<file>.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Region          string
	Bucket          string
	Prefix          string
}

// MinIOSource reads models from object storage.
type MinIOSource struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinIOSource creates a client for cfg. No request is made until a file is read.
func NewMinIOSource(cfg MinIOConfig) (*MinIOSource, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinIOSource{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *MinIOSource) key(model, file string) string {
	return path.Join(s.prefix, model, file)
}

func (s *MinIOSource) ReadFile(ctx context.Context, model, file string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(model, file), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get object stats: %w", err)
	}
	data := make([]byte, info.Size)
	if _, err := io.ReadFull(obj, data); err != nil {
		return nil, fmt.Errorf("failed to read object data: %w", err)
	}
	return data, nil
}

func (s *MinIOSource) Location(model string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, path.Join(s.prefix, model))
}
