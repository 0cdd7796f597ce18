package minio

import (
	"context"
	"fmt"
	"time"

	"smallbiznis-loyalty/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Client provides the object store that ledger statement exports are written to.
var Client = fx.Module("minio.client", fx.Provide(registerClient))

func registerClient(c *config.Config) (*minio.Client, error) {
	client, err := minio.New(c.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
		Secure: c.Minio.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := EnsureBucket(ctx, client, c.Minio.BucketName); err != nil {
		return nil, err
	}

	zap.L().Info("MinIO client initialized",
		zap.String("endpoint", c.Minio.Endpoint),
		zap.String("bucket", c.Minio.BucketName))
	return client, nil
}

// Bucket is the subset of the MinIO API EnsureBucket needs.
type Bucket interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

// EnsureBucket creates the export bucket on first start.
func EnsureBucket(ctx context.Context, b Bucket, name string) error {
	if name == "" {
		return fmt.Errorf("minio: MINIO.BUCKET_NAME is empty")
	}

	exists, err := b.BucketExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", name, err)
	}
	if exists {
		return nil
	}

	if err := b.MakeBucket(ctx, name, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %q: %w", name, err)
	}
	zap.L().Info("created statement bucket", zap.String("bucket", name))
	return nil
}
