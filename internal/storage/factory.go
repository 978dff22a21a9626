package storage

import (
	"context"
	"fmt"

	"nassync/internal/config"
	"nassync/internal/sync"
)

// NewStoreFromConfig builds an ObjectStore from configuration.
func NewStoreFromConfig(ctx context.Context, cfg config.StorageConfig, logger sync.Logger) (sync.ObjectStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(cfg.Bucket), nil
	case "s3", "":
		return NewS3Store(ctx, S3Options{
			Bucket:             cfg.Bucket,
			Prefix:             cfg.Prefix,
			Region:             cfg.Region,
			Endpoint:           cfg.Endpoint,
			AccessKey:          cfg.AccessKey,
			SecretKey:          cfg.SecretKey,
			MultipartThreshold: cfg.MultipartThreshold,
			Concurrency:        cfg.Concurrency,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
